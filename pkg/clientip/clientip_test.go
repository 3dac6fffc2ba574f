package clientip_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/quotakit/pkg/clientip"
)

func TestFromRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trusted    []string
		want       string
	}{
		{
			name:       "remote addr",
			remoteAddr: "203.0.113.7:5123",
			want:       "203.0.113.7",
		},
		{
			name:       "untrusted headers are ignored",
			remoteAddr: "203.0.113.7:5123",
			headers:    map[string]string{clientip.HeaderForwardedFor: "198.51.100.1"},
			want:       "203.0.113.7",
		},
		{
			name:       "first valid forwarded entry",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{clientip.HeaderForwardedFor: "garbage, 198.51.100.1, 10.0.0.2"},
			trusted:    []string{clientip.HeaderForwardedFor},
			want:       "198.51.100.1",
		},
		{
			name:       "header order wins",
			remoteAddr: "10.0.0.1:80",
			headers: map[string]string{
				clientip.HeaderCloudflare: "198.51.100.9",
				clientip.HeaderRealIP:     "198.51.100.2",
			},
			trusted: []string{clientip.HeaderCloudflare, clientip.HeaderRealIP},
			want:    "198.51.100.9",
		},
		{
			name:       "invalid header falls through",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{clientip.HeaderRealIP: "not-an-ip"},
			trusted:    []string{clientip.HeaderRealIP},
			want:       "10.0.0.1",
		},
		{
			name:       "ipv6 is normalised",
			remoteAddr: "[2001:0db8:0000:0000:0000:0000:0000:0001]:443",
			want:       "2001:db8::1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.0.2.4",
			want:       "192.0.2.4",
		},
		{
			name:       "nothing valid",
			remoteAddr: "unix",
			want:       "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientip.FromRequest(r, tt.trusted...))
			assert.Equal(t, tt.want, clientip.Source(tt.trusted...)(r))
		})
	}
}
