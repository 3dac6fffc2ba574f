package clientip

import (
	"net"
	"net/http"
	"strings"
)

// Common proxy headers, in the order they are usually trusted.
const (
	HeaderCloudflare   = "CF-Connecting-IP"
	HeaderForwardedFor = "X-Forwarded-For"
	HeaderRealIP       = "X-Real-IP"
)

// FromRequest returns the client IP. Headers are consulted in order and
// only when listed; X-Forwarded-For yields its first valid entry. The
// connection address is the fallback. Invalid values are skipped, and an
// empty string means no valid address was found.
func FromRequest(r *http.Request, trusted ...string) string {
	for _, h := range trusted {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		if strings.EqualFold(h, HeaderForwardedFor) {
			for part := range strings.SplitSeq(v, ",") {
				if ip := normalize(part); ip != "" {
					return ip
				}
			}
			continue
		}
		if ip := normalize(v); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return normalize(r.RemoteAddr)
	}
	return normalize(host)
}

// Source returns FromRequest bound to trusted headers, for use as a
// throttling key.
func Source(trusted ...string) func(r *http.Request) string {
	headers := append([]string(nil), trusted...)
	return func(r *http.Request) string {
		return FromRequest(r, headers...)
	}
}

func normalize(raw string) string {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return ""
	}
	return ip.String()
}
