package logger

import (
	"log/slog"
	"time"
)

// Error records err under "error". Returns an empty Attr for nil.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// TenantID records the tenant identifier under "tenant_id".
func TenantID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("tenant_id", id)
}

// RequestID records the request identifier under "request_id".
// Empty ids produce an empty Attr.
func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

func OrderRef(ref string) slog.Attr { return slog.String("order_ref", ref) }

func PaymentRef(ref string) slog.Attr { return slog.String("payment_ref", ref) }

func EventID(id string) slog.Attr { return slog.String("event_id", id) }

func EventType(eventType string) slog.Attr { return slog.String("event_type", eventType) }

func Tier(name string) slog.Attr { return slog.String("tier", name) }

// Window records the rate-limit window name under "window".
func Window(name string) slog.Attr { return slog.String("window", name) }

// Source records the client identity used by auth throttling under "source".
func Source(source string) slog.Attr { return slog.String("source", source) }

func RetryCount(count int) slog.Attr { return slog.Int("retry_count", count) }

func Duration(d time.Duration) slog.Attr { return slog.Duration("duration", d) }

func Component(name string) slog.Attr { return slog.String("component", name) }

func Event(name string) slog.Attr { return slog.String("event", name) }
