package logger

import (
	"log/slog"
	"strconv"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Error records err under the key "error". A nil error yields an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Errors groups non-nil errors under the key "errors".
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// TenantID records the tenant identifier under "tenant_id".
func TenantID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("tenant_id", id)
}

// PrincipalID records the principal identifier under "principal_id".
func PrincipalID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("principal_id", id)
}

// RoleID records the role identifier under "role_id".
func RoleID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("role_id", id)
}

// RequestID records the request identifier under "request_id".
func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

// Permission tags the checked permission key.
func Permission(key string) slog.Attr {
	return slog.String("permission", key)
}

// Decision tags an allow or deny outcome.
func Decision(d string) slog.Attr {
	return slog.String("decision", d)
}

// Reason tags a short machine-readable cause.
func Reason(r string) slog.Attr {
	return slog.String("reason", r)
}

// Action tags an audit action.
func Action(a string) slog.Attr {
	return slog.String("action", a)
}

// Component records the emitting component under "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}
