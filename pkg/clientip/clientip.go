package clientip

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// DefaultHeaders is the proxy header order used when none is configured.
var DefaultHeaders = []string{"CF-Connecting-IP", "X-Forwarded-For", "X-Real-IP"}

// Resolver picks the client address of a request. Headers are consulted in
// order; the first one holding a valid address wins, and RemoteAddr is the
// fallback. Only list headers that your edge proxy overwrites, since clients
// can set any of them.
type Resolver struct {
	headers []string
}

// NewResolver returns a resolver trusting the given headers. No headers
// means only RemoteAddr is trusted.
func NewResolver(headers ...string) *Resolver {
	return &Resolver{headers: headers}
}

var defaultResolver = NewResolver(DefaultHeaders...)

// GetIP resolves the client address with DefaultHeaders.
func GetIP(r *http.Request) string {
	return defaultResolver.IP(r)
}

// IP returns the normalized client address or "" when none is valid.
func (res *Resolver) IP(r *http.Request) string {
	for _, h := range res.headers {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		// X-Forwarded-For lists the client first.
		for part := range strings.SplitSeq(v, ",") {
			if ip := parseIP(part); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return parseIP(r.RemoteAddr)
	}
	return parseIP(host)
}

func parseIP(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil || addr.Zone() != "" {
		return ""
	}
	return addr.Unmap().String()
}
