package clientip_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/authzkit/pkg/clientip"
)

func TestGetIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "remote addr", remote: "203.0.113.7:5123", want: "203.0.113.7"},
		{name: "remote addr without port", remote: "203.0.113.7", want: "203.0.113.7"},
		{name: "cloudflare wins", headers: map[string]string{"CF-Connecting-IP": "198.51.100.1", "X-Forwarded-For": "198.51.100.2"}, remote: "10.0.0.1:80", want: "198.51.100.1"},
		{name: "first forwarded address", headers: map[string]string{"X-Forwarded-For": "198.51.100.2, 10.0.0.3"}, remote: "10.0.0.1:80", want: "198.51.100.2"},
		{name: "skips garbage in forwarded list", headers: map[string]string{"X-Forwarded-For": "unknown, 198.51.100.9"}, remote: "10.0.0.1:80", want: "198.51.100.9"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.4"}, remote: "10.0.0.1:80", want: "198.51.100.4"},
		{name: "invalid header falls back", headers: map[string]string{"X-Real-IP": "<script>"}, remote: "10.0.0.1:80", want: "10.0.0.1"},
		{name: "ipv6 normalized", remote: "[2001:DB8::1]:443", want: "2001:db8::1"},
		{name: "mapped ipv4 unmapped", headers: map[string]string{"X-Real-IP": "::ffff:192.0.2.1"}, want: "192.0.2.1"},
		{name: "zoned address rejected", headers: map[string]string{"X-Real-IP": "fe80::1%eth0"}, remote: "10.0.0.1:80", want: "10.0.0.1"},
		{name: "nothing valid", remote: "not-an-ip", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientip.GetIP(r))
		})
	}
}

func TestResolverTrustsOnlyConfiguredHeaders(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:80"
	r.Header.Set("CF-Connecting-IP", "198.51.100.1")
	r.Header.Set("X-Forwarded-For", "198.51.100.2")

	assert.Equal(t, "198.51.100.2", clientip.NewResolver("X-Forwarded-For").IP(r))
	assert.Equal(t, "10.0.0.1", clientip.NewResolver().IP(r))
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	var got string
	handler := clientip.NewResolver("X-Real-IP").Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = clientip.GetIPFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Real-IP", "198.51.100.4")
	handler.ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, "198.51.100.4", got)
}

func TestExtractors(t *testing.T) {
	t.Parallel()

	ctx := clientip.SetIPToContext(context.Background(), "192.0.2.10")

	ip, ok := clientip.Extractor()(ctx)
	assert.True(t, ok)
	assert.Equal(t, "192.0.2.10", ip)

	attr, ok := clientip.LoggerExtractor()(ctx)
	require.True(t, ok)
	assert.Equal(t, "client_ip", attr.Key)

	_, ok = clientip.Extractor()(context.Background())
	assert.False(t, ok)
	assert.Empty(t, clientip.GetIPFromContext(context.Background()))
}
