package requestid_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/authzkit/pkg/requestid"
)

func serve(t *testing.T, header string) (seen, echoed string) {
	t.Helper()
	handler := requestid.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestid.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(requestid.Header, header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	return seen, rec.Header().Get(requestid.Header)
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{name: "missing", header: "", keep: false},
		{name: "well formed", header: "req_2026-abc", keep: true},
		{name: "max length", header: strings.Repeat("a", 128), keep: true},
		{name: "too long", header: strings.Repeat("a", 129), keep: false},
		{name: "injection", header: "id\r\nX-Admin: 1", keep: false},
		{name: "spaces", header: "a b", keep: false},
		{name: "unicode", header: "идентификатор", keep: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			seen, echoed := serve(t, tt.header)
			assert.Equal(t, seen, echoed)
			if tt.keep {
				assert.Equal(t, tt.header, seen)
				return
			}
			_, err := uuid.Parse(seen)
			assert.NoError(t, err, "replacement must be a uuid")
		})
	}
}

func TestGeneratedIDsDiffer(t *testing.T) {
	t.Parallel()
	a, _ := serve(t, "")
	b, _ := serve(t, "")
	assert.NotEqual(t, a, b)
}

func TestFromContext(t *testing.T) {
	t.Parallel()
	assert.Empty(t, requestid.FromContext(context.Background()))
	assert.Empty(t, requestid.FromContext(nil)) //nolint:staticcheck // nil context is handled
	assert.Equal(t, "x", requestid.FromContext(requestid.WithContext(context.Background(), "x")))
}

func TestExtractors(t *testing.T) {
	t.Parallel()
	ctx := requestid.WithContext(context.Background(), "req-1")

	attr, ok := requestid.LoggerExtractor()(ctx)
	require.True(t, ok)
	assert.Equal(t, "request_id", attr.Key)
	assert.Equal(t, "req-1", attr.Value.String())

	id, ok := requestid.Extractor()(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)

	_, ok = requestid.Extractor()(context.Background())
	assert.False(t, ok)
}
