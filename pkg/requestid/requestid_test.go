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

	"github.com/dmitrymomot/saasbilling/pkg/requestid"
)

func TestMiddleware(t *testing.T) {
	t.Parallel()

	capture := func(seen *string) http.Handler {
		return requestid.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*seen = requestid.FromContext(r.Context())
		}))
	}

	t.Run("generates id when header missing", func(t *testing.T) {
		t.Parallel()
		var seen string
		rec := httptest.NewRecorder()
		capture(&seen).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		_, err := uuid.Parse(seen)
		require.NoError(t, err)
		assert.Equal(t, seen, rec.Header().Get(requestid.Header))
	})

	t.Run("reuses valid client id", func(t *testing.T) {
		t.Parallel()
		var seen string
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestid.Header, "client-id_1")
		capture(&seen).ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, "client-id_1", seen)
	})

	t.Run("replaces malformed client id", func(t *testing.T) {
		t.Parallel()
		for _, bad := range []string{"has space", strings.Repeat("a", 129), "semi;colon"} {
			var seen string
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(requestid.Header, bad)
			capture(&seen).ServeHTTP(httptest.NewRecorder(), req)
			assert.NotEqual(t, bad, seen)
			assert.NotEmpty(t, seen)
		}
	})
}

func TestLoggerExtractor(t *testing.T) {
	t.Parallel()

	ex := requestid.LoggerExtractor()

	_, ok := ex(context.Background())
	assert.False(t, ok)

	attr, ok := ex(requestid.WithContext(context.Background(), "abc"))
	require.True(t, ok)
	assert.Equal(t, "request_id", attr.Key)
	assert.Equal(t, "abc", attr.Value.String())
}
