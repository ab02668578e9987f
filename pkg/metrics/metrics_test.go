package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/pkg/metrics"
)

func TestMiddleware(t *testing.T) {
	t.Parallel()

	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/stream", func(w http.ResponseWriter, r *http.Request) {
		_, ok := w.(http.Flusher)
		assert.True(t, ok, "writer must stay flushable")
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metrics.Handler())

	t.Run("passes status through", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	})

	t.Run("keeps flusher", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("exposes route pattern label", func(t *testing.T) {
		metrics.ObserveUsage("generation", metrics.OutcomeRecorded)

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		body, err := io.ReadAll(rec.Body)
		require.NoError(t, err)
		text := string(body)
		assert.True(t, strings.Contains(text, `path="/items/{id}"`))
		assert.True(t, strings.Contains(text, `saasbilling_usage_events_total{action="generation",outcome="recorded"}`))
	})
}
