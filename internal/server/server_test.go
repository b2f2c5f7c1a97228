package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m1k1o/localwatch/internal/config"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestRoutes(t *testing.T) {
	s := New(&config.Server{Metrics: true, PProf: true})
	s.Mount(func(r *chi.Mux) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			//nolint
			_, _ = w.Write([]byte("pong"))
		})
		r.Get("/panic", func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})
	})

	code, body := get(t, s.Handler(), "/ping")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pong", body)

	code, body = get(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "go_goroutines")

	code, _ = get(t, s.Handler(), "/debug/pprof/")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, s.Handler(), "/panic")
	assert.Equal(t, http.StatusInternalServerError, code)

	code, body = get(t, s.Handler(), "/missing")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "404", body)
}

func TestMetricsDisabled(t *testing.T) {
	s := New(&config.Server{})

	code, _ := get(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusNotFound, code)
}
