package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsByMethodAndCode(t *testing.T) {
	Init()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/crawl/{job_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/crawl", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/crawl/abc123")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	resp, err = http.Post(ts.URL+"/crawl", "application/json", nil)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	require.Equal(t, 1.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "202")))

	// Durations are labeled by the chi route pattern, not the raw path.
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds, "http_request_duration_seconds"))
}
