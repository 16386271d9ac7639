package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	tu "parcelflow/internal/testutil"
)

func TestObservability_UsesRoutePatternForLabels(t *testing.T) {
	t.Parallel()

	m := NewHTTPMetrics()
	rec := tu.NewRecorder()

	r := chi.NewRouter()
	r.Use(Observability(rec.Logger(), m))
	r.Get("/deliveries/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, id := range []string{"a", "b"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/deliveries/"+id, nil))
		require.Equal(t, http.StatusNoContent, w.Code)
	}

	require.Equal(t, float64(2), testutil.ToFloat64(m.Requests.WithLabelValues(http.MethodGet, "/deliveries/{id}", "204")))
	require.Equal(t, uint64(2), histogramCount(t, m.Duration, http.MethodGet, "/deliveries/{id}", "204"))

	logged := rec.Find("info", "http request")
	require.Len(t, logged, 2)
	path, _ := logged[0].Field("path")
	require.Equal(t, "/deliveries/{id}", path)
}

func TestObservability_UnmatchedRouteFallsBackToURLPath(t *testing.T) {
	t.Parallel()

	m := NewHTTPMetrics()
	h := Observability(nil, m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/raw", nil))

	require.Equal(t, float64(1), testutil.ToFloat64(m.Requests.WithLabelValues(http.MethodPost, "/raw", "418")))
}

func TestHTTPMetrics_Register(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	for _, c := range NewHTTPMetrics().Collectors() {
		require.NoError(t, reg.Register(c))
	}
}

func histogramCount(t *testing.T, hv *prometheus.HistogramVec, method, path, status string) uint64 {
	t.Helper()

	obs, err := hv.GetMetricWithLabelValues(method, path, status)
	require.NoError(t, err)

	metric, ok := obs.(prometheus.Metric)
	require.True(t, ok, "must implement prometheus.Metric")

	m := &dto.Metric{}
	require.NoError(t, metric.Write(m))

	h := m.GetHistogram()
	require.NotNil(t, h)
	return h.GetSampleCount()
}
