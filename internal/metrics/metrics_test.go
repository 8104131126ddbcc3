package metrics

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestStatusBucket(t *testing.T) {
	cases := map[int]string{
		100: "1xx",
		204: "2xx",
		302: "3xx",
		403: "4xx",
		503: "5xx",
		0:   "other",
		700: "other",
	}
	for code, want := range cases {
		assert.Equal(t, want, statusBucket(code), "code %d", code)
	}
}

func TestMiddleware_LabelsRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/ads/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := counterValue(t, HTTPRequestsTotal.WithLabelValues("GET", "/v1/ads/:id", "2xx"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/ads/ad_1", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/ads/ad_2", nil))
	assert.Equal(t, before+2, counterValue(t, HTTPRequestsTotal.WithLabelValues("GET", "/v1/ads/:id", "2xx")))

	missBefore := counterValue(t, HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "4xx"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, missBefore+1, counterValue(t, HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "4xx")))
}

func TestHandler_ExposesDomainMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	AccessDecisionsTotal.WithLabelValues("allowed", "new_view").Inc()
	AdsExpiredTotal.Add(0)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `jobads_access_decisions_total{decision="allowed",reason="new_view"}`)
	assert.Contains(t, body, "jobads_ads_expired_total")
	assert.Contains(t, body, "jobads_active_websocket_clients")
}

func TestRegisterDB_Idempotent(t *testing.T) {
	db, err := sql.Open("postgres", "postgres://localhost/unused?sslmode=disable")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, RegisterDB(db))
	assert.NoError(t, RegisterDB(db))
}
