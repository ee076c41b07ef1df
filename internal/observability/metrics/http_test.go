package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGinMiddlewareCountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	m, err := NewHTTPMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	router := gin.New()
	router.Use(GinMiddleware(m))
	router.POST("/api/v1/entrance/signup", func(c *gin.Context) {
		c.Status(http.StatusConflict)
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/entrance/signup", nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	count := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodPost, "/api/v1/entrance/signup", "409"))
	assert.Equal(t, float64(2), count)
}

func TestNewHTTPMetricsRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := NewHTTPMetrics(reg)
	require.NoError(t, err)

	_, err = NewHTTPMetrics(reg)
	assert.Error(t, err)
}
