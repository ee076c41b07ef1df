package tracing

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func spanAttr(attrs []attribute.KeyValue, key string) string {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.Emit()
		}
	}
	return ""
}

func TestGinMiddlewareClassifiesClientErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := recordSpans(t)

	router := gin.New()
	router.Use(GinMiddleware(func(error) (string, string) { return "conflict", "username_already_taken" }))
	router.POST("/api/v1/entrance/signup", func(c *gin.Context) {
		_ = c.Error(errors.New("taken"))
		c.Status(http.StatusConflict)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/entrance/signup", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "HTTP POST /api/v1/entrance/signup", span.Name())
	assert.Equal(t, "username_already_taken", spanAttr(span.Attributes(), "error.code"))
	assert.Equal(t, "409", spanAttr(span.Attributes(), "http.status_code"))
	assert.NotEqual(t, codes.Error, span.Status().Code)
}

func TestGinMiddlewareMarksServerErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := recordSpans(t)

	router := gin.New()
	router.Use(GinMiddleware(nil))
	router.GET("/boom", func(c *gin.Context) {
		_ = c.Error(errors.New("db down"))
		c.Status(http.StatusInternalServerError)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Len(t, spans[0].Events(), 1)
}
