package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian-sync/internal/infrastructure/logging"
)

func TestStartSpanGeneratesIdentity(t *testing.T) {
	tracer := New("syncd", logging.NewNop())

	span, ctx := tracer.StartSpan(context.Background(), "workspace.items")
	require.NotEmpty(t, span.TraceID)
	require.NotEmpty(t, span.SpanID)
	assert.Empty(t, span.ParentID)
	assert.Equal(t, span.TraceID, GetTraceID(ctx))
	assert.Equal(t, span.SpanID, GetSpanID(ctx))
}

func TestChildSpanInheritsTrace(t *testing.T) {
	tracer := New("syncd", logging.NewNop())

	parent, ctx := tracer.StartSpan(context.Background(), "mirror.export")
	child, _ := tracer.StartSpan(ctx, "mirror.snapshot")

	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)
	assert.NotEqual(t, parent.SpanID, child.SpanID)
}

func TestHTTPMiddlewareEchoesTraceHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer := New("syncd", logging.NewNop())

	router := gin.New()
	router.Use(HTTPMiddleware(tracer))
	router.GET("/api/session", func(c *gin.Context) {
		assert.Equal(t, TraceID("req_upstream"), GetTraceID(c.Request.Context()))
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("X-Trace-ID", "req_upstream")
	router.ServeHTTP(w, req)

	assert.Equal(t, "req_upstream", w.Header().Get("X-Trace-ID"))
	assert.NotEmpty(t, w.Header().Get("X-Span-ID"))
}
