package otel

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"alertreminder/pkg/metrics"
	pkgtrace "alertreminder/pkg/trace"
)

// GinMiddleware Gin 的追踪中间件：提取上游 trace context、生成 trace_id、记录请求耗时
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		traceID := c.GetHeader(pkgtrace.HeaderName)
		if traceID == "" {
			traceID = pkgtrace.GenerateTraceID()
		}
		ctx = pkgtrace.WithContext(ctx, traceID)
		c.Header(pkgtrace.HeaderName, traceID)

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ctx, span := Tracer().Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Request.Method),
				attribute.String("http.route", route),
				attribute.String("trace_id", traceID),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, "HTTP "+strconv.Itoa(status))
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, route, strconv.Itoa(status), time.Since(start))
	}
}
