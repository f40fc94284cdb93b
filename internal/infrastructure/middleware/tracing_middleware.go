package middleware

import (
	"peerlink/pkg/errors"
	"peerlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingMiddleware opens one span per signaling request. A registration
// span carries the requested peer id and, when refused, the error code.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracing.StartSpan(c.Request.Context(), "signal "+route)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("net.peer.ip", c.ClientIP()),
		)
		if id := c.Query("id"); id != "" {
			span.SetAttributes(attribute.String("peer.id", id))
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		if len(c.Errors) == 0 {
			span.SetStatus(codes.Ok, "")
			return
		}
		err := c.Errors.Last().Err
		span.SetAttributes(attribute.String("error.code", string(errors.CodeOf(err))))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
