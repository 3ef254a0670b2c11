// Package middleware provides HTTP middleware components.
package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fiscalcore/internal/core/apperror"
	"fiscalcore/pkg/logger"
)

// Recovery turns a panic in a handler into an internal error that
// ErrorHandler renders. The stack goes to the log only.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			ctx := c.Request.Context()
			err := fmt.Errorf("panic: %v", rec)

			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")

			logger.Error(ctx, "panic recovered",
				"method", c.Request.Method,
				"route", c.FullPath(),
				"error", rec,
				"stack", string(debug.Stack()),
			)

			// Headers already went out; nothing sensible can be rendered.
			if c.Writer.Written() {
				c.Abort()
				return
			}
			_ = c.Error(apperror.NewInternal(err).WithDetail("request_id", c.GetString("request_id")))
			c.Abort()
		}()
		c.Next()
	}
}
