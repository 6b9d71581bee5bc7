// Package middleware provides the gin middleware of the allocator's HTTP
// surface: request logging with trace propagation and panic recovery.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wyfcoding/p2pexchange/pkg/logger"
)

const headerTraceID = "X-Trace-ID"

// Logging assigns every request a trace id (propagating an incoming
// X-Trace-ID), stores it where the logger finds it, and logs request
// start and completion.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(headerTraceID)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		spanID := uuid.NewString()

		ctx := context.WithValue(c.Request.Context(), "trace_id", traceID) //nolint:staticcheck
		ctx = context.WithValue(ctx, "span_id", spanID)                    //nolint:staticcheck
		c.Request = c.Request.WithContext(ctx)
		c.Header(headerTraceID, traceID)

		start := time.Now()
		logger.Info(ctx, "HTTP request started",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"client_ip", c.ClientIP(),
		)

		c.Next()

		logger.Info(ctx, "HTTP request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// Recovery converts panics into 500 responses with the trace id attached.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				ctx := c.Request.Context()
				logger.Error(ctx, "HTTP request panicked",
					"path", c.Request.URL.Path,
					"panic", err,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":    "internal server error",
					"trace_id": c.Writer.Header().Get(headerTraceID),
				})
			}
		}()
		c.Next()
	}
}
