package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/checkvibe/threatwatch/internal/metrics"
)

// Recovery turns a handler panic into a JSON 500 carrying the request id.
// Headers set earlier in the chain (request id, ingest CORS) survive, so a
// browser snippet can still read the response. verbose adds the stack and a
// sanitised copy of the request to the log line.
func Recovery(verbose bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			// net/http uses this sentinel to abort a response silently.
			if err, ok := r.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(r)
			}

			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			metrics.IncHandlerPanic(route)

			entry := GetRequestLogger(c).WithField("route", route)
			if verbose {
				entry.WithFields(logrus.Fields{
					"method":  c.Request.Method,
					"path":    SanitizePath(c.Request.URL.Path),
					"headers": SanitizeHeaders(c.Request.Header),
				}).Errorf("handler panic: %v\n%s", r, debug.Stack())
			} else {
				entry.Errorf("handler panic: %v", r)
			}

			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":      "internal server error",
				"request_id": c.GetString(RequestIDKey),
			})
		}()
		c.Next()
	}
}
