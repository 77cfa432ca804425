package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// IngestCORS answers preflight requests from any origin and decorates every
// response with the headers a browser snippet needs. OPTIONS never reaches
// the handler.
func IngestCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		h.Set("Access-Control-Max-Age", "86400")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
