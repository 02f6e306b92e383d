package proxy

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}

		c.Next()

		kv := []any{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"took", time.Since(start),
		}
		if cached := c.Writer.Header().Get(HeaderCache); cached != "" {
			kv = append(kv, "cache", cached)
		}
		if last := c.Errors.Last(); last != nil {
			kv = append(kv, "error", last.Error())
		}
		log.Debug("request", kv...)
	}
}
