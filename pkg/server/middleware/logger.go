package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Logger logs request info after a handler runs in the following format:
//
//	(StatusCode) HTTPMethod Path -> IPAddr (latency)
//	e.g. (200) GET /api/oidc/authorize -> 192.168.1.0 (4ms)
func Logger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debugf("(%d) %s %s -> %s (%s)",
			c.Writer.Status(),
			c.Request.Method, c.Request.URL.Path, c.ClientIP(),
			time.Since(start),
		)
	}
}
