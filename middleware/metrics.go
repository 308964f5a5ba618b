package middleware

import (
	"github.com/TIANLI0/MaskKit/monitor"
	"github.com/gin-gonic/gin"
)

// Metrics 按路由模板统计请求数
func Metrics(m *monitor.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.ObserveRequest(endpoint, c.Writer.Status())
	}
}
