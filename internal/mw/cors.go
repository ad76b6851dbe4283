package mw

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	corsMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsHeaders = "Content-Type, Authorization, " + RequestIDHeader
)

// CORS dev 环境回显任意来源；其余环境只允许同源与 allowed 中列出的来源。
// 被拒绝的来源拿不到任何 Access-Control-* 头，预检直接返回 403。
func CORS(env string, allowed []string) gin.HandlerFunc {
	allow := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		allow[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	permitted := func(origin, host string) bool {
		if env == "dev" {
			return true
		}
		if _, ok := allow[strings.ToLower(origin)]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == host
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		c.Header("Vary", "Origin")
		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""

		if !permitted(origin, c.Request.Host) {
			if preflight {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Expose-Headers", RequestIDHeader)
		if preflight {
			c.Header("Access-Control-Allow-Methods", corsMethods)
			c.Header("Access-Control-Allow-Headers", corsHeaders)
			c.Header("Access-Control-Max-Age", "86400")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
