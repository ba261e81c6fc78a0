package middleware

import (
	"net"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"relay-core/internal/handler/response"
	"relay-core/pkg/errno"
	"relay-core/pkg/logger"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderRealIP    = "X-Real-IP"

	KeyRequestID = "request_id"
	KeyClientIP  = "client_ip"
)

// RequestMeta 为每个请求分配 request id 并记录来源 IP。
// x-real-ip 由前置代理设置，缺失时退回 gin 的 ClientIP
func RequestMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		ip := c.GetHeader(HeaderRealIP)
		if ip == "" {
			ip = c.ClientIP()
		}
		c.Set(KeyRequestID, id)
		c.Set(KeyClientIP, ip)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func RequestID(c *gin.Context) string { return c.GetString(KeyRequestID) }

func ClientIP(c *gin.Context) string {
	if ip := c.GetString(KeyClientIP); ip != "" {
		return ip
	}
	return c.ClientIP()
}

// LocalOnly 只允许本机访问管理接口。这里看的是 TCP 对端地址，不信任 x-real-ip
func LocalOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			host = c.Request.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			logger.Warn("拒绝非本机的管理请求", zap.String("remote", c.Request.RemoteAddr), zap.String("path", c.Request.URL.Path))
			response.Error(c, errno.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
