package response

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"relay-core/internal/relay"
	"relay-core/pkg/errno"
)

// RetryAfterSeconds 签名钱包耗尽时建议的重试间隔
const RetryAfterSeconds = 2

// Response defines the standard JSON structure
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"msg"`
	Data    interface{} `json:"data"`
}

// Success returns a success response with data
func Success(c *gin.Context, data interface{}) {
	if data == nil {
		data = gin.H{} // Return empty object instead of null
	}
	c.JSON(http.StatusOK, Response{
		Code:    errno.OK.Code,
		Message: errno.OK.Message,
		Data:    data,
	})
}

// Error 按 errno 的 HTTP 状态返回错误
func Error(c *gin.Context, err error) {
	code, msg := errno.Decode(err)
	c.JSON(errno.HTTPStatus(err), Response{
		Code:    code,
		Message: msg,
		Data:    gin.H{},
	})
}

// Relay 写出中继结果: 成功 {id} 或 {gas}，失败 {errors}
func Relay(c *gin.Context, resp *relay.Response) {
	if resp.Code == errno.ErrPoolExhausted.Code {
		c.Header("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}
	c.JSON(resp.StatusCode, resp.Body)
}

// BindErrors 请求体无法解析或校验失败
func BindErrors(c *gin.Context, msgs []string) {
	c.JSON(errno.ErrMalformedRequest.HTTPStatus, relay.ResponseBody{Errors: msgs})
}
