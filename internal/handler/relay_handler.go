package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"relay-core/internal/handler/request"
	"relay-core/internal/handler/response"
	"relay-core/internal/middleware"
	"relay-core/internal/relay"
	"relay-core/pkg/validator"
)

// Relayer 中继编排，由 relay.Relayer 实现
type Relayer interface {
	Relay(ctx context.Context, body relay.Body, meta relay.Meta) *relay.Response
}

type RelayHandler struct {
	relayer Relayer
}

func NewRelayHandler(r Relayer) *RelayHandler {
	return &RelayHandler{relayer: r}
}

// Relay 提交中继请求
// @Summary 中继元交易
// @Description 校验用户签名后由签名钱包代付 gas 提交。proxy 为空时创建代理，否则通过代理执行。preflight=true 时只估算 gas
// @Tags Relay
// @Accept json
// @Produce json
// @Param request body request.RelayRequest true "Relay Request"
// @Success 200 {object} relay.ResponseBody "{id} 或 {gas}"
// @Failure 400 {object} relay.ResponseBody
// @Failure 429 {object} relay.ResponseBody
// @Failure 502 {object} relay.ResponseBody
// @Failure 503 {object} relay.ResponseBody
// @Router /relay [post]
func (h *RelayHandler) Relay(c *gin.Context) {
	var req request.RelayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindErrors(c, validator.GetErrorMsgs(err))
		return
	}

	resp := h.relayer.Relay(c.Request.Context(), req.ToBody(), relay.Meta{
		RequestID: middleware.RequestID(c),
		ClientIP:  middleware.ClientIP(c),
	})
	response.Relay(c, resp)
}
