package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"relay-core/internal/handler/request"
	"relay-core/internal/handler/response"
	"relay-core/internal/purse"
	"relay-core/pkg/errno"
	"relay-core/pkg/logger"
)

// PurseAdmin 管理接口需要的钱包池操作
type PurseAdmin interface {
	Status(ctx context.Context) (*purse.Status, error)
	Replenish(ctx context.Context) (int, error)
}

type PurseHandler struct {
	purse PurseAdmin
}

func NewPurseHandler(p PurseAdmin) *PurseHandler {
	return &PurseHandler{purse: p}
}

// Status 查看签名钱包池
// @Summary 钱包池状态
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Response{data=purse.Status}
// @Failure 403 {object} response.Response
// @Router /admin/purse [get]
func (h *PurseHandler) Status(c *gin.Context) {
	st, err := h.purse.Status(c.Request.Context())
	if err != nil {
		response.Error(c, purseErr(err))
		return
	}
	response.Success(c, st)
}

// Replenish 立即补充余额不足的签名钱包
// @Summary 补充签名钱包余额
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body request.ReplenishRequest false "Replenish Request"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.Response
// @Router /admin/purse/replenish [post]
func (h *PurseHandler) Replenish(c *gin.Context) {
	var req request.ReplenishRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, errno.ErrBind)
			return
		}
	}
	timeout := 2 * time.Minute
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()
	n, err := h.purse.Replenish(ctx)
	if err != nil {
		logger.Error("手动补充签名钱包失败", zap.Int("funded", n), zap.Error(err))
		response.Error(c, purseErr(err))
		return
	}
	response.Success(c, gin.H{"funded": n})
}

func purseErr(err error) error {
	switch {
	case errors.Is(err, purse.ErrNotInitialized), errors.Is(err, purse.ErrPurseClosed):
		return errno.ErrPoolExhausted.WithMessage(err.Error())
	case errors.Is(err, purse.ErrMasterUnderfunded), errors.Is(err, purse.ErrFundingTimeout):
		return errno.InternalServerError.WithMessage(err.Error())
	}
	return err
}
