package relay

import (
	"errors"
	"net/http"

	"relay-core/internal/chain"
	"relay-core/internal/guard"
	"relay-core/internal/purse"
	"relay-core/pkg/errno"
)

// classify 把各组件的错误归类为 errno
func classify(err error) errno.Errno {
	var e errno.Errno
	switch {
	case err == nil:
		return errno.OK
	case errors.As(err, &e):
		return e
	case errors.Is(err, guard.ErrInFlight):
		return errno.ErrConflictingInFlight
	case errors.Is(err, purse.ErrPoolExhausted),
		errors.Is(err, purse.ErrPurseClosed),
		errors.Is(err, purse.ErrNotInitialized):
		return errno.ErrPoolExhausted
	case errors.Is(err, chain.ErrSubmission):
		return errno.ErrChainRejected.WithMessage(err.Error())
	case errors.Is(err, chain.ErrUnavailable):
		return errno.ErrGatewayUnavailable
	default:
		return errno.ErrSubmission.WithMessage(err.Error())
	}
}

// Response 中继结果，StatusCode 为 HTTP 状态码
type Response struct {
	StatusCode int          `json:"-"`
	Code       int          `json:"-"` // errno 错误码，成功为 0
	Body       ResponseBody `json:"body"`
}

// ResponseBody 成功时 {id} (预检时 {gas})，失败时 {errors}
type ResponseBody struct {
	ID     string   `json:"id,omitempty"`
	Gas    uint64   `json:"gas,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// Retryable 调用方稍后重试可能成功
func (r *Response) Retryable() bool {
	return r.StatusCode == http.StatusTooManyRequests || r.StatusCode == http.StatusServiceUnavailable
}

func errorResponse(err error) *Response {
	e := classify(err)
	return &Response{
		StatusCode: e.HTTPStatus,
		Code:       e.Code,
		Body:       ResponseBody{Errors: []string{e.Message}},
	}
}
