package errno

import (
	"errors"
	"net/http"
)

// Errno defines the error code logic
type Errno struct {
	Code       int
	HTTPStatus int
	Message    string
}

func (e Errno) Error() string {
	return e.Message
}

// WithMessage 返回带具体原因的副本，错误码与 HTTP 状态保持不变
func (e Errno) WithMessage(msg string) Errno {
	e.Message = msg
	return e
}

// Is 按错误码比较，WithMessage 产生的副本仍然匹配原始错误
func (e Errno) Is(target error) bool {
	var t Errno
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	var typed Errno
	if errors.As(err, &typed) {
		return typed.Code, typed.Message
	}
	var ptr *Errno
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Code, ptr.Message
	}
	return InternalServerError.Code, err.Error()
}

// HTTPStatus 返回错误对应的 HTTP 状态码，未分类错误按 500 处理
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var typed Errno
	if errors.As(err, &typed) && typed.HTTPStatus != 0 {
		return typed.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Common Errors
var (
	OK                  = Errno{Code: 0, HTTPStatus: http.StatusOK, Message: "Success"}
	InternalServerError = Errno{Code: 10001, HTTPStatus: http.StatusInternalServerError, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, HTTPStatus: http.StatusBadRequest, Message: "Error occurred while binding the request body to the struct"}
	ErrForbidden        = Errno{Code: 10003, HTTPStatus: http.StatusForbidden, Message: "Forbidden"}
	ErrDatabase         = Errno{Code: 10004, HTTPStatus: http.StatusInternalServerError, Message: "Database error"}
)

// Relay Errors (40000+)
var (
	ErrMalformedRequest    = Errno{Code: 40001, HTTPStatus: http.StatusBadRequest, Message: "Malformed relay request"}
	ErrInvalidSignature    = Errno{Code: 40002, HTTPStatus: http.StatusBadRequest, Message: "Invalid signature"}
	ErrNonceMismatch       = Errno{Code: 40003, HTTPStatus: http.StatusBadRequest, Message: "Nonce mismatch"}
	ErrConflictingInFlight = Errno{Code: 42901, HTTPStatus: http.StatusTooManyRequests, Message: "A transaction for this account is already in flight"}
	ErrChainRejected       = Errno{Code: 50201, HTTPStatus: http.StatusBadGateway, Message: "Transaction rejected by chain"}
	ErrSubmission          = Errno{Code: 50202, HTTPStatus: http.StatusBadGateway, Message: "Transaction submission failed"}
	ErrPoolExhausted       = Errno{Code: 50301, HTTPStatus: http.StatusServiceUnavailable, Message: "No relay signer available, retry later"}
	ErrGatewayUnavailable  = Errno{Code: 50302, HTTPStatus: http.StatusServiceUnavailable, Message: "Chain node unavailable"}
)
