package errno

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecode(t *testing.T) {
	code, msg := Decode(nil)
	assert.Equal(t, 0, code)
	assert.Equal(t, "Success", msg)

	code, msg = Decode(ErrNonceMismatch.WithMessage("expected 3, got 2"))
	assert.Equal(t, 40003, code)
	assert.Equal(t, "expected 3, got 2", msg)

	// 包装后的错误也能解析
	code, _ = Decode(fmt.Errorf("relay: %w", ErrInvalidSignature))
	assert.Equal(t, 40002, code)

	code, msg = Decode(errors.New("boom"))
	assert.Equal(t, InternalServerError.Code, code)
	assert.Equal(t, "boom", msg)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusOK, HTTPStatus(nil))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(ErrConflictingInFlight))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(fmt.Errorf("x: %w", ErrPoolExhausted)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("unknown")))
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("wrap: %w", ErrChainRejected.WithMessage("insufficient funds"))
	assert.True(t, errors.Is(err, ErrChainRejected))
	assert.False(t, errors.Is(err, ErrSubmission))
}
