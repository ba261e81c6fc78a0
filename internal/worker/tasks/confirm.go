package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"relay-core/internal/relay"
	"relay-core/pkg/logger"
)

// 任务类型常量
const (
	TypeRelayConfirm = "relay:confirm"
)

// ErrNotFinal 交易尚未到达终态，任务稍后重试且不计入重试次数
var ErrNotFinal = errors.New("relay transaction not final yet")

// ---------------------------------------------------------------------
// 1. Producer (Client) Code
// ---------------------------------------------------------------------

// NewConfirmTask 创建交易确认任务，TaskID 保证同一笔交易只有一个任务
func NewConfirmTask(p relay.Pending, delay time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRelayConfirm, payload,
		asynq.TaskID("confirm:"+p.ID),
		asynq.ProcessIn(delay),
		asynq.Timeout(30*time.Second),
		asynq.Queue("critical"),
	), nil
}

// ---------------------------------------------------------------------
// 2. Consumer (Server) Code
// ---------------------------------------------------------------------

// NewConfirmHandler 对交易做一次确认，未到终态返回 ErrNotFinal 触发重试
func NewConfirmHandler(r relay.Resolver) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p relay.Pending
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			// JSON 解析失败，重试也没用
			return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
		}

		done, err := r.Resolve(ctx, p)
		if err != nil {
			logger.Debug("确认交易失败", zap.String("tx", p.TxHash.Hex()), zap.Error(err))
			return err
		}
		if !done {
			return ErrNotFinal
		}
		return nil
	}
}

// IsFailure 未到终态不算失败
func IsFailure(err error) bool {
	return !errors.Is(err, ErrNotFinal)
}

// RetryDelay 未到终态按轮询间隔重试，其他错误指数退避
func RetryDelay(interval time.Duration) asynq.RetryDelayFunc {
	return func(n int, err error, t *asynq.Task) time.Duration {
		if errors.Is(err, ErrNotFinal) {
			return interval
		}
		return asynq.DefaultRetryDelayFunc(n, err, t)
	}
}
