package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-core/internal/model"
	"relay-core/internal/relay"
)

type fakeResolver struct {
	done bool
	err  error
	got  relay.Pending
}

func (f *fakeResolver) Resolve(_ context.Context, p relay.Pending) (bool, error) {
	f.got = p
	return f.done, f.err
}

func TestConfirmHandler(t *testing.T) {
	p := relay.Pending{
		ID:          "req-1",
		Key:         "proxy:0xabc",
		Kind:        model.KindExecute,
		From:        common.HexToAddress("0x01"),
		TxHash:      common.HexToHash("0xbeef"),
		SubmittedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	task, err := NewConfirmTask(p, time.Second)
	require.NoError(t, err)
	assert.Equal(t, TypeRelayConfirm, task.Type())

	r := &fakeResolver{}
	h := NewConfirmHandler(r)

	err = h.ProcessTask(context.Background(), task)
	assert.ErrorIs(t, err, ErrNotFinal)
	assert.False(t, IsFailure(err))
	assert.Equal(t, p, r.got)

	r.done = true
	assert.NoError(t, h.ProcessTask(context.Background(), task))

	r.done, r.err = false, errors.New("node down")
	err = h.ProcessTask(context.Background(), task)
	assert.True(t, IsFailure(err))

	err = h.ProcessTask(context.Background(), asynq.NewTask(TypeRelayConfirm, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestRetryDelay(t *testing.T) {
	delay := RetryDelay(3 * time.Second)
	task := asynq.NewTask(TypeRelayConfirm, nil)
	assert.Equal(t, 3*time.Second, delay(0, ErrNotFinal, task))
	assert.Equal(t, 3*time.Second, delay(10, ErrNotFinal, task))
	assert.Positive(t, delay(1, errors.New("boom"), task))
}
