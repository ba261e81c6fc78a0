package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"relay-core/internal/event"
	"relay-core/internal/model"
	"relay-core/pkg/logger"
)

// MemoryRelayRepository 进程内存储，重启后丢失
type MemoryRelayRepository struct {
	mu        sync.RWMutex
	records   map[string]*model.RelayTransaction
	publisher event.Publisher
}

func NewMemoryRelayRepository(publisher event.Publisher) *MemoryRelayRepository {
	if publisher == nil {
		publisher = event.Discard
	}
	return &MemoryRelayRepository{
		records:   make(map[string]*model.RelayTransaction),
		publisher: publisher,
	}
}

func (r *MemoryRelayRepository) Create(ctx context.Context, rec *model.RelayTransaction, evt *event.RelayEvent) error {
	r.mu.Lock()
	if _, ok := r.records[rec.ID]; ok {
		r.mu.Unlock()
		return ErrDuplicate
	}
	cp := *rec
	r.records[rec.ID] = &cp
	r.mu.Unlock()

	r.publish(ctx, evt)
	return nil
}

func (r *MemoryRelayRepository) Finalize(ctx context.Context, id string, f Finalization, evt *event.RelayEvent) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok || rec.Status.Final() {
		r.mu.Unlock()
		return ErrNotFound
	}
	rec.Status = f.Status
	rec.Error = f.Error
	rec.BlockNumber = f.BlockNumber
	rec.GasUsed = f.GasUsed
	rec.CreatedProxy = f.CreatedProxy
	at := f.FinalizedAt
	rec.FinalizedAt = &at
	rec.UpdatedAt = at
	r.mu.Unlock()

	r.publish(ctx, evt)
	return nil
}

func (r *MemoryRelayRepository) Get(_ context.Context, id string) (*model.RelayTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *MemoryRelayRepository) ListSubmitted(_ context.Context, limit int) ([]model.RelayTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.RelayTransaction
	for _, rec := range r.records {
		if rec.Status == model.StatusSubmitted {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRelayRepository) CountMinedCreations(_ context.Context, from string) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n uint64
	for _, rec := range r.records {
		if rec.Kind == model.KindCreate && rec.Status == model.StatusMined && strings.EqualFold(rec.From, from) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRelayRepository) publish(ctx context.Context, evt *event.RelayEvent) {
	if evt == nil {
		return
	}
	if err := r.publisher.Publish(ctx, *evt); err != nil {
		logger.Warn("发布中继事件失败", zap.String("id", evt.ID), zap.String("type", string(evt.Type)), zap.Error(err))
	}
}
