package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"relay-core/internal/event"
	"relay-core/internal/model"
)

// GormRelayRepository PostgreSQL 存储，事件写入 outbox_messages 由 OutboxRelay 投递
type GormRelayRepository struct {
	db *gorm.DB
}

func NewGormRelayRepository(db *gorm.DB) *GormRelayRepository {
	return &GormRelayRepository{db: db}
}

func (r *GormRelayRepository) Create(ctx context.Context, rec *model.RelayTransaction, evt *event.RelayEvent) error {
	rec.From = strings.ToLower(rec.From)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		return writeOutbox(tx, evt)
	})
}

func (r *GormRelayRepository) Finalize(ctx context.Context, id string, f Finalization, evt *event.RelayEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 只更新仍处于 submitted 的记录，轮询器和 asynq 重复确认时只有一方生效
		res := tx.Model(&model.RelayTransaction{}).
			Where("id = ? AND status = ?", id, model.StatusSubmitted).
			Updates(map[string]interface{}{
				"status":        f.Status,
				"error":         f.Error,
				"block_number":  f.BlockNumber,
				"gas_used":      f.GasUsed,
				"created_proxy": f.CreatedProxy,
				"finalized_at":  f.FinalizedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return writeOutbox(tx, evt)
	})
}

func (r *GormRelayRepository) Get(ctx context.Context, id string) (*model.RelayTransaction, error) {
	var rec model.RelayTransaction
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *GormRelayRepository) ListSubmitted(ctx context.Context, limit int) ([]model.RelayTransaction, error) {
	var recs []model.RelayTransaction
	q := r.db.WithContext(ctx).Where("status = ?", model.StatusSubmitted).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *GormRelayRepository) CountMinedCreations(ctx context.Context, from string) (uint64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.RelayTransaction{}).
		Where("from_address = ? AND kind = ? AND status = ?", strings.ToLower(from), model.KindCreate, model.StatusMined).
		Count(&n).Error
	return uint64(n), err
}

// PendingOutbox 取一批待投递的消息
func (r *GormRelayRepository) PendingOutbox(ctx context.Context, limit int) ([]model.OutboxMessage, error) {
	var msgs []model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxPending).
		Order("id ASC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

// MarkOutbox 更新投递结果，失败时只累加次数
func (r *GormRelayRepository) MarkOutbox(ctx context.Context, id uint64, sent bool) error {
	q := r.db.WithContext(ctx).Model(&model.OutboxMessage{}).Where("id = ?", id)
	if sent {
		return q.Update("status", model.OutboxSent).Error
	}
	return q.Update("attempts", gorm.Expr("attempts + 1")).Error
}

func writeOutbox(tx *gorm.DB, evt *event.RelayEvent) error {
	if evt == nil {
		return nil
	}
	payload, err := evt.Encode()
	if err != nil {
		return err
	}
	return tx.Create(&model.OutboxMessage{
		Topic:   event.Topic,
		Key:     evt.DedupKey,
		Payload: payload,
		Status:  model.OutboxPending,
	}).Error
}
