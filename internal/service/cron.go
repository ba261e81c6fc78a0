package service

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"relay-core/pkg/logger"
	"relay-core/pkg/utils/lock"
)

const purseReplenishLock = "cron:lock:purse_replenish"

// Replenisher 钱包池补充
type Replenisher interface {
	Replenish(ctx context.Context) (int, error)
}

type CronService struct {
	cron    *cron.Cron
	locker  lock.DistributedLock
	purse   Replenisher
	spec    string
	timeout time.Duration
}

// NewCronService spec 使用标准 cron 表达式或 "@every 5m"
func NewCronService(locker lock.DistributedLock, purse Replenisher, spec string, timeout time.Duration) *CronService {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &CronService{
		cron:    cron.New(),
		locker:  locker,
		purse:   purse,
		spec:    spec,
		timeout: timeout,
	}
}

func (s *CronService) Start() error {
	if s.spec != "" {
		if _, err := s.cron.AddFunc(s.spec, s.ReplenishPurse); err != nil {
			return err
		}
	}
	s.cron.Start()
	logger.Info("Cron Service started", zap.String("purse_replenish", s.spec))
	return nil
}

func (s *CronService) Stop() {
	<-s.cron.Stop().Done()
	logger.Info("Cron Service stopped")
}

// ReplenishPurse 补充签名钱包余额，多实例部署时只有拿到锁的实例执行
func (s *CronService) ReplenishPurse() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	lease, err := s.locker.Acquire(ctx, purseReplenishLock, s.timeout)
	if err != nil {
		if errors.Is(err, lock.ErrLockHeld) {
			logger.Debug("ReplenishPurse: 已有实例在运行")
		} else {
			logger.Warn("ReplenishPurse: 获取锁失败", zap.Error(err))
		}
		return
	}
	defer func() {
		if err := s.locker.Release(context.Background(), lease); err != nil {
			logger.Warn("ReplenishPurse: 释放锁失败", zap.Error(err))
		}
	}()

	n, err := s.purse.Replenish(ctx)
	if err != nil {
		logger.Error("签名钱包补充失败", zap.Int("funded", n), zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("签名钱包补充完成", zap.Int("funded", n))
	}
}
