package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type expiredOrderProcessor interface {
	ProcessExpiredOrders(ctx context.Context) (int, error)
}

// SweepLocker grants one replica the right to sweep for ttl.
type SweepLocker interface {
	AcquireSweepLock(ctx context.Context, ttl time.Duration) (bool, error)
}

// ExpirySweeper periodically cancels orders whose payment never arrived.
type ExpirySweeper struct {
	orders   expiredOrderProcessor
	locker   SweepLocker
	interval time.Duration
	logger   *zap.Logger
}

func NewExpirySweeper(orders expiredOrderProcessor, locker SweepLocker, interval time.Duration, logger *zap.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		orders:   orders,
		locker:   locker,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps once per interval until ctx is done.
func (w *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("Expired order sweeper started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Expired order sweeper stopped")
			return
		case <-ticker.C:
			w.sweepOnce(ctx)
		}
	}
}

func (w *ExpirySweeper) sweepOnce(ctx context.Context) {
	if w.locker != nil {
		// Expire the lock a little before the next tick so any replica can take it.
		acquired, err := w.locker.AcquireSweepLock(ctx, w.interval*9/10)
		if err != nil {
			// The sweep UPDATE is idempotent.
			w.logger.Warn("Failed to acquire sweep lock, sweeping anyway", zap.Error(err))
		} else if !acquired {
			w.logger.Debug("Sweep lock held by another replica, skipping")
			return
		}
	}

	count, err := w.orders.ProcessExpiredOrders(ctx)
	if err != nil {
		w.logger.Error("Failed to process expired orders", zap.Error(err))
		return
	}
	if count > 0 {
		w.logger.Info("Expired orders cancelled", zap.Int("count", count))
	}
}
