package operations

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	minWorkerInterval      = time.Second
	defaultRetryInterval   = time.Minute
	defaultCleanupInterval = time.Hour
)

// ExpiredPurger removes expired records during the cleanup pass.
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// WorkerConfig describes the maintenance schedule.
type WorkerConfig struct {
	Service         *Service
	Purgers         []ExpiredPurger
	RetryInterval   time.Duration
	CleanupInterval time.Duration
	Logger          *zap.Logger
}

// Worker retries failed broadcasts and prunes old operations and expired
// notifications on fixed intervals.
type Worker struct {
	service         *Service
	purgers         []ExpiredPurger
	retryInterval   time.Duration
	cleanupInterval time.Duration
	logger          *zap.Logger
}

// NewWorker constructs a Worker. Intervals below one second fall back to the
// defaults.
func NewWorker(cfg WorkerConfig) *Worker {
	retry := cfg.RetryInterval
	if retry < minWorkerInterval {
		retry = defaultRetryInterval
	}
	cleanup := cfg.CleanupInterval
	if cleanup < minWorkerInterval {
		cleanup = defaultCleanupInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		service:         cfg.Service,
		purgers:         cfg.Purgers,
		retryInterval:   retry,
		cleanupInterval: cleanup,
		logger:          logger,
	}
}

// Start runs until ctx is cancelled. A panicking pass is logged and the
// schedule continues.
func (w *Worker) Start(ctx context.Context) {
	retryTicker := time.NewTicker(w.retryInterval)
	defer retryTicker.Stop()
	cleanupTicker := time.NewTicker(w.cleanupInterval)
	defer cleanupTicker.Stop()

	w.logger.Info("operations worker started",
		zap.Duration("retry_interval", w.retryInterval),
		zap.Duration("cleanup_interval", w.cleanupInterval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("operations worker stopped")
			return
		case <-retryTicker.C:
			w.runPass(ctx, "retry", w.RetryOnce)
		case <-cleanupTicker.C:
			w.runPass(ctx, "cleanup", w.CleanupOnce)
		}
	}
}

// RetryOnce runs a single retry pass.
func (w *Worker) RetryOnce(ctx context.Context) {
	if _, err := w.service.RetryFailedBroadcasts(ctx); err != nil {
		w.logger.Error("operation retry pass failed", zap.Error(err))
	}
}

// CleanupOnce prunes old operations and runs every purger.
func (w *Worker) CleanupOnce(ctx context.Context) {
	if _, err := w.service.CleanupOldOperations(ctx); err != nil {
		w.logger.Error("operation cleanup pass failed", zap.Error(err))
	}
	for _, purger := range w.purgers {
		if _, err := purger.PurgeExpired(ctx); err != nil {
			w.logger.Error("expiry purge failed", zap.Error(err))
		}
	}
}

func (w *Worker) runPass(ctx context.Context, name string, pass func(context.Context)) {
	defer func() {
		if recovered := recover(); recovered != nil {
			w.logger.Error("operations worker pass panicked",
				zap.String("pass", name),
				zap.Any("panic", recovered))
		}
	}()
	pass(ctx)
}
