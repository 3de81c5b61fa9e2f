package service

import (
	"context"
	"time"

	"karmika-sahayak/backend/pkg/logger"
)

// RetentionStore is the subset of the chat store the sweeper needs.
type RetentionStore interface {
	CleanupExpired(ctx context.Context, messageAge, cacheAge time.Duration) (int64, int64, error)
}

// RetentionSweeper periodically deletes messages and board-record cache rows
// past their retention age. One sweeper runs per process; senders and readers
// are unaffected while a sweep is in flight.
type RetentionSweeper struct {
	store      RetentionStore
	interval   time.Duration
	messageAge time.Duration
	cacheAge   time.Duration
	log        *logger.Logger
}

func NewRetentionSweeper(store RetentionStore, interval, messageAge, cacheAge time.Duration, log *logger.Logger) *RetentionSweeper {
	return &RetentionSweeper{
		store:      store,
		interval:   interval,
		messageAge: messageAge,
		cacheAge:   cacheAge,
		log:        log,
	}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (s *RetentionSweeper) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *RetentionSweeper) sweep(ctx context.Context) {
	messages, caches, err := s.store.CleanupExpired(ctx, s.messageAge, s.cacheAge)
	if err != nil {
		s.log.Error("Retention sweep failed", "error", err.Error())
		return
	}
	if messages > 0 || caches > 0 {
		s.log.Info("Retention sweep removed expired rows",
			"messages", messages,
			"recordCaches", caches)
	}
}
