package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeRetentionStore struct {
	mu       sync.Mutex
	calls    int
	msgAge   time.Duration
	cacheAge time.Duration
	err      error
}

func (f *fakeRetentionStore) CleanupExpired(ctx context.Context, messageAge, cacheAge time.Duration) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.msgAge = messageAge
	f.cacheAge = cacheAge
	if f.err != nil {
		return 0, 0, f.err
	}
	return 3, 1, nil
}

func (f *fakeRetentionStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRetentionSweeperSweepsImmediatelyAndOnTicks(t *testing.T) {
	store := &fakeRetentionStore{}
	sweeper := NewRetentionSweeper(store, 10*time.Millisecond, 30*24*time.Hour, 7*24*time.Hour, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return store.callCount() >= 2 },
		time.Second, 5*time.Millisecond, "expected the initial sweep plus at least one tick")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 30*24*time.Hour, store.msgAge)
	assert.Equal(t, 7*24*time.Hour, store.cacheAge)
}

func TestRetentionSweeperSurvivesStoreErrors(t *testing.T) {
	store := &fakeRetentionStore{err: errors.New("deadlock detected")}
	sweeper := NewRetentionSweeper(store, 5*time.Millisecond, time.Hour, time.Hour, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Run(ctx)

	assert.Eventually(t, func() bool { return store.callCount() >= 3 },
		time.Second, 5*time.Millisecond, "errors must not stop the sweep loop")
}
