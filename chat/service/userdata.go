package service

import (
	"context"
	"encoding/json"
	"time"

	"karmika-sahayak/backend/kbocw"
	"karmika-sahayak/backend/pkg/logger"
	"karmika-sahayak/backend/pkg/metrics"
)

// RecordFetcher is the upstream surface the coordinator needs.
type RecordFetcher interface {
	FetchUserRecord(ctx context.Context, userID, token string) (*kbocw.UserRecord, error)
}

// RecordCache is the durable cache surface (a subset of the chat store).
type RecordCache interface {
	GetUserRecordCache(ctx context.Context, threadID, userID string) ([]byte, error)
	SaveUserRecordCache(ctx context.Context, threadID, userID string, payload []byte) error
}

// LookasideCache is the optional fast cache in front of the durable one.
// Both the Redis client and the in-process cache satisfy it.
type LookasideCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, expiration time.Duration) error
}

// UserDataCoordinator resolves the board record for a (thread, user) pair:
// durable cache, then look-aside cache, then upstream fetch. Resolve must be
// called while holding the thread lock; that exclusivity is what makes the
// fetch happen at most once per pair even under concurrent senders.
type UserDataCoordinator struct {
	store    RecordCache
	lookside LookasideCache
	fetcher  RecordFetcher
	ttl      time.Duration
	log      *logger.Logger
}

func NewUserDataCoordinator(store RecordCache, lookside LookasideCache, fetcher RecordFetcher, ttl time.Duration, log *logger.Logger) *UserDataCoordinator {
	return &UserDataCoordinator{
		store:    store,
		lookside: lookside,
		fetcher:  fetcher,
		ttl:      ttl,
		log:      log,
	}
}

func recordKey(threadID, userID string) string {
	return "record:" + threadID + ":" + userID
}

// Resolve returns the record, or nil when it cannot be obtained. A cached
// record stays authoritative for the thread's lifetime; failures are never
// cached and never fail the message.
func (c *UserDataCoordinator) Resolve(ctx context.Context, threadID, userID, token string) *kbocw.UserRecord {
	if rec := c.fromStore(ctx, threadID, userID); rec != nil {
		metrics.RecordLookup("cache_hit")
		return rec
	}
	if rec := c.fromLookaside(ctx, threadID, userID); rec != nil {
		metrics.RecordLookup("lookaside_hit")
		return rec
	}
	if c.fetcher == nil {
		metrics.RecordLookup("no_upstream")
		return nil
	}

	rec, err := c.fetcher.FetchUserRecord(ctx, userID, token)
	if err != nil {
		metrics.RecordLookup("fetch_failed")
		c.log.Warn("Board record fetch failed",
			"threadId", threadID, "userId", userID, "error", err.Error())
		return nil
	}
	metrics.RecordLookup("fetched")

	c.cache(ctx, threadID, userID, rec)
	return rec
}

// Peek returns the record only if it is already cached for this thread.
// It never calls upstream; general questions get personalization for free
// once a status question has populated the cache, and cost nothing before.
func (c *UserDataCoordinator) Peek(ctx context.Context, threadID, userID string) *kbocw.UserRecord {
	if rec := c.fromStore(ctx, threadID, userID); rec != nil {
		return rec
	}
	return c.fromLookaside(ctx, threadID, userID)
}

func (c *UserDataCoordinator) fromStore(ctx context.Context, threadID, userID string) *kbocw.UserRecord {
	payload, err := c.store.GetUserRecordCache(ctx, threadID, userID)
	if err != nil {
		c.log.Warn("Record cache read failed", "threadId", threadID, "error", err.Error())
		return nil
	}
	if payload == nil {
		return nil
	}

	var rec kbocw.UserRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		c.log.Warn("Corrupt cached record ignored", "threadId", threadID, "error", err.Error())
		return nil
	}
	return &rec
}

func (c *UserDataCoordinator) fromLookaside(ctx context.Context, threadID, userID string) *kbocw.UserRecord {
	if c.lookside == nil {
		return nil
	}

	raw, found, err := c.lookside.Get(ctx, recordKey(threadID, userID))
	if err != nil {
		c.log.Warn("Look-aside cache read failed", "threadId", threadID, "error", err.Error())
		return nil
	}
	if !found {
		return nil
	}

	var rec kbocw.UserRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		c.log.Warn("Corrupt look-aside record ignored", "threadId", threadID, "error", err.Error())
		return nil
	}

	// Backfill the durable cache so the record survives the look-aside TTL.
	if payload, err := json.Marshal(&rec); err == nil {
		if err := c.store.SaveUserRecordCache(ctx, threadID, userID, payload); err != nil {
			c.log.Warn("Record cache backfill failed", "threadId", threadID, "error", err.Error())
		}
	}
	return &rec
}

func (c *UserDataCoordinator) cache(ctx context.Context, threadID, userID string, rec *kbocw.UserRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		c.log.Warn("Record marshal failed", "threadId", threadID, "error", err.Error())
		return
	}

	if err := c.store.SaveUserRecordCache(ctx, threadID, userID, payload); err != nil {
		c.log.Warn("Record cache write failed", "threadId", threadID, "error", err.Error())
	}
	if c.lookside != nil {
		if err := c.lookside.Set(ctx, recordKey(threadID, userID), string(payload), c.ttl); err != nil {
			c.log.Warn("Look-aside cache write failed", "threadId", threadID, "error", err.Error())
		}
	}
}
