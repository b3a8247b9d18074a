package core

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultIdempotencyCapacity is the tier-1 LRU size.
const DefaultIdempotencyCapacity = 1_000_000

// DBIdempotencyChecker is the interface for the Postgres dedup lookup.
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

// DedupTier names where a duplicate was caught.
type DedupTier string

const (
	DedupTierNone     DedupTier = ""
	DedupTierLRU      DedupTier = "lru"
	DedupTierPostgres DedupTier = "postgres"
)

// IdempotencyChecker implements two-tier deduplication:
// an in-memory LRU in front of the event log's unique key.
type IdempotencyChecker struct {
	cache     *lru.Cache
	dbChecker DBIdempotencyChecker

	tier2Errors int64
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) (*IdempotencyChecker, error) {
	if capacity <= 0 {
		capacity = DefaultIdempotencyCapacity
	}
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("idempotency lru: %w", err)
	}
	return &IdempotencyChecker{cache: cache, dbChecker: dbChecker}, nil
}

func compositeKey(eventType, idempotencyKey string) string {
	return eventType + ":" + idempotencyKey
}

// Check reports whether the event was already processed and which tier knew.
// A tier-2 error is counted and treated as "not a duplicate": the event log's
// unique constraint still rejects a true duplicate at write time.
func (ic *IdempotencyChecker) Check(eventType, idempotencyKey string) (bool, DedupTier) {
	key := compositeKey(eventType, idempotencyKey)

	if ic.cache.Contains(key) {
		return true, DedupTierLRU
	}

	if ic.dbChecker == nil {
		return false, DedupTierNone
	}
	isDup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
	if err != nil {
		ic.tier2Errors++
		return false, DedupTierNone
	}
	if isDup {
		ic.cache.Add(key, struct{}{})
		return true, DedupTierPostgres
	}
	return false, DedupTierNone
}

// SetDBChecker installs (or removes, with nil) the tier-2 lookup.
func (ic *IdempotencyChecker) SetDBChecker(db DBIdempotencyChecker) {
	ic.dbChecker = db
}

// MarkProcessed records a successfully applied event.
func (ic *IdempotencyChecker) MarkProcessed(eventType, idempotencyKey string) {
	ic.cache.Add(compositeKey(eventType, idempotencyKey), struct{}{})
}

// Warm loads composite keys (oldest first) into the LRU after a restart.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, key := range keys {
		ic.cache.Add(key, struct{}{})
	}
}

// Keys returns the cached composite keys from oldest to newest.
func (ic *IdempotencyChecker) Keys() []string {
	raw := ic.cache.Keys()
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k.(string))
	}
	return keys
}

func (ic *IdempotencyChecker) Len() int { return ic.cache.Len() }

func (ic *IdempotencyChecker) Tier2Errors() int64 { return ic.tier2Errors }
