// Package cache provides the Transcription Service's persistent result
// cache (spec §3, §4.C, §6). Two backends are provided: a GORM-backed store
// (SQLite by default, Postgres for multi-instance deployments) and an
// optional Redis store for low-latency shared caches. Both implement Store.
package cache

import (
	"context"
	"time"

	"github.com/mantonx/hap/internal/model"
)

// SchemaVersion is stamped onto every persisted entry so the storage format
// can evolve without an untyped migration (spec §6 "Persisted state").
const SchemaVersion = 1

// DefaultTTL is the cache entry lifetime (spec §3).
const DefaultTTL = 7 * 24 * time.Hour

// DefaultMaxEntries is the soft cap before eviction runs (spec §6).
const DefaultMaxEntries = 50

// Store persists TranscriptionCacheEntry values keyed by source URL.
type Store interface {
	// Get returns the entry for sourceURL if present and not expired given
	// ttl. ok is false on a miss or an expired entry (the entry is not
	// necessarily deleted eagerly on expiry).
	Get(ctx context.Context, sourceURL string, ttl time.Duration) (entry model.TranscriptionCacheEntry, ok bool, err error)

	// Put stores or replaces the entry for sourceURL with the current time
	// as CreatedAt, then evicts the oldest ~50% of entries if the store now
	// exceeds maxEntries.
	Put(ctx context.Context, entry model.TranscriptionCacheEntry, maxEntries int) error

	// Count returns the number of entries currently stored, expired or not.
	Count(ctx context.Context) (int, error)

	// Clear removes every entry. Used by cache maintenance tooling.
	Clear(ctx context.Context) error

	Close() error
}
