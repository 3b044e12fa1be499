package geocache

import "context"

// Store persists cache entries. The production implementation is backed by
// the cache_entries table; tests substitute an in-memory fake.
type Store interface {
	// Get returns the entry for key when it exists and has not expired
	Get(ctx context.Context, key string) (*Entry, error)
	// ListLive returns unexpired entries for a provider/operation pair,
	// used by the semantic and spatial fallback scans
	ListLive(ctx context.Context, provider, operation string, limit int) ([]Entry, error)
	// Upsert inserts or replaces the entry, resetting its hit count
	Upsert(ctx context.Context, entry *Entry) error
	// IncrementHit bumps the hit counter for key
	IncrementHit(ctx context.Context, key string) error
	// DeletePattern removes entries whose key matches a glob pattern
	DeletePattern(ctx context.Context, pattern string) (int64, error)
	// DeleteAll removes every entry
	DeleteAll(ctx context.Context) (int64, error)
	// DeleteExpired removes entries past their expiry
	DeleteExpired(ctx context.Context) (int64, error)
	// Stats returns persisted entry counts
	Stats(ctx context.Context) (*Stats, error)
}
