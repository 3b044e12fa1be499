package geocache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the PostgreSQL-backed cache store
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new cache repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Get returns the live entry for key, or nil when absent or expired
func (r *Repository) Get(ctx context.Context, key string) (*Entry, error) {
	query := `
		SELECT key, provider, operation, params, data, expires_at, hit_count, created_at
		FROM cache_entries
		WHERE key = $1 AND expires_at > NOW()
	`
	e := &Entry{}
	err := r.db.QueryRow(ctx, query, key).Scan(
		&e.Key, &e.Provider, &e.Operation, &e.Params, &e.Data,
		&e.ExpiresAt, &e.HitCount, &e.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return e, nil
}

// ListLive returns unexpired entries for a provider/operation pair
func (r *Repository) ListLive(ctx context.Context, provider, operation string, limit int) ([]Entry, error) {
	query := `
		SELECT key, provider, operation, params, data, expires_at, hit_count, created_at
		FROM cache_entries
		WHERE provider = $1 AND operation = $2 AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, provider, operation, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		err := rows.Scan(
			&e.Key, &e.Provider, &e.Operation, &e.Params, &e.Data,
			&e.ExpiresAt, &e.HitCount, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Upsert inserts or replaces the entry for its key, resetting hit_count
func (r *Repository) Upsert(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO cache_entries (key, provider, operation, params, data, expires_at, hit_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, NOW())
		ON CONFLICT (key) DO UPDATE SET
			data = EXCLUDED.data,
			params = EXCLUDED.params,
			expires_at = EXCLUDED.expires_at,
			hit_count = 0,
			created_at = NOW()
	`
	_, err := r.db.Exec(ctx, query,
		entry.Key, entry.Provider, entry.Operation, entry.Params, entry.Data, entry.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}

// IncrementHit bumps the hit counter for key
func (r *Repository) IncrementHit(ctx context.Context, key string) error {
	_, err := r.db.Exec(ctx, `UPDATE cache_entries SET hit_count = hit_count + 1 WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("failed to increment hit count: %w", err)
	}
	return nil
}

// DeletePattern removes entries whose key matches a glob pattern
// ("osm:geocode:*"). Glob wildcards are translated to SQL LIKE wildcards.
func (r *Repository) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	like := strings.NewReplacer("%", `\%`, "_", `\_`).Replace(pattern)
	like = strings.NewReplacer("*", "%", "?", "_").Replace(like)

	tag, err := r.db.Exec(ctx, `DELETE FROM cache_entries WHERE key LIKE $1`, like)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache entries by pattern: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAll removes every cache entry
func (r *Repository) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes entries past their expiry
func (r *Repository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM cache_entries WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats returns persisted entry counts
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByOperation: make(map[string]int64)}

	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE expires_at < NOW())
		FROM cache_entries
	`).Scan(&stats.TotalEntries, &stats.ExpiredEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to count cache entries: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT operation, COUNT(*)
		FROM cache_entries
		GROUP BY operation
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count cache entries by operation: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var operation string
		var count int64
		if err := rows.Scan(&operation, &count); err != nil {
			return nil, fmt.Errorf("failed to scan cache stats: %w", err)
		}
		stats.ByOperation[operation] = count
	}
	return stats, rows.Err()
}
