package segments

import "context"

// Store persists route segments and their POI associations
type Store interface {
	// GetByHashes loads existing segments keyed by segment_hash
	GetByHashes(ctx context.Context, hashes []string) (map[string]*RouteSegment, error)
	// Upsert inserts the segment; when another writer already created the
	// same hash, the existing row's usage count is incremented instead and
	// the segment is populated from that row
	Upsert(ctx context.Context, segment *RouteSegment) error
	// IncrementUsage atomically bumps usage_count for the given segments
	IncrementUsage(ctx context.Context, segmentIDs []string) error
	// DecrementUsage atomically lowers usage_count, clamping at zero
	DecrementUsage(ctx context.Context, segmentIDs []string) error
	// UpsertSegmentPOIs records discoveries, keeping the smallest distance
	// when a POI was already associated
	UpsertSegmentPOIs(ctx context.Context, associations []SegmentPOI) error
	// MarkPOIsFetched stamps pois_fetched_at on the segment
	MarkPOIsFetched(ctx context.Context, segmentID string) error
	// GetSegmentPOIs returns all POI associations for a segment
	GetSegmentPOIs(ctx context.Context, segmentID string) ([]SegmentPOI, error)
}
