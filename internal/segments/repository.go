package segments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the PostgreSQL-backed segment store
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new segment repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const segmentColumns = `
	id, segment_hash, start_lat, start_lon, end_lat, end_lon, length_km,
	COALESCE(road_name, ''), geometry, search_points, usage_count,
	pois_fetched_at, created_at, updated_at
`

func scanSegment(row interface{ Scan(dest ...any) error }) (*RouteSegment, error) {
	s := &RouteSegment{}
	err := row.Scan(
		&s.ID, &s.SegmentHash, &s.StartLat, &s.StartLon, &s.EndLat, &s.EndLon,
		&s.LengthKm, &s.RoadName, &s.Geometry, &s.SearchPoints, &s.UsageCount,
		&s.POIsFetchedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetByHashes loads existing segments keyed by segment_hash
func (r *Repository) GetByHashes(ctx context.Context, hashes []string) (map[string]*RouteSegment, error) {
	query := fmt.Sprintf(`SELECT %s FROM route_segments WHERE segment_hash = ANY($1)`, segmentColumns)

	rows, err := r.db.Query(ctx, query, hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments by hash: %w", err)
	}
	defer rows.Close()

	segments := make(map[string]*RouteSegment)
	for rows.Next() {
		segment, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments[segment.SegmentHash] = segment
	}
	return segments, rows.Err()
}

// Upsert inserts the segment. Losing a race on segment_hash turns the
// insert into an atomic usage increment of the winner's row; the segment
// struct is repopulated from whichever row survived.
func (r *Repository) Upsert(ctx context.Context, segment *RouteSegment) error {
	if segment.ID == uuid.Nil {
		segment.ID = uuid.New()
	}
	query := fmt.Sprintf(`
		INSERT INTO route_segments (
			id, segment_hash, start_lat, start_lon, end_lat, end_lon,
			length_km, road_name, geometry, search_points, usage_count
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, 1)
		ON CONFLICT (segment_hash) DO UPDATE
			SET usage_count = route_segments.usage_count + 1,
			    updated_at = NOW()
		RETURNING %s
	`, segmentColumns)

	updated, err := scanSegment(r.db.QueryRow(ctx, query,
		segment.ID, segment.SegmentHash, segment.StartLat, segment.StartLon,
		segment.EndLat, segment.EndLon, segment.LengthKm, segment.RoadName,
		segment.Geometry, segment.SearchPoints,
	))
	if err != nil {
		return fmt.Errorf("failed to upsert segment: %w", err)
	}
	*segment = *updated
	return nil
}

// GetByID loads a single segment
func (r *Repository) GetByID(ctx context.Context, id string) (*RouteSegment, error) {
	query := fmt.Sprintf(`SELECT %s FROM route_segments WHERE id = $1`, segmentColumns)
	segment, err := scanSegment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get segment: %w", err)
	}
	return segment, nil
}

// IncrementUsage atomically bumps usage_count for the given segments
func (r *Repository) IncrementUsage(ctx context.Context, segmentIDs []string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE route_segments
		SET usage_count = usage_count + 1, updated_at = NOW()
		WHERE id = ANY($1)
	`, segmentIDs)
	if err != nil {
		return fmt.Errorf("failed to increment segment usage: %w", err)
	}
	return nil
}

// DecrementUsage atomically lowers usage_count, never below zero
func (r *Repository) DecrementUsage(ctx context.Context, segmentIDs []string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE route_segments
		SET usage_count = GREATEST(usage_count - 1, 0), updated_at = NOW()
		WHERE id = ANY($1)
	`, segmentIDs)
	if err != nil {
		return fmt.Errorf("failed to decrement segment usage: %w", err)
	}
	return nil
}

// UpsertSegmentPOIs records POI discoveries. A repeat discovery of the
// same POI keeps whichever search point saw it closer.
func (r *Repository) UpsertSegmentPOIs(ctx context.Context, associations []SegmentPOI) error {
	for _, assoc := range associations {
		_, err := r.db.Exec(ctx, `
			INSERT INTO segment_pois (segment_id, poi_id, search_point_index, straight_line_distance_m)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (segment_id, poi_id) DO UPDATE
				SET search_point_index = CASE
						WHEN EXCLUDED.straight_line_distance_m < segment_pois.straight_line_distance_m
						THEN EXCLUDED.search_point_index
						ELSE segment_pois.search_point_index
					END,
				    straight_line_distance_m = LEAST(segment_pois.straight_line_distance_m, EXCLUDED.straight_line_distance_m)
		`, assoc.SegmentID, assoc.POIID, assoc.SearchPointIndex, assoc.StraightLineDistanceM)
		if err != nil {
			return fmt.Errorf("failed to upsert segment poi: %w", err)
		}
	}
	return nil
}

// MarkPOIsFetched stamps pois_fetched_at on the segment
func (r *Repository) MarkPOIsFetched(ctx context.Context, segmentID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE route_segments SET pois_fetched_at = NOW(), updated_at = NOW() WHERE id = $1
	`, segmentID)
	if err != nil {
		return fmt.Errorf("failed to mark segment pois fetched: %w", err)
	}
	return nil
}

// GetSegmentPOIs returns all POI associations for a segment
func (r *Repository) GetSegmentPOIs(ctx context.Context, segmentID string) ([]SegmentPOI, error) {
	rows, err := r.db.Query(ctx, `
		SELECT segment_id, poi_id, search_point_index, straight_line_distance_m, created_at
		FROM segment_pois
		WHERE segment_id = $1
		ORDER BY search_point_index
	`, segmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query segment pois: %w", err)
	}
	defer rows.Close()

	associations := make([]SegmentPOI, 0)
	for rows.Next() {
		var assoc SegmentPOI
		err := rows.Scan(&assoc.SegmentID, &assoc.POIID, &assoc.SearchPointIndex,
			&assoc.StraightLineDistanceM, &assoc.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment poi: %w", err)
		}
		associations = append(associations, assoc)
	}
	return associations, rows.Err()
}

// CountOrphans counts segments no map references anymore
func (r *Repository) CountOrphans(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM route_segments rs
		WHERE rs.usage_count = 0
		  AND NOT EXISTS (SELECT 1 FROM map_segments ms WHERE ms.segment_id = rs.id)
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count orphan segments: %w", err)
	}
	return count, nil
}

// DeleteOrphans removes segments no map references anymore, together with
// their POI associations
func (r *Repository) DeleteOrphans(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM route_segments rs
		WHERE rs.usage_count = 0
		  AND NOT EXISTS (SELECT 1 FROM map_segments ms WHERE ms.segment_id = rs.id)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphan segments: %w", err)
	}
	return tag.RowsAffected(), nil
}
