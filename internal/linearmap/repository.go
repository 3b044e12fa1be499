package linearmap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mapalinear/mapalinear/internal/segments"
	"github.com/mapalinear/mapalinear/pkg/geo"
)

// Repository is the PostgreSQL-backed store for maps and their bindings
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new map repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const mapColumns = `
	id, origin, destination, origin_lat, origin_lon, destination_lat,
	destination_lon, total_length_km, COALESCE(road_id, ''), metadata,
	created_by_user_id, created_at, updated_at
`

func scanMap(row interface{ Scan(dest ...any) error }) (*Map, error) {
	m := &Map{}
	err := row.Scan(
		&m.ID, &m.Origin, &m.Destination, &m.OriginLat, &m.OriginLon,
		&m.DestinationLat, &m.DestinationLon, &m.TotalLengthKm, &m.RoadID,
		&m.Metadata, &m.CreatedByUserID, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// CreateMap persists the map, its segment bindings, and its POI bindings
// in one transaction
func (r *Repository) CreateMap(ctx context.Context, m *Map, result *AssembleResult) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO maps (
			id, origin, destination, origin_lat, origin_lon,
			destination_lat, destination_lon, total_length_km, road_id,
			metadata, created_by_user_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)
		RETURNING created_at, updated_at
	`, m.ID, m.Origin, m.Destination, m.OriginLat, m.OriginLon,
		m.DestinationLat, m.DestinationLon, m.TotalLengthKm, m.RoadID,
		m.Metadata, m.CreatedByUserID).
		Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert map: %w", err)
	}

	for _, ms := range result.MapSegments {
		_, err = tx.Exec(ctx, `
			INSERT INTO map_segments (id, map_id, segment_id, sequence_order, distance_from_origin_km)
			VALUES ($1, $2, $3, $4, $5)
		`, ms.ID, ms.MapID, ms.SegmentID, ms.SequenceOrder, ms.DistanceFromOriginKm)
		if err != nil {
			return fmt.Errorf("failed to insert map segment %d: %w", ms.SequenceOrder, err)
		}
	}

	for _, mp := range result.MapPOIs {
		_, err = tx.Exec(ctx, `
			INSERT INTO map_pois (
				id, map_id, poi_id, segment_index, distance_from_origin_km,
				distance_from_road_meters, side, junction_lat, junction_lon,
				junction_distance_km, requires_detour, quality_score
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, mp.ID, mp.MapID, mp.POIID, mp.SegmentIndex, mp.DistanceFromOriginKm,
			mp.DistanceFromRoadMeters, string(mp.Side), mp.JunctionLat, mp.JunctionLon,
			mp.JunctionDistanceKm, mp.RequiresDetour, mp.QualityScore)
		if err != nil {
			return fmt.Errorf("failed to insert map poi: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit map: %w", err)
	}
	return nil
}

// GetMap loads a map with its segments and POIs, or nil when absent
func (r *Repository) GetMap(ctx context.Context, id uuid.UUID) (*Map, error) {
	query := fmt.Sprintf(`SELECT %s FROM maps WHERE id = $1`, mapColumns)
	m, err := scanMap(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get map: %w", err)
	}

	if m.Segments, err = r.getMapSegments(ctx, id); err != nil {
		return nil, err
	}
	if m.POIs, err = r.getMapPOIs(ctx, id); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *Repository) getMapSegments(ctx context.Context, mapID uuid.UUID) ([]MapSegment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT ms.id, ms.map_id, ms.segment_id, ms.sequence_order, ms.distance_from_origin_km, ms.created_at,
			rs.id, rs.segment_hash, rs.start_lat, rs.start_lon, rs.end_lat, rs.end_lon,
			rs.length_km, COALESCE(rs.road_name, ''), rs.geometry, rs.search_points,
			rs.usage_count, rs.pois_fetched_at, rs.created_at, rs.updated_at
		FROM map_segments ms
		JOIN route_segments rs ON rs.id = ms.segment_id
		WHERE ms.map_id = $1
		ORDER BY ms.sequence_order
	`, mapID)
	if err != nil {
		return nil, fmt.Errorf("failed to query map segments: %w", err)
	}
	defer rows.Close()

	var mapSegments []MapSegment
	for rows.Next() {
		var ms MapSegment
		segment := &segments.RouteSegment{}
		err := rows.Scan(
			&ms.ID, &ms.MapID, &ms.SegmentID, &ms.SequenceOrder, &ms.DistanceFromOriginKm, &ms.CreatedAt,
			&segment.ID, &segment.SegmentHash, &segment.StartLat, &segment.StartLon,
			&segment.EndLat, &segment.EndLon, &segment.LengthKm, &segment.RoadName,
			&segment.Geometry, &segment.SearchPoints, &segment.UsageCount,
			&segment.POIsFetchedAt, &segment.CreatedAt, &segment.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan map segment: %w", err)
		}
		ms.Segment = segment
		mapSegments = append(mapSegments, ms)
	}
	return mapSegments, rows.Err()
}

func (r *Repository) getMapPOIs(ctx context.Context, mapID uuid.UUID) ([]MapPOI, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, map_id, poi_id, segment_index, distance_from_origin_km,
			distance_from_road_meters, side, junction_lat, junction_lon,
			junction_distance_km, requires_detour, quality_score, created_at
		FROM map_pois
		WHERE map_id = $1
		ORDER BY distance_from_origin_km
	`, mapID)
	if err != nil {
		return nil, fmt.Errorf("failed to query map pois: %w", err)
	}
	defer rows.Close()

	var mapPOIs []MapPOI
	for rows.Next() {
		var mp MapPOI
		err := rows.Scan(
			&mp.ID, &mp.MapID, &mp.POIID, &mp.SegmentIndex, &mp.DistanceFromOriginKm,
			&mp.DistanceFromRoadMeters, &mp.Side, &mp.JunctionLat, &mp.JunctionLon,
			&mp.JunctionDistanceKm, &mp.RequiresDetour, &mp.QualityScore, &mp.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan map poi: %w", err)
		}
		mapPOIs = append(mapPOIs, mp)
	}
	return mapPOIs, rows.Err()
}

// ListMaps returns maps (newest first) without segments or POIs, optionally
// filtered by creator
func (r *Repository) ListMaps(ctx context.Context, userID *uuid.UUID, limit, offset int) ([]Map, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT %s FROM maps
		WHERE ($1::uuid IS NULL OR created_by_user_id = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, mapColumns)
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list maps: %w", err)
	}
	defer rows.Close()

	var maps []Map
	for rows.Next() {
		m, err := scanMap(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan map: %w", err)
		}
		maps = append(maps, *m)
	}
	return maps, rows.Err()
}

// FindDuplicateMap looks for an existing map whose geocoded origin and
// destination both sit within toleranceKm of the requested ones, so a
// repeat request reuses it instead of regenerating. The SQL narrows by a
// degree bounding box; the exact Haversine check happens here.
func (r *Repository) FindDuplicateMap(ctx context.Context, origin, destination geo.Point, toleranceKm float64) (*Map, error) {
	degrees := toleranceKm / 111.0
	query := fmt.Sprintf(`
		SELECT %s FROM maps
		WHERE origin_lat BETWEEN $1 - $5 AND $1 + $5
			AND origin_lon BETWEEN $2 - $5 AND $2 + $5
			AND destination_lat BETWEEN $3 - $5 AND $3 + $5
			AND destination_lon BETWEEN $4 - $5 AND $4 + $5
		ORDER BY created_at DESC
	`, mapColumns)
	rows, err := r.db.Query(ctx, query, origin.Lat, origin.Lon, destination.Lat, destination.Lon, degrees)
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicate map: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMap(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan map: %w", err)
		}
		originKm := geo.HaversineKm(m.OriginLat, m.OriginLon, origin.Lat, origin.Lon)
		destinationKm := geo.HaversineKm(m.DestinationLat, m.DestinationLon, destination.Lat, destination.Lon)
		if originKm <= toleranceKm && destinationKm <= toleranceKm {
			return m, nil
		}
	}
	return nil, rows.Err()
}

// SegmentIDsForMap returns the route segment ids bound to a map, used to
// release usage counts on delete
func (r *Repository) SegmentIDsForMap(ctx context.Context, mapID uuid.UUID) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT segment_id FROM map_segments WHERE map_id = $1 ORDER BY sequence_order
	`, mapID)
	if err != nil {
		return nil, fmt.Errorf("failed to query map segment ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan segment id: %w", err)
		}
		ids = append(ids, id.String())
	}
	return ids, rows.Err()
}

// DeleteMap removes the map and its bindings in one transaction. Returns
// false when the map did not exist.
func (r *Repository) DeleteMap(ctx context.Context, mapID uuid.UUID) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM map_pois WHERE map_id = $1`, mapID); err != nil {
		return false, fmt.Errorf("failed to delete map pois: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM map_segments WHERE map_id = $1`, mapID); err != nil {
		return false, fmt.Errorf("failed to delete map segments: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM maps WHERE id = $1`, mapID)
	if err != nil {
		return false, fmt.Errorf("failed to delete map: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit map delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// TouchMap bumps updated_at, keeping a reused map inside the duplicate
// detection window
func (r *Repository) TouchMap(ctx context.Context, mapID uuid.UUID, now time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE maps SET updated_at = $2 WHERE id = $1`, mapID, now)
	if err != nil {
		return fmt.Errorf("failed to touch map: %w", err)
	}
	return nil
}
