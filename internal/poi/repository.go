package poi

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mapalinear/mapalinear/internal/providers"
)

// lowQualityThreshold flags POIs whose completeness score falls below it
const lowQualityThreshold = 0.3

// Repository is the PostgreSQL-backed canonical POI store
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new POI repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const poiColumns = `
	id, osm_id, here_id, google_place_id, name, type, latitude, longitude,
	COALESCE(city, ''), COALESCE(operator, ''), COALESCE(brand, ''),
	COALESCE(opening_hours, ''), COALESCE(phone, ''), COALESCE(website, ''),
	COALESCE(cuisine, ''), amenities, tags, quality_score, quality_issues,
	is_low_quality, is_disabled, is_referenced, enriched_by, created_at, updated_at
`

func scanPOI(row interface{ Scan(dest ...any) error }) (*POI, error) {
	p := &POI{}
	err := row.Scan(
		&p.ID, &p.OSMID, &p.HEREID, &p.GooglePlaceID, &p.Name, &p.Type,
		&p.Latitude, &p.Longitude, &p.City, &p.Operator, &p.Brand,
		&p.OpeningHours, &p.Phone, &p.Website, &p.Cuisine, &p.Amenities,
		&p.Tags, &p.QualityScore, &p.QualityIssues, &p.IsLowQuality,
		&p.IsDisabled, &p.IsReferenced, &p.EnrichedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpsertFromProvider maps a provider POI onto the canonical row for its
// provider id, creating it on first discovery and updating in place when
// the provider's data drifted.
func (r *Repository) UpsertFromProvider(ctx context.Context, p providers.POI) (*POI, error) {
	var idColumn string
	switch p.Provider {
	case "osm":
		idColumn = "osm_id"
	case "here":
		idColumn = "here_id"
	default:
		return nil, fmt.Errorf("unknown provider %q", p.Provider)
	}

	query := fmt.Sprintf(`
		INSERT INTO pois (
			id, %s, name, type, latitude, longitude, city, operator, brand,
			opening_hours, phone, website, cuisine, amenities, tags,
			quality_score, quality_issues, is_low_quality
		)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''),
			NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, ''), $14, $15, $16, $17, $18)
		ON CONFLICT (%s) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), pois.name),
			type = EXCLUDED.type,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			city = COALESCE(EXCLUDED.city, pois.city),
			operator = COALESCE(EXCLUDED.operator, pois.operator),
			brand = COALESCE(EXCLUDED.brand, pois.brand),
			opening_hours = COALESCE(EXCLUDED.opening_hours, pois.opening_hours),
			phone = COALESCE(EXCLUDED.phone, pois.phone),
			website = COALESCE(EXCLUDED.website, pois.website),
			cuisine = COALESCE(EXCLUDED.cuisine, pois.cuisine),
			amenities = EXCLUDED.amenities,
			tags = EXCLUDED.tags,
			quality_score = EXCLUDED.quality_score,
			quality_issues = EXCLUDED.quality_issues,
			is_low_quality = EXCLUDED.is_low_quality,
			updated_at = NOW()
		RETURNING %s
	`, idColumn, idColumn, poiColumns)

	row := r.db.QueryRow(ctx, query,
		uuid.New(), p.ProviderID, p.Name, string(p.Category), p.Latitude, p.Longitude,
		p.City, p.Operator, p.Brand, p.OpeningHours, p.Phone, p.Website, p.Cuisine,
		p.Amenities, p.Tags, p.QualityScore, p.QualityIssues,
		p.QualityScore < lowQualityThreshold,
	)
	stored, err := scanPOI(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert poi: %w", err)
	}
	return stored, nil
}

// GetByID loads a single POI
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*POI, error) {
	query := fmt.Sprintf(`SELECT %s FROM pois WHERE id = $1`, poiColumns)
	p, err := scanPOI(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get poi: %w", err)
	}
	return p, nil
}

// GetByIDs loads POIs keyed by id
func (r *Repository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*POI, error) {
	query := fmt.Sprintf(`SELECT %s FROM pois WHERE id = ANY($1)`, poiColumns)
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query pois: %w", err)
	}
	defer rows.Close()

	pois := make(map[uuid.UUID]*POI)
	for rows.Next() {
		p, err := scanPOI(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan poi: %w", err)
		}
		pois[p.ID] = p
	}
	return pois, rows.Err()
}

// UpdateCity fills the POI's city after a reverse geocode
func (r *Repository) UpdateCity(ctx context.Context, id uuid.UUID, city string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE pois SET city = NULLIF($2, ''), updated_at = NOW() WHERE id = $1
	`, id, city)
	if err != nil {
		return fmt.Errorf("failed to update poi city: %w", err)
	}
	return nil
}

// ApplyEnrichment merges enrichment fields into the POI. Only empty fields
// are filled; existing provider data wins.
func (r *Repository) ApplyEnrichment(ctx context.Context, id uuid.UUID, e Enrichment) error {
	_, err := r.db.Exec(ctx, `
		UPDATE pois SET
			here_id = COALESCE(here_id, NULLIF($2, '')),
			phone = COALESCE(phone, NULLIF($3, '')),
			website = COALESCE(website, NULLIF($4, '')),
			opening_hours = COALESCE(opening_hours, NULLIF($5, '')),
			enriched_by = CASE
				WHEN NOT ($6 = ANY(enriched_by)) THEN array_append(enriched_by, $6)
				ELSE enriched_by
			END,
			updated_at = NOW()
		WHERE id = $1
	`, id, e.HEREID, e.Phone, e.Website, e.OpeningHours, e.Provider)
	if err != nil {
		return fmt.Errorf("failed to apply poi enrichment: %w", err)
	}
	return nil
}

// MarkReferenced sets is_referenced for the given POIs
func (r *Repository) MarkReferenced(ctx context.Context, ids []uuid.UUID, referenced bool) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		UPDATE pois SET is_referenced = $2, updated_at = NOW() WHERE id = ANY($1)
	`, ids, referenced)
	if err != nil {
		return fmt.Errorf("failed to mark pois referenced: %w", err)
	}
	return nil
}

// RepairReferenced makes is_referenced agree with map_pois in both
// directions. Returns how many rows changed.
func (r *Repository) RepairReferenced(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE pois SET is_referenced = refs.referenced, updated_at = NOW()
		FROM (
			SELECT p.id, EXISTS (SELECT 1 FROM map_pois mp WHERE mp.poi_id = p.id) AS referenced
			FROM pois p
		) refs
		WHERE pois.id = refs.id AND pois.is_referenced <> refs.referenced
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to repair poi references: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountOrphans counts POIs no map references
func (r *Repository) CountOrphans(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM pois p
		WHERE NOT EXISTS (SELECT 1 FROM map_pois mp WHERE mp.poi_id = p.id)
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count orphan pois: %w", err)
	}
	return count, nil
}

// DeleteOrphans removes POIs no map references, together with their
// segment associations
func (r *Repository) DeleteOrphans(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM pois p
		WHERE NOT EXISTS (SELECT 1 FROM map_pois mp WHERE mp.poi_id = p.id)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphan pois: %w", err)
	}
	return tag.RowsAffected(), nil
}
