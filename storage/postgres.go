package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"autolist/models"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

type PostgresStore struct {
	pool Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// =============================================================================
// Listings
// =============================================================================

const listingColumns = `id, source, external_id, url, brand_raw, brand_normalized, brand_confidence,
			model, year_raw, year, price_raw, price, mileage_raw, mileage, title, description,
			content_hash, normalization_state, active, created_at, updated_at`

func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	var state string
	err := row.Scan(
		&l.ID, &l.Source, &l.ExternalID, &l.URL, &l.BrandRaw, &l.BrandNormalized, &l.BrandConfidence,
		&l.Model, &l.YearRaw, &l.Year, &l.PriceRaw, &l.Price, &l.MileageRaw, &l.Mileage, &l.Title, &l.Description,
		&l.ContentHash, &state, &l.Active, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.NormalizationState = models.NormalizationState(state)
	return &l, nil
}

func collectListings(rows pgx.Rows) ([]models.Listing, error) {
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

// UpsertListing inserts a listing or refreshes its raw fields. A changed
// content hash sends the listing back to pending.
func (s *PostgresStore) UpsertListing(ctx context.Context, l *models.Listing) error {
	query := `
		INSERT INTO listings (
			id, source, external_id, url, brand_raw, model, year_raw, price_raw, mileage_raw,
			title, description, content_hash, normalization_state, active, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			source = EXCLUDED.source,
			external_id = EXCLUDED.external_id,
			url = EXCLUDED.url,
			brand_raw = EXCLUDED.brand_raw,
			model = EXCLUDED.model,
			year_raw = EXCLUDED.year_raw,
			price_raw = EXCLUDED.price_raw,
			mileage_raw = EXCLUDED.mileage_raw,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			normalization_state = CASE
				WHEN listings.content_hash IS DISTINCT FROM EXCLUDED.content_hash THEN 'pending'
				ELSE listings.normalization_state
			END,
			content_hash = EXCLUDED.content_hash,
			active = EXCLUDED.active,
			updated_at = NOW()`

	if l.NormalizationState == "" {
		l.NormalizationState = models.NormalizationPending
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		l.ID, l.Source, l.ExternalID, l.URL, l.BrandRaw, l.Model, l.YearRaw, l.PriceRaw, l.MileageRaw,
		l.Title, l.Description, l.ContentHash, string(l.NormalizationState), l.Active, l.CreatedAt,
	)
	return eris.Wrap(err, "postgres: upsert listing")
}

func (s *PostgresStore) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	l, err := scanListing(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get listing")
	}
	return l, nil
}

func (s *PostgresStore) GetPendingListings(ctx context.Context, limit int, source string) ([]models.Listing, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if source != "" {
		rows, err = s.pool.Query(ctx, `
			SELECT `+listingColumns+`
			FROM listings
			WHERE normalization_state = 'pending' AND source = $1
			ORDER BY created_at ASC, id ASC
			LIMIT $2`, source, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+listingColumns+`
			FROM listings
			WHERE normalization_state = 'pending'
			ORDER BY created_at ASC, id ASC
			LIMIT $1`, limit)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get pending listings")
	}

	listings, err := collectListings(rows)
	return listings, eris.Wrap(err, "postgres: scan pending listings")
}

func (s *PostgresStore) UpdateListingNormalization(ctx context.Context, l *models.Listing) error {
	query := `
		UPDATE listings SET
			brand_normalized = $2,
			brand_confidence = $3,
			price = $4,
			mileage = $5,
			year = $6,
			normalization_state = $7,
			updated_at = NOW()
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query,
		l.ID, l.BrandNormalized, l.BrandConfidence, l.Price, l.Mileage, l.Year, string(l.NormalizationState),
	)
	return eris.Wrap(err, "postgres: update listing normalization")
}

func (s *PostgresStore) MarkListingState(ctx context.Context, id uuid.UUID, state models.NormalizationState) error {
	query := `UPDATE listings SET normalization_state = $2, updated_at = NOW() WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, string(state))
	return eris.Wrap(err, "postgres: mark listing state")
}

func (s *PostgresStore) GetActiveNormalizedListings(ctx context.Context, limit int) ([]models.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE active = TRUE AND normalization_state = 'processed'
		ORDER BY created_at DESC, id ASC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get active listings")
	}

	listings, err := collectListings(rows)
	return listings, eris.Wrap(err, "postgres: scan active listings")
}

// =============================================================================
// Brand Aliases
// =============================================================================

func (s *PostgresStore) UpsertBrandAlias(ctx context.Context, a models.BrandAlias) error {
	query := `
		INSERT INTO brand_aliases (raw_brand, canonical_brand, confidence, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (raw_brand) DO UPDATE SET
			canonical_brand = EXCLUDED.canonical_brand,
			confidence = EXCLUDED.confidence,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query, a.RawBrand, a.CanonicalBrand, a.Confidence)
	return eris.Wrap(err, "postgres: upsert brand alias")
}

func (s *PostgresStore) ListBrandAliases(ctx context.Context) ([]models.BrandAlias, error) {
	query := `SELECT raw_brand, canonical_brand, confidence, updated_at FROM brand_aliases ORDER BY raw_brand`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list brand aliases")
	}
	defer rows.Close()

	var aliases []models.BrandAlias
	for rows.Next() {
		var a models.BrandAlias
		if err := rows.Scan(&a.RawBrand, &a.CanonicalBrand, &a.Confidence, &a.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan brand alias")
		}
		aliases = append(aliases, a)
	}
	return aliases, eris.Wrap(rows.Err(), "postgres: list brand aliases")
}

// =============================================================================
// Similarity Relations
// =============================================================================

func (s *PostgresStore) UpsertSimilarityRelation(ctx context.Context, r *models.SimilarityRelation) error {
	query := `
		INSERT INTO similarity_relations (
			listing_a_id, listing_b_id, similarity_type, score, detail, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (listing_a_id, listing_b_id, similarity_type) DO UPDATE SET
			score = EXCLUDED.score,
			detail = EXCLUDED.detail,
			updated_at = NOW()`

	r.ListingA, r.ListingB = models.OrderedPair(r.ListingA, r.ListingB)
	detail, err := json.Marshal(r.Detail)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal relation detail")
	}

	_, err = s.pool.Exec(ctx, query, r.ListingA, r.ListingB, string(r.Type), r.Score, detail)
	return eris.Wrap(err, "postgres: upsert similarity relation")
}

func (s *PostgresStore) ListSimilarityRelations(ctx context.Context, listingID *uuid.UUID, limit int) ([]models.SimilarityRelation, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if listingID != nil {
		rows, err = s.pool.Query(ctx, `
			SELECT listing_a_id, listing_b_id, similarity_type, score, detail, created_at, updated_at
			FROM similarity_relations
			WHERE listing_a_id = $1 OR listing_b_id = $1
			ORDER BY score DESC, listing_a_id, listing_b_id
			LIMIT $2`, *listingID, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT listing_a_id, listing_b_id, similarity_type, score, detail, created_at, updated_at
			FROM similarity_relations
			ORDER BY score DESC, listing_a_id, listing_b_id
			LIMIT $1`, limit)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list similarity relations")
	}
	defer rows.Close()

	var relations []models.SimilarityRelation
	for rows.Next() {
		var (
			r      models.SimilarityRelation
			typ    string
			detail []byte
		)
		if err := rows.Scan(&r.ListingA, &r.ListingB, &typ, &r.Score, &detail, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan similarity relation")
		}
		r.Type = models.SimilarityType(typ)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &r.Detail); err != nil {
				return nil, eris.Wrap(err, "postgres: decode relation detail")
			}
		}
		relations = append(relations, r)
	}
	return relations, eris.Wrap(rows.Err(), "postgres: list similarity relations")
}

// =============================================================================
// Engine Runs
// =============================================================================

func (s *PostgresStore) CreateRun(ctx context.Context, r *models.EngineRun) error {
	query := `
		INSERT INTO engine_runs (id, kind, status, started_at, params)
		VALUES ($1, $2, $3, $4, $5)`

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = models.RunStatusRunning
	}
	_, err := s.pool.Exec(ctx, query, r.ID, string(r.Kind), string(r.Status), r.StartedAt, jsonArg(r.Params))
	return eris.Wrap(err, "postgres: create run")
}

func (s *PostgresStore) FinishRun(ctx context.Context, r *models.EngineRun) error {
	query := `
		UPDATE engine_runs SET status = $2, finished_at = $3, stats = $4, error = $5
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query, r.ID, string(r.Status), r.FinishedAt, jsonArg(r.Stats), r.Error)
	return eris.Wrap(err, "postgres: finish run")
}

// jsonArg maps an empty document to SQL NULL.
func jsonArg(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*models.EngineRun, error) {
	query := `
		SELECT id, kind, status, started_at, finished_at, params, stats, error
		FROM engine_runs WHERE id = $1`

	var (
		r             models.EngineRun
		kind, status  string
		params, stats []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&r.ID, &kind, &status, &r.StartedAt, &r.FinishedAt, &params, &stats, &r.Error,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get run")
	}
	r.Kind = models.RunKind(kind)
	r.Status = models.RunStatus(status)
	r.Params = params
	r.Stats = stats
	return &r, nil
}
