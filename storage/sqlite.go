package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"

	"autolist/models"
)

// SQLiteStore is the single-file backend for local runs and tests.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}

	store := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: migrate")
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL DEFAULT '',
		external_id TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		brand_raw TEXT NOT NULL DEFAULT '',
		brand_normalized TEXT,
		brand_confidence REAL,
		model TEXT NOT NULL DEFAULT '',
		year_raw TEXT NOT NULL DEFAULT '',
		year INTEGER,
		price_raw TEXT NOT NULL DEFAULT '',
		price REAL,
		mileage_raw TEXT NOT NULL DEFAULT '',
		mileage REAL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		content_hash TEXT,
		normalization_state TEXT NOT NULL DEFAULT 'pending',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS brand_aliases (
		raw_brand TEXT PRIMARY KEY,
		canonical_brand TEXT NOT NULL,
		confidence REAL NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS similarity_relations (
		listing_a_id TEXT NOT NULL,
		listing_b_id TEXT NOT NULL,
		similarity_type TEXT NOT NULL,
		score REAL NOT NULL,
		detail JSON,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(listing_a_id, listing_b_id, similarity_type)
	);

	CREATE TABLE IF NOT EXISTS engine_runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		params JSON,
		stats JSON,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_listings_pending ON listings(normalization_state, created_at);
	CREATE INDEX IF NOT EXISTS idx_listings_source ON listings(source, external_id);
	CREATE INDEX IF NOT EXISTS idx_relations_listing_b ON similarity_relations(listing_b_id);
	CREATE INDEX IF NOT EXISTS idx_runs_kind ON engine_runs(kind, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteListing(row rowScanner) (*models.Listing, error) {
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

func (s *SQLiteStore) queryListings(ctx context.Context, query string, args ...any) ([]models.Listing, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		l, err := scanSQLiteListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func (s *SQLiteStore) UpsertListing(ctx context.Context, l *models.Listing) error {
	if l.NormalizationState == "" {
		l.NormalizationState = models.NormalizationPending
	}
	now := s.now()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listings (
			id, source, external_id, url, brand_raw, model, year_raw, price_raw, mileage_raw,
			title, description, content_hash, normalization_state, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			external_id = excluded.external_id,
			url = excluded.url,
			brand_raw = excluded.brand_raw,
			model = excluded.model,
			year_raw = excluded.year_raw,
			price_raw = excluded.price_raw,
			mileage_raw = excluded.mileage_raw,
			title = excluded.title,
			description = excluded.description,
			normalization_state = CASE
				WHEN listings.content_hash IS NOT excluded.content_hash THEN 'pending'
				ELSE listings.normalization_state
			END,
			content_hash = excluded.content_hash,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		l.ID, l.Source, l.ExternalID, l.URL, l.BrandRaw, l.Model, l.YearRaw, l.PriceRaw, l.MileageRaw,
		l.Title, l.Description, l.ContentHash, string(l.NormalizationState), l.Active, l.CreatedAt.UTC(), now,
	)
	return eris.Wrap(err, "sqlite: upsert listing")
}

func (s *SQLiteStore) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)
	l, err := scanSQLiteListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get listing")
	}
	return l, nil
}

func (s *SQLiteStore) GetPendingListings(ctx context.Context, limit int, source string) ([]models.Listing, error) {
	var (
		listings []models.Listing
		err      error
	)
	if source != "" {
		listings, err = s.queryListings(ctx, `
			SELECT `+listingColumns+`
			FROM listings
			WHERE normalization_state = 'pending' AND source = ?
			ORDER BY created_at ASC, id ASC
			LIMIT ?`, source, limit)
	} else {
		listings, err = s.queryListings(ctx, `
			SELECT `+listingColumns+`
			FROM listings
			WHERE normalization_state = 'pending'
			ORDER BY created_at ASC, id ASC
			LIMIT ?`, limit)
	}
	return listings, eris.Wrap(err, "sqlite: get pending listings")
}

func (s *SQLiteStore) UpdateListingNormalization(ctx context.Context, l *models.Listing) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE listings SET
			brand_normalized = ?,
			brand_confidence = ?,
			price = ?,
			mileage = ?,
			year = ?,
			normalization_state = ?,
			updated_at = ?
		WHERE id = ?`,
		l.BrandNormalized, l.BrandConfidence, l.Price, l.Mileage, l.Year,
		string(l.NormalizationState), s.now(), l.ID,
	)
	return eris.Wrap(err, "sqlite: update listing normalization")
}

func (s *SQLiteStore) MarkListingState(ctx context.Context, id uuid.UUID, state models.NormalizationState) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE listings SET normalization_state = ?, updated_at = ? WHERE id = ?`,
		string(state), s.now(), id,
	)
	return eris.Wrap(err, "sqlite: mark listing state")
}

func (s *SQLiteStore) GetActiveNormalizedListings(ctx context.Context, limit int) ([]models.Listing, error) {
	listings, err := s.queryListings(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE active = 1 AND normalization_state = 'processed'
		ORDER BY created_at DESC, id ASC
		LIMIT ?`, limit)
	return listings, eris.Wrap(err, "sqlite: get active listings")
}

func (s *SQLiteStore) UpsertBrandAlias(ctx context.Context, a models.BrandAlias) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO brand_aliases (raw_brand, canonical_brand, confidence, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(raw_brand) DO UPDATE SET
			canonical_brand = excluded.canonical_brand,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at`,
		a.RawBrand, a.CanonicalBrand, a.Confidence, s.now(),
	)
	return eris.Wrap(err, "sqlite: upsert brand alias")
}

func (s *SQLiteStore) ListBrandAliases(ctx context.Context) ([]models.BrandAlias, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT raw_brand, canonical_brand, confidence, updated_at FROM brand_aliases ORDER BY raw_brand`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list brand aliases")
	}
	defer rows.Close()

	var aliases []models.BrandAlias
	for rows.Next() {
		var a models.BrandAlias
		if err := rows.Scan(&a.RawBrand, &a.CanonicalBrand, &a.Confidence, &a.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan brand alias")
		}
		aliases = append(aliases, a)
	}
	return aliases, eris.Wrap(rows.Err(), "sqlite: list brand aliases")
}

func (s *SQLiteStore) UpsertSimilarityRelation(ctx context.Context, r *models.SimilarityRelation) error {
	r.ListingA, r.ListingB = models.OrderedPair(r.ListingA, r.ListingB)
	detail, err := json.Marshal(r.Detail)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal relation detail")
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO similarity_relations (
			listing_a_id, listing_b_id, similarity_type, score, detail, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(listing_a_id, listing_b_id, similarity_type) DO UPDATE SET
			score = excluded.score,
			detail = excluded.detail,
			updated_at = excluded.updated_at`,
		r.ListingA, r.ListingB, string(r.Type), r.Score, string(detail), now, now,
	)
	return eris.Wrap(err, "sqlite: upsert similarity relation")
}

func (s *SQLiteStore) ListSimilarityRelations(ctx context.Context, listingID *uuid.UUID, limit int) ([]models.SimilarityRelation, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if listingID != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT listing_a_id, listing_b_id, similarity_type, score, detail, created_at, updated_at
			FROM similarity_relations
			WHERE listing_a_id = ? OR listing_b_id = ?
			ORDER BY score DESC, listing_a_id, listing_b_id
			LIMIT ?`, *listingID, *listingID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT listing_a_id, listing_b_id, similarity_type, score, detail, created_at, updated_at
			FROM similarity_relations
			ORDER BY score DESC, listing_a_id, listing_b_id
			LIMIT ?`, limit)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list similarity relations")
	}
	defer rows.Close()

	var relations []models.SimilarityRelation
	for rows.Next() {
		var (
			r      models.SimilarityRelation
			typ    string
			detail sql.NullString
		)
		if err := rows.Scan(&r.ListingA, &r.ListingB, &typ, &r.Score, &detail, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan similarity relation")
		}
		r.Type = models.SimilarityType(typ)
		if detail.Valid && detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &r.Detail); err != nil {
				return nil, eris.Wrap(err, "sqlite: decode relation detail")
			}
		}
		relations = append(relations, r)
	}
	return relations, eris.Wrap(rows.Err(), "sqlite: list similarity relations")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, r *models.EngineRun) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = models.RunStatusRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO engine_runs (id, kind, status, started_at, params) VALUES (?, ?, ?, ?, ?)`,
		r.ID, string(r.Kind), string(r.Status), r.StartedAt.UTC(), nullJSON(r.Params),
	)
	return eris.Wrap(err, "sqlite: create run")
}

func (s *SQLiteStore) FinishRun(ctx context.Context, r *models.EngineRun) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE engine_runs SET status = ?, finished_at = ?, stats = ?, error = ? WHERE id = ?`,
		string(r.Status), r.FinishedAt, nullJSON(r.Stats), r.Error, r.ID,
	)
	return eris.Wrap(err, "sqlite: finish run")
}

func (s *SQLiteStore) GetRun(ctx context.Context, id uuid.UUID) (*models.EngineRun, error) {
	var (
		r             models.EngineRun
		kind, status  string
		params, stats sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, status, started_at, finished_at, params, stats, error FROM engine_runs WHERE id = ?`, id,
	).Scan(&r.ID, &kind, &status, &r.StartedAt, &r.FinishedAt, &params, &stats, &r.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get run")
	}
	r.Kind = models.RunKind(kind)
	r.Status = models.RunStatus(status)
	if params.Valid {
		r.Params = json.RawMessage(params.String)
	}
	if stats.Valid {
		r.Stats = json.RawMessage(stats.String)
	}
	return &r, nil
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
