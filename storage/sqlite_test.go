package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autolist/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "autolist.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func TestSQLiteStore_ListingLifecycle(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	l := &models.Listing{
		ID:          uuid.New(),
		Source:      "site-a",
		BrandRaw:    "Chevy",
		Model:       "Onix",
		YearRaw:     "2020",
		PriceRaw:    "250,000",
		ContentHash: strPtr("h1"),
		Active:      true,
	}
	require.NoError(t, s.UpsertListing(ctx, l))

	pending, err := s.GetPendingListings(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, l.ID, pending[0].ID)
	assert.Nil(t, pending[0].Price)

	brand := "chevrolet"
	conf := 1.0
	price := 250000.0
	year := 2020
	l.BrandNormalized = &brand
	l.BrandConfidence = &conf
	l.Price = &price
	l.Year = &year
	l.NormalizationState = models.NormalizationProcessed
	require.NoError(t, s.UpdateListingNormalization(ctx, l))

	got, err := s.GetListing(ctx, l.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "chevrolet", *got.BrandNormalized)
	assert.Equal(t, 2020, *got.Year)
	assert.Equal(t, 250000.0, *got.Price)
	assert.Nil(t, got.Mileage)
	assert.Equal(t, models.NormalizationProcessed, got.NormalizationState)
	assert.True(t, got.Active)

	pending, err = s.GetPendingListings(ctx, 10, "")
	require.NoError(t, err)
	assert.Empty(t, pending)

	active, err := s.GetActiveNormalizedListings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestSQLiteStore_UpsertListing_ChangedContentReturnsToPending(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	l := &models.Listing{ID: uuid.New(), BrandRaw: "Toyota", ContentHash: strPtr("h1"), Active: true}
	require.NoError(t, s.UpsertListing(ctx, l))
	require.NoError(t, s.MarkListingState(ctx, l.ID, models.NormalizationProcessed))

	// Same content keeps the processed state.
	require.NoError(t, s.UpsertListing(ctx, l))
	got, err := s.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NormalizationProcessed, got.NormalizationState)

	l.PriceRaw = "199,000"
	l.ContentHash = strPtr("h2")
	require.NoError(t, s.UpsertListing(ctx, l))
	got, err = s.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NormalizationPending, got.NormalizationState)
	assert.Equal(t, "199,000", got.PriceRaw)
}

func TestSQLiteStore_GetListing_NotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	got, err := s.GetListing(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_PendingSiteFilterAndOrder(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	first := &models.Listing{ID: uuid.New(), Source: "site-a", CreatedAt: base, Active: true}
	second := &models.Listing{ID: uuid.New(), Source: "site-a", CreatedAt: base.Add(time.Hour), Active: true}
	other := &models.Listing{ID: uuid.New(), Source: "site-b", CreatedAt: base, Active: true}
	for _, l := range []*models.Listing{second, other, first} {
		require.NoError(t, s.UpsertListing(ctx, l))
	}

	pending, err := s.GetPendingListings(ctx, 10, "site-a")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)

	pending, err = s.GetPendingListings(ctx, 1, "")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSQLiteStore_ActiveListingsNewestFirstAndFiltered(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	older := &models.Listing{ID: uuid.New(), CreatedAt: base, Active: true, NormalizationState: models.NormalizationProcessed}
	newer := &models.Listing{ID: uuid.New(), CreatedAt: base.Add(time.Hour), Active: true, NormalizationState: models.NormalizationProcessed}
	inactive := &models.Listing{ID: uuid.New(), CreatedAt: base, Active: false, NormalizationState: models.NormalizationProcessed}
	pending := &models.Listing{ID: uuid.New(), CreatedAt: base, Active: true}
	for _, l := range []*models.Listing{older, newer, inactive, pending} {
		require.NoError(t, s.UpsertListing(ctx, l))
	}

	active, err := s.GetActiveNormalizedListings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, newer.ID, active[0].ID)
	assert.Equal(t, older.ID, active[1].ID)
}

func TestSQLiteStore_BrandAliasUpsert(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertBrandAlias(ctx, models.BrandAlias{RawBrand: "toyta", CanonicalBrand: "toyota", Confidence: 0.8}))
	require.NoError(t, s.UpsertBrandAlias(ctx, models.BrandAlias{RawBrand: "toyta", CanonicalBrand: "toyota", Confidence: 0.9}))
	require.NoError(t, s.UpsertBrandAlias(ctx, models.BrandAlias{RawBrand: "chevy", CanonicalBrand: "chevrolet", Confidence: 1}))

	aliases, err := s.ListBrandAliases(ctx)
	require.NoError(t, err)
	require.Len(t, aliases, 2)
	assert.Equal(t, "chevy", aliases[0].RawBrand)
	assert.Equal(t, "toyta", aliases[1].RawBrand)
	assert.Equal(t, 0.9, aliases[1].Confidence)
}

func TestSQLiteStore_SimilarityRelationUpsertIsKeyedAndOrdered(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	a, b := models.OrderedPair(uuid.New(), uuid.New())
	title := 1.0

	// Reversed on purpose: the store canonicalizes.
	require.NoError(t, s.UpsertSimilarityRelation(ctx, &models.SimilarityRelation{
		ListingA: b, ListingB: a, Type: models.SimilarityFuzzyText, Score: 0.71,
	}))
	require.NoError(t, s.UpsertSimilarityRelation(ctx, &models.SimilarityRelation{
		ListingA: a, ListingB: b, Type: models.SimilarityFuzzyText, Score: 0.74,
		Detail: models.SimilarityDetail{Title: &title},
	}))
	require.NoError(t, s.UpsertSimilarityRelation(ctx, &models.SimilarityRelation{
		ListingA: a, ListingB: b, Type: models.SimilarityExact, Score: 1,
	}))

	relations, err := s.ListSimilarityRelations(ctx, &b, 10)
	require.NoError(t, err)
	require.Len(t, relations, 2)
	assert.Equal(t, models.SimilarityExact, relations[0].Type)
	assert.Equal(t, models.SimilarityFuzzyText, relations[1].Type)
	assert.Equal(t, 0.74, relations[1].Score)
	assert.Equal(t, a, relations[1].ListingA)
	require.NotNil(t, relations[1].Detail.Title)

	all, err := s.ListSimilarityRelations(ctx, nil, 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	other := uuid.New()
	none, err := s.ListSimilarityRelations(ctx, &other, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	run := &models.EngineRun{
		Kind:      models.RunKindNormalize,
		StartedAt: time.Now().UTC(),
		Params:    json.RawMessage(`{"limit":50}`),
	}
	require.NoError(t, s.CreateRun(ctx, run))

	finished := time.Now().UTC()
	run.Status = models.RunStatusCompleted
	run.FinishedAt = &finished
	run.Stats = json.RawMessage(`{"processed":3}`)
	require.NoError(t, s.FinishRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.RunKindNormalize, got.Kind)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.NotNil(t, got.FinishedAt)
	assert.JSONEq(t, `{"processed":3}`, string(got.Stats))
	assert.JSONEq(t, `{"limit":50}`, string(got.Params))

	missing, err := s.GetRun(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
