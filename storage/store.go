package storage

import (
	"context"

	"github.com/google/uuid"

	"autolist/models"
)

// ListingStore is the listing side of the engine: ingestion writes, the
// normalizer reads pending rows, and detection reads processed ones.
type ListingStore interface {
	UpsertListing(ctx context.Context, l *models.Listing) error
	GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	// GetPendingListings returns pending listings oldest first. An empty
	// source means every site.
	GetPendingListings(ctx context.Context, limit int, source string) ([]models.Listing, error)
	UpdateListingNormalization(ctx context.Context, l *models.Listing) error
	MarkListingState(ctx context.Context, id uuid.UUID, state models.NormalizationState) error
	// GetActiveNormalizedListings returns active, processed listings newest first.
	GetActiveNormalizedListings(ctx context.Context, limit int) ([]models.Listing, error)
}

type AliasStore interface {
	UpsertBrandAlias(ctx context.Context, a models.BrandAlias) error
	ListBrandAliases(ctx context.Context) ([]models.BrandAlias, error)
}

type RelationStore interface {
	UpsertSimilarityRelation(ctx context.Context, r *models.SimilarityRelation) error
	// ListSimilarityRelations returns relations touching listingID (all when
	// nil), highest score first.
	ListSimilarityRelations(ctx context.Context, listingID *uuid.UUID, limit int) ([]models.SimilarityRelation, error)
}

type RunStore interface {
	CreateRun(ctx context.Context, r *models.EngineRun) error
	FinishRun(ctx context.Context, r *models.EngineRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.EngineRun, error)
}

// Store is implemented by both the Postgres and the SQLite backend.
type Store interface {
	ListingStore
	AliasStore
	RelationStore
	RunStore
	Ping(ctx context.Context) error
	Close() error
}
