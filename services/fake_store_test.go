package services

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"autolist/models"
)

type relationKey struct {
	a, b uuid.UUID
	typ  models.SimilarityType
}

// memStore is an in-memory storage.Store with switchable failures.
type memStore struct {
	mu        sync.Mutex
	listings  []*models.Listing
	aliases   map[string]models.BrandAlias
	relations map[relationKey]models.SimilarityRelation
	runs      map[uuid.UUID]models.EngineRun

	upsertCalls int

	fetchErr    error
	updateErr   error
	aliasErr    error
	relationErr func(r *models.SimilarityRelation) error
	runErr      error
}

func newMemStore(listings ...*models.Listing) *memStore {
	return &memStore{
		listings:  listings,
		aliases:   map[string]models.BrandAlias{},
		relations: map[relationKey]models.SimilarityRelation{},
		runs:      map[uuid.UUID]models.EngineRun{},
	}
}

func (m *memStore) UpsertListing(ctx context.Context, l *models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.listings {
		if existing.ID == l.ID {
			m.listings[i] = l
			return nil
		}
	}
	m.listings = append(m.listings, l)
	return nil
}

func (m *memStore) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.listings {
		if l.ID == id {
			c := *l
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetPendingListings(ctx context.Context, limit int, source string) ([]models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	var out []models.Listing
	for _, l := range m.listings {
		if l.NormalizationState != models.NormalizationPending || (source != "" && l.Source != source) {
			continue
		}
		out = append(out, *l)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) UpdateListingNormalization(ctx context.Context, l *models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	for i, existing := range m.listings {
		if existing.ID == l.ID {
			c := *l
			m.listings[i] = &c
		}
	}
	return nil
}

func (m *memStore) MarkListingState(ctx context.Context, id uuid.UUID, state models.NormalizationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.listings {
		if l.ID == id {
			l.NormalizationState = state
		}
	}
	return nil
}

func (m *memStore) GetActiveNormalizedListings(ctx context.Context, limit int) ([]models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	var out []models.Listing
	for _, l := range m.listings {
		if l.Active && l.NormalizationState == models.NormalizationProcessed {
			out = append(out, *l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) UpsertBrandAlias(ctx context.Context, a models.BrandAlias) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.aliasErr != nil {
		return m.aliasErr
	}
	m.aliases[a.RawBrand] = a
	return nil
}

func (m *memStore) ListBrandAliases(ctx context.Context) ([]models.BrandAlias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BrandAlias
	for _, a := range m.aliases {
		out = append(out, a)
	}
	return out, nil
}

func (m *memStore) UpsertSimilarityRelation(ctx context.Context, r *models.SimilarityRelation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls++
	if m.relationErr != nil {
		if err := m.relationErr(r); err != nil {
			return err
		}
	}
	m.relations[relationKey{r.ListingA, r.ListingB, r.Type}] = *r
	return nil
}

func (m *memStore) ListSimilarityRelations(ctx context.Context, listingID *uuid.UUID, limit int) ([]models.SimilarityRelation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SimilarityRelation
	for _, r := range m.relations {
		if listingID == nil || r.ListingA == *listingID || r.ListingB == *listingID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) CreateRun(ctx context.Context, r *models.EngineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runErr != nil {
		return m.runErr
	}
	m.runs[r.ID] = *r
	return nil
}

func (m *memStore) FinishRun(ctx context.Context, r *models.EngineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runErr != nil {
		return m.runErr
	}
	m.runs[r.ID] = *r
	return nil
}

func (m *memStore) GetRun(ctx context.Context, id uuid.UUID) (*models.EngineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memStore) Ping(ctx context.Context) error { return nil }
func (m *memStore) Close() error                   { return nil }

var errStoreDown = errors.New("connection refused")
