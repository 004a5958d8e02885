package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"autolist/apperrors"
	"autolist/config"
	"autolist/models"
	"autolist/similarity"
	"autolist/storage"
)

const maxReportedDuplicates = 20

// DetectionService finds probable duplicate listings across sources
type DetectionService struct {
	store  storage.Store
	cfg    config.EngineConfig
	runs   *runTracker
	logger *zap.Logger

	mu sync.Mutex
}

// NewDetectionService creates a new DetectionService. archiver may be nil.
func NewDetectionService(store storage.Store, cfg config.EngineConfig, archiver storage.RunArchiver, logger *zap.Logger) *DetectionService {
	logger = logger.Named("detect")
	now := func() time.Time { return time.Now().UTC() }
	return &DetectionService{
		store:  store,
		cfg:    cfg,
		runs:   newRunTracker(store, archiver, logger, now),
		logger: logger,
	}
}

// DetectRequest is the duplicate-detection invocation. Zero values fall back
// to the configured defaults.
type DetectRequest struct {
	Limit     int      `json:"limit"`
	Threshold *float64 `json:"similarity_threshold,omitempty"`
}

type Duplicate struct {
	ListingA       uuid.UUID             `json:"listing_a"`
	ListingB       uuid.UUID             `json:"listing_b"`
	Similarity     float64               `json:"similarity"`
	SimilarityType models.SimilarityType `json:"similarity_type"`
}

type DetectResult struct {
	RunID           uuid.UUID   `json:"run_id"`
	Processed       int         `json:"processed"`
	Comparisons     int         `json:"comparisons"`
	DuplicatesFound int         `json:"duplicates_found"`
	Duplicates      []Duplicate `json:"duplicates"`
	PersistErrors   int         `json:"persist_errors"`
}

func (s *DetectionService) validate(req DetectRequest) (int, float64, error) {
	if req.Limit < 0 || req.Limit > s.cfg.MaxBatch {
		return 0, 0, eris.Wrapf(apperrors.ErrValidation, "limit must be within [0,%d], got %d", s.cfg.MaxBatch, req.Limit)
	}
	limit := req.Limit
	if limit == 0 {
		limit = s.cfg.DetectLimit
	}

	threshold := s.cfg.DetectThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return 0, 0, eris.Wrapf(apperrors.ErrValidation, "similarity_threshold must be within [0,1], got %v", threshold)
	}
	return limit, threshold, nil
}

// Run scores every unordered pair of the newest active, processed listings
// and persists the pairs at or above the threshold. A single relation write
// failure is logged and counted; the run continues. Cancelling ctx stops the
// scan between rows and returns the partial result with ctx's error.
func (s *DetectionService) Run(ctx context.Context, req DetectRequest) (*DetectResult, error) {
	limit, threshold, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	params := DetectRequest{Limit: limit, Threshold: &threshold}
	run := s.runs.start(ctx, models.RunKindDetect, params)
	result := &DetectResult{RunID: run.ID, Duplicates: []Duplicate{}}

	listings, err := s.store.GetActiveNormalizedListings(ctx, limit)
	if err != nil {
		err = eris.Wrapf(apperrors.ErrUpstreamUnavailable, "services: detect: fetch candidates: %v", err)
		s.logger.Error("Detection run failed", zap.Error(err))
		s.runs.finish(ctx, run, result, err)
		return nil, err
	}

	n := len(listings)
	result.Processed = n
	if n < 2 {
		s.logger.Info("Not enough listings to compare", zap.Int("listings", n))
		s.runs.finish(ctx, run, result, nil)
		return result, nil
	}

	var runErr error
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		for j := i + 1; j < n; j++ {
			score := similarity.Score(&listings[i], &listings[j])
			result.Comparisons++
			if score.Score < threshold {
				continue
			}

			a, b := models.OrderedPair(listings[i].ID, listings[j].ID)
			relation := &models.SimilarityRelation{
				ListingA: a,
				ListingB: b,
				Type:     score.Type,
				Score:    score.Score,
				Detail:   score.Detail,
			}
			if err := s.store.UpsertSimilarityRelation(ctx, relation); err != nil {
				result.PersistErrors++
				err = eris.Wrapf(apperrors.ErrPersistence, "services: detect: upsert relation %s/%s: %v", a, b, err)
				s.logger.Warn("Failed to persist similarity relation", zap.Error(err))
				continue
			}

			result.DuplicatesFound++
			if len(result.Duplicates) < maxReportedDuplicates {
				result.Duplicates = append(result.Duplicates, Duplicate{
					ListingA:       a,
					ListingB:       b,
					Similarity:     score.Score,
					SimilarityType: score.Type,
				})
			}
		}
	}

	s.logger.Info("Detection run finished",
		zap.String("run_id", run.ID.String()),
		zap.Int("processed", result.Processed),
		zap.Int("comparisons", result.Comparisons),
		zap.Int("duplicates_found", result.DuplicatesFound),
		zap.Int("persist_errors", result.PersistErrors),
		zap.Float64("threshold", threshold),
	)
	s.runs.finish(ctx, run, result, runErr)
	return result, runErr
}
