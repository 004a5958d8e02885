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
	"autolist/normalize"
	"autolist/storage"
)

const (
	// aliasConfidence is the confidence above which a brand mapping is learned.
	aliasConfidence = 0.7
	maxOutcomes     = 10
)

// NormalizationService runs the field normalizer over pending listings
type NormalizationService struct {
	store  storage.Store
	dict   *normalize.BrandDictionary
	cfg    config.EngineConfig
	runs   *runTracker
	logger *zap.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewNormalizationService creates a new NormalizationService. archiver may be nil.
func NewNormalizationService(store storage.Store, dict *normalize.BrandDictionary, cfg config.EngineConfig, archiver storage.RunArchiver, logger *zap.Logger) *NormalizationService {
	logger = logger.Named("normalize")
	now := func() time.Time { return time.Now().UTC() }
	return &NormalizationService{
		store:  store,
		dict:   dict,
		cfg:    cfg,
		runs:   newRunTracker(store, archiver, logger, now),
		logger: logger,
		now:    now,
	}
}

// NormalizeRequest is the normalization invocation. A zero Limit means the
// configured default.
type NormalizeRequest struct {
	Limit      int    `json:"limit"`
	SiteFilter string `json:"site_filter,omitempty"`
}

// ListingOutcome is the per-listing result of a normalization run
type ListingOutcome struct {
	ListingID       uuid.UUID `json:"listing_id"`
	Success         bool      `json:"success"`
	BrandRaw        string    `json:"brand_raw"`
	BrandNormalized string    `json:"brand_normalized,omitempty"`
	BrandConfidence float64   `json:"brand_confidence"`
	BrandMethod     string    `json:"brand_method,omitempty"`
	Price           *float64  `json:"price"`
	Mileage         *float64  `json:"mileage"`
	Year            *int      `json:"year"`
	Error           string    `json:"error,omitempty"`
}

type NormalizeResult struct {
	RunID      uuid.UUID        `json:"run_id"`
	Processed  int              `json:"processed"`
	Successful int              `json:"successful"`
	Failed     int              `json:"failed"`
	Results    []ListingOutcome `json:"results"`
}

func (s *NormalizationService) validate(req *NormalizeRequest) error {
	if req.Limit < 0 || req.Limit > s.cfg.MaxBatch {
		return eris.Wrapf(apperrors.ErrValidation, "limit must be within [0,%d], got %d", s.cfg.MaxBatch, req.Limit)
	}
	if req.Limit == 0 {
		req.Limit = s.cfg.NormalizeLimit
	}
	return nil
}

// Run normalizes up to req.Limit pending listings. Per-listing failures are
// reported in the result and never abort the batch. Only a failed fetch of
// the pending batch fails the run.
func (s *NormalizationService) Run(ctx context.Context, req NormalizeRequest) (*NormalizeResult, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run := s.runs.start(ctx, models.RunKindNormalize, req)
	result := &NormalizeResult{RunID: run.ID, Results: []ListingOutcome{}}

	listings, err := s.store.GetPendingListings(ctx, req.Limit, req.SiteFilter)
	if err != nil {
		err = eris.Wrapf(apperrors.ErrUpstreamUnavailable, "services: normalize: fetch pending listings: %v", err)
		s.logger.Error("Normalization run failed", zap.Error(err))
		s.runs.finish(ctx, run, result, err)
		return nil, err
	}

	learned := s.loadAliases(ctx)
	currentYear := s.now().Year()

	var runErr error
	for i := range listings {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		outcome := s.normalizeListing(ctx, &listings[i], learned, currentYear)
		result.Processed++
		if outcome.Success {
			result.Successful++
		} else {
			result.Failed++
		}
		if len(result.Results) < maxOutcomes {
			result.Results = append(result.Results, outcome)
		}
	}

	s.logger.Info("Normalization run finished",
		zap.String("run_id", run.ID.String()),
		zap.String("site", req.SiteFilter),
		zap.Int("processed", result.Processed),
		zap.Int("successful", result.Successful),
		zap.Int("failed", result.Failed),
	)
	s.runs.finish(ctx, run, result, runErr)
	return result, runErr
}

// loadAliases reads the learned alias table once per run. The run falls back
// to the dictionary alone when the table is unreadable.
func (s *NormalizationService) loadAliases(ctx context.Context) map[string]models.BrandAlias {
	aliases, err := s.store.ListBrandAliases(ctx)
	if err != nil {
		s.logger.Warn("Failed to load learned brand aliases", zap.Error(err))
		return nil
	}
	learned := make(map[string]models.BrandAlias, len(aliases))
	for _, a := range aliases {
		learned[normalize.FoldBrand(a.RawBrand)] = a
	}
	return learned
}

func (s *NormalizationService) normalizeListing(ctx context.Context, l *models.Listing, learned map[string]models.BrandAlias, currentYear int) ListingOutcome {
	match := s.dict.Match(l.BrandRaw, learned)

	l.BrandNormalized = nil
	l.BrandConfidence = nil
	if match.Canonical != "" {
		canonical, confidence := match.Canonical, match.Confidence
		l.BrandNormalized = &canonical
		l.BrandConfidence = &confidence
	}
	l.Price = normalize.NormalizePrice(l.PriceRaw)
	l.Mileage = normalize.NormalizeMileage(l.MileageRaw)
	l.Year = normalize.NormalizeYear(l.YearRaw, currentYear)
	l.NormalizationState = models.NormalizationProcessed

	outcome := ListingOutcome{
		ListingID:       l.ID,
		BrandRaw:        l.BrandRaw,
		BrandNormalized: match.Canonical,
		BrandConfidence: match.Confidence,
		BrandMethod:     match.Method,
		Price:           l.Price,
		Mileage:         l.Mileage,
		Year:            l.Year,
	}

	if err := s.store.UpdateListingNormalization(ctx, l); err != nil {
		err = eris.Wrapf(apperrors.ErrNormalization, "services: normalize: listing %s: %v", l.ID, err)
		s.logger.Warn("Failed to write normalized listing", zap.String("listing_id", l.ID.String()), zap.Error(err))
		if markErr := s.store.MarkListingState(ctx, l.ID, models.NormalizationError); markErr != nil {
			s.logger.Warn("Failed to mark listing as errored", zap.String("listing_id", l.ID.String()), zap.Error(markErr))
		}
		l.NormalizationState = models.NormalizationError
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Success = true

	if match.Confidence > aliasConfidence && match.Method != normalize.MethodAlias {
		alias := models.BrandAlias{RawBrand: match.Key, CanonicalBrand: match.Canonical, Confidence: match.Confidence}
		if err := s.store.UpsertBrandAlias(ctx, alias); err != nil {
			err = eris.Wrapf(apperrors.ErrPersistence, "services: normalize: upsert alias %q: %v", match.Key, err)
			s.logger.Warn("Failed to learn brand alias", zap.Error(err))
		}
	}
	return outcome
}
