package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"autolist/apperrors"
	"autolist/config"
	"autolist/models"
	"autolist/normalize"
	"autolist/services"
	"autolist/storage"
)

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{NormalizeLimit: 50, DetectLimit: 100, DetectThreshold: 0.7, MaxBatch: 500}
}

func testHTTPConfig() config.HTTPConfig {
	return config.HTTPConfig{CORSOrigins: []string{"*"}, RunRatePerMin: 100}
}

type testServer struct {
	store  *storage.SQLiteStore
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := zap.NewNop()
	dict := normalize.NewBrandDictionary(map[string][]string{
		"chevrolet": {"chevy", "chev"},
		"toyota":    {},
	})
	normalizer := services.NewNormalizationService(store, dict, testEngineConfig(), storage.NoOpArchiver{}, logger)
	detector := services.NewDetectionService(store, testEngineConfig(), storage.NoOpArchiver{}, logger)

	h := NewHandler(normalizer, detector, store, logger)
	return &testServer{store: store, router: NewRouter(h, testHTTPConfig())}
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func seedListing(t *testing.T, store *storage.SQLiteStore, brand, hash string) uuid.UUID {
	t.Helper()
	l := &models.Listing{
		ID:          uuid.New(),
		Source:      "site-a",
		BrandRaw:    brand,
		Model:       "Onix",
		YearRaw:     "2020",
		PriceRaw:    "200,000",
		MileageRaw:  "40,000 km",
		Title:       "Chevrolet Onix 2020",
		Description: "Single owner, full service history",
		ContentHash: &hash,
		Active:      true,
	}
	require.NoError(t, store.UpsertListing(context.Background(), l))
	return l.ID
}

func TestHandler_Health(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestHandler_NormalizeDetectAndRelations(t *testing.T) {
	s := newTestServer(t)
	a := seedListing(t, s.store, "Chevy", "same-hash")
	b := seedListing(t, s.store, "Chev", "same-hash")

	rec := s.do(t, http.MethodPost, "/v1/normalize", `{"limit": 10}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	norm := decode[services.NormalizeResult](t, rec)
	assert.Equal(t, 2, norm.Processed)
	assert.Equal(t, 2, norm.Successful)
	assert.Equal(t, 0, norm.Failed)

	rec = s.do(t, http.MethodPost, "/v1/detect", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	det := decode[services.DetectResult](t, rec)
	assert.Equal(t, 2, det.Processed)
	assert.Equal(t, 1, det.Comparisons)
	assert.Equal(t, 1, det.DuplicatesFound)
	require.Len(t, det.Duplicates, 1)
	assert.Equal(t, models.SimilarityExact, det.Duplicates[0].SimilarityType)

	rec = s.do(t, http.MethodGet, "/v1/relations?listing_id="+a.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	rel := decode[RelationsResponse](t, rec)
	require.Equal(t, 1, rel.Total)
	first, second := models.OrderedPair(a, b)
	assert.Equal(t, first, rel.Relations[0].ListingA)
	assert.Equal(t, second, rel.Relations[0].ListingB)

	rec = s.do(t, http.MethodGet, "/v1/runs/"+det.RunID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[models.EngineRun](t, rec)
	assert.Equal(t, models.RunKindDetect, run.Kind)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
}

func TestHandler_Aliases(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/v1/brands/aliases", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"aliases":[],"total":0}`, rec.Body.String())

	require.NoError(t, s.store.UpsertBrandAlias(context.Background(), models.BrandAlias{
		RawBrand: "chevy", CanonicalBrand: "chevrolet", Confidence: 0.9,
	}))
	rec = s.do(t, http.MethodGet, "/v1/brands/aliases", "")
	require.Equal(t, http.StatusOK, rec.Code)
	aliases := decode[AliasesResponse](t, rec)
	require.Equal(t, 1, aliases.Total)
	assert.Equal(t, "chevrolet", aliases.Aliases[0].CanonicalBrand)
}

func TestHandler_ValidationErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"negative limit", http.MethodPost, "/v1/normalize", `{"limit": -1}`},
		{"limit over max batch", http.MethodPost, "/v1/detect", `{"limit": 501}`},
		{"threshold above one", http.MethodPost, "/v1/detect", `{"similarity_threshold": 1.5}`},
		{"malformed body", http.MethodPost, "/v1/detect", `{"limit":`},
		{"bad listing id", http.MethodGet, "/v1/relations?listing_id=nope", ""},
		{"bad relation limit", http.MethodGet, "/v1/relations?limit=0", ""},
		{"bad run id", http.MethodGet, "/v1/runs/nope", ""},
		{"bad listing path id", http.MethodGet, "/v1/listings/nope", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "validation_error", decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestHandler_Listing(t *testing.T) {
	s := newTestServer(t)
	id := seedListing(t, s.store, "Chevy", "h1")

	rec := s.do(t, http.MethodGet, "/v1/listings/"+id.String(), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	l := decode[models.Listing](t, rec)
	assert.Equal(t, id, l.ID)
	assert.Equal(t, "Chevy", l.BrandRaw)
	assert.Equal(t, models.NormalizationPending, l.NormalizationState)

	rec = s.do(t, http.MethodGet, "/v1/listings/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[map[string]string](t, rec)["error"])
}

func TestHandler_RunNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/v1/runs/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[map[string]string](t, rec)["error"])
}

type failingDetector struct{}

func (failingDetector) Run(ctx context.Context, req services.DetectRequest) (*services.DetectResult, error) {
	return nil, eris.Wrap(apperrors.ErrUpstreamUnavailable, "services: detect: fetch candidates")
}

func TestHandler_DetectUpstreamUnavailable(t *testing.T) {
	s := newTestServer(t)
	h := NewHandler(nil, failingDetector{}, s.store, zap.NewNop())
	router := NewRouter(h, testHTTPConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/detect", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "upstream_unavailable", body["error"])
	assert.Contains(t, body["message"], "fetch candidates")
}

func TestRouter_RateLimitsRunEndpoints(t *testing.T) {
	s := newTestServer(t)
	h := NewHandler(nil, failingDetector{}, s.store, zap.NewNop())
	router := NewRouter(h, config.HTTPConfig{CORSOrigins: []string{"*"}, RunRatePerMin: 1})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/detect", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusServiceUnavailable, http.StatusTooManyRequests}, codes)

	// Read endpoints are not limited.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/brands/aliases", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/detect", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}
