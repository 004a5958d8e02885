package importer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"autolist/apperrors"
	"autolist/identity"
	"autolist/models"
	"autolist/similarity"
	"autolist/storage"
)

func newTestImporter(t *testing.T) (*Importer, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "import.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, zap.NewNop()), store
}

const idA = "0b7f7a36-1c55-4f7e-9a43-2a3c1b0f9d10"
const idB = "5e0c2f44-8d8a-4c51-b6f2-7f0e6d3a2b11"

func TestImport_JSONArray(t *testing.T) {
	im, store := newTestImporter(t)

	input := `[
		{"id": "` + idA + `", "source": "site-a", "brand": "Chevy", "model": "Onix", "year": 2020,
		 "price_raw": "$250,000", "mileage_raw": "30,000 km", "title": "<b>Chevy Onix</b> 2020",
		 "description": "<p>Único dueño</p><p>Factura original</p>"},
		{"id": "` + idB + `", "source": "site-b", "brand": "Toyota", "price_raw": 199000,
		 "content_hash": "scraper-hash", "active": false}
	]`

	res, err := im.Import(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Read)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 0, res.Skipped)

	a, err := store.GetListing(context.Background(), uuid.MustParse(idA))
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "Chevy Onix 2020", a.Title)
	assert.Equal(t, "Único dueño Factura original", a.Description)
	assert.Equal(t, "2020", a.YearRaw)
	assert.Equal(t, models.NormalizationPending, a.NormalizationState)
	assert.True(t, a.Active)
	require.NotNil(t, a.ContentHash)
	assert.Equal(t, identity.Fingerprint(a), *a.ContentHash)

	b, err := store.GetListing(context.Background(), uuid.MustParse(idB))
	require.NoError(t, err)
	assert.Equal(t, "199000", b.PriceRaw)
	assert.Equal(t, "scraper-hash", *b.ContentHash)
	assert.False(t, b.Active)
}

func TestImport_JSONLinesSkipsInvalidRecords(t *testing.T) {
	im, store := newTestImporter(t)

	input := strings.Join([]string{
		`{"id": "` + idA + `", "brand": "VW"}`,
		`{"brand": "no id"}`,
		`{"id": "not-a-uuid", "brand": "Ford"}`,
		``,
		`{"id": "` + idB + `", "brand": "Nissan"}`,
	}, "\n")

	res, err := im.Import(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Read)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[1], "not-a-uuid")

	pending, err := store.GetPendingListings(context.Background(), 10, "")
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestImport_MalformedStream(t *testing.T) {
	im, _ := newTestImporter(t)

	res, err := im.Import(context.Background(), strings.NewReader(`[{"id": "`+idA+`"}, {"id": `))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	assert.Equal(t, 1, res.Imported)
}

func TestImport_EmptyInput(t *testing.T) {
	im, _ := newTestImporter(t)

	res, err := im.Import(context.Background(), strings.NewReader("  \n"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Read)
}

func TestRecord_ToListing(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	_, err := Record{}.ToListing(now)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	l, err := Record{ID: idA, Brand: "  Chevy ", Year: "2019 "}.ToListing(now)
	require.NoError(t, err)
	assert.Equal(t, "Chevy", l.BrandRaw)
	assert.Equal(t, "2019", l.YearRaw)
	assert.Equal(t, now, l.CreatedAt)
	assert.True(t, l.Active)
}

func TestRecord_ToListingFilledHashesDoNotForgeExactMatches(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	// Nothing but identity fields: no hash to fill.
	a, err := Record{ID: idA, Source: "site-a", URL: "https://site-a.example/ads/1"}.ToListing(now)
	require.NoError(t, err)
	b, err := Record{ID: idB, Source: "site-b", URL: "https://site-b.example/ads/2"}.ToListing(now)
	require.NoError(t, err)
	assert.Nil(t, a.ContentHash)
	assert.Nil(t, b.ContentHash)
	assert.NotEqual(t, models.SimilarityExact, similarity.Score(a, b).Type)

	// Same digits, different amounts.
	cheap, err := Record{ID: idA, Brand: "Nissan", Model: "Versa", Year: "2019", PriceRaw: "$1,500.00"}.ToListing(now)
	require.NoError(t, err)
	pricey, err := Record{ID: idB, Brand: "Nissan", Model: "Versa", Year: "2019", PriceRaw: "$150,000"}.ToListing(now)
	require.NoError(t, err)
	require.NotNil(t, cheap.ContentHash)
	require.NotNil(t, pricey.ContentHash)
	assert.NotEqual(t, *cheap.ContentHash, *pricey.ContentHash)
	assert.NotEqual(t, models.SimilarityExact, similarity.Score(cheap, pricey).Type)
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain   text\n here", "plain text here"},
		{"<p>Motor 1.6</p><ul><li>A/C</li><li>Piel</li></ul>", "Motor 1.6 A/C Piel"},
		{"Línea 1<br>Línea 2", "Línea 1 Línea 2"},
		{"Ford &amp; Co<script>alert(1)</script>", "Ford & Co"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTMLToText(tt.in), tt.in)
	}
}
