package importer

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"autolist/apperrors"
	"autolist/identity"
	"autolist/models"
)

// Record is one listing as handed over by the scraping collaborator.
type Record struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	ExternalID  flexString `json:"external_id"`
	URL         string     `json:"url"`
	Brand       string     `json:"brand"`
	Model       flexString `json:"model"`
	Year        flexString `json:"year"`
	PriceRaw    flexString `json:"price_raw"`
	MileageRaw  flexString `json:"mileage_raw"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	ContentHash string     `json:"content_hash"`
	Active      *bool      `json:"active"`
}

// flexString accepts a JSON string or number; scrapers emit both for years
// and prices.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return eris.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

// ToListing builds a pending listing. HTML in the title and description is
// reduced to text and a missing content hash is computed. A record with no
// content to hash keeps a nil hash.
func (r Record) ToListing(now time.Time) (*models.Listing, error) {
	if strings.TrimSpace(r.ID) == "" {
		return nil, eris.Wrap(apperrors.ErrValidation, "record has no id")
	}
	id, err := uuid.Parse(strings.TrimSpace(r.ID))
	if err != nil {
		return nil, eris.Wrapf(apperrors.ErrValidation, "record id %q is not a uuid", r.ID)
	}

	l := &models.Listing{
		ID:                 id,
		Source:             strings.TrimSpace(r.Source),
		ExternalID:         strings.TrimSpace(string(r.ExternalID)),
		URL:                strings.TrimSpace(r.URL),
		BrandRaw:           strings.TrimSpace(r.Brand),
		Model:              strings.TrimSpace(string(r.Model)),
		YearRaw:            strings.TrimSpace(string(r.Year)),
		PriceRaw:           strings.TrimSpace(string(r.PriceRaw)),
		MileageRaw:         strings.TrimSpace(string(r.MileageRaw)),
		Title:              HTMLToText(r.Title),
		Description:        HTMLToText(r.Description),
		NormalizationState: models.NormalizationPending,
		Active:             r.Active == nil || *r.Active,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	hash := strings.TrimSpace(r.ContentHash)
	if hash == "" {
		hash = identity.Fingerprint(l)
	}
	if hash != "" {
		l.ContentHash = &hash
	}
	return l, nil
}

// HTMLToText strips markup and collapses whitespace. Plain text passes
// through unchanged apart from whitespace.
func HTMLToText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	doc.Find("script, style").Remove()
	doc.Find("br").ReplaceWithHtml(" ")
	doc.Find("p, div, li, tr, td, h1, h2, h3, h4, h5, h6").AppendHtml(" ")

	return strings.Join(strings.Fields(doc.Text()), " ")
}
