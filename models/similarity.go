package models

import (
	"time"

	"github.com/google/uuid"
)

type SimilarityType string

const (
	SimilarityExact          SimilarityType = "exact"
	SimilarityStructuredData SimilarityType = "structured_data"
	SimilarityFuzzyText      SimilarityType = "fuzzy_text"
)

// SimilarityDetail is the per-signal breakdown behind a score. A nil field
// means the signal had no data on one side.
type SimilarityDetail struct {
	Brand       *float64 `json:"brand,omitempty"`
	Model       *float64 `json:"model,omitempty"`
	Year        *float64 `json:"year,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Mileage     *float64 `json:"mileage,omitempty"`
	Title       *float64 `json:"title,omitempty"`
	Description *float64 `json:"description,omitempty"`
}

// SimilarityRelation records that two listings are probable duplicates.
// Unique on (ListingA, ListingB, Type); ListingA always sorts before ListingB.
type SimilarityRelation struct {
	ListingA  uuid.UUID        `json:"listing_a_id" db:"listing_a_id"`
	ListingB  uuid.UUID        `json:"listing_b_id" db:"listing_b_id"`
	Type      SimilarityType   `json:"similarity_type" db:"similarity_type"`
	Score     float64          `json:"score" db:"score"`
	Detail    SimilarityDetail `json:"detail" db:"detail"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt time.Time        `json:"updated_at" db:"updated_at"`
}

// OrderedPair returns a and b sorted by their canonical string form.
func OrderedPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if b.String() < a.String() {
		return b, a
	}
	return a, b
}
