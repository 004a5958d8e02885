package models

import (
	"time"

	"github.com/google/uuid"
)

type NormalizationState string

const (
	NormalizationPending   NormalizationState = "pending"
	NormalizationProcessed NormalizationState = "processed"
	NormalizationError     NormalizationState = "error"
)

// Listing is one vehicle-for-sale record ingested from a marketplace
type Listing struct {
	ID                 uuid.UUID          `json:"id" db:"id"`
	Source             string             `json:"source" db:"source"`           // marketplace site id
	ExternalID         string             `json:"external_id" db:"external_id"` // id on the source site
	URL                string             `json:"url" db:"url"`
	BrandRaw           string             `json:"brand_raw" db:"brand_raw"`
	BrandNormalized    *string            `json:"brand_normalized" db:"brand_normalized"`
	BrandConfidence    *float64           `json:"brand_confidence" db:"brand_confidence"`
	Model              string             `json:"model" db:"model"`
	YearRaw            string             `json:"year_raw" db:"year_raw"`
	Year               *int               `json:"year" db:"year"`
	PriceRaw           string             `json:"price_raw" db:"price_raw"`
	Price              *float64           `json:"price" db:"price"`
	MileageRaw         string             `json:"mileage_raw" db:"mileage_raw"`
	Mileage            *float64           `json:"mileage" db:"mileage"`
	Title              string             `json:"title" db:"title"`
	Description        string             `json:"description" db:"description"`
	ContentHash        *string            `json:"content_hash" db:"content_hash"`
	NormalizationState NormalizationState `json:"normalization_state" db:"normalization_state"`
	Active             bool               `json:"active" db:"active"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
}

// Brand returns the best brand string available for comparison.
func (l *Listing) Brand() string {
	if l.BrandNormalized != nil && *l.BrandNormalized != "" {
		return *l.BrandNormalized
	}
	return l.BrandRaw
}

// BrandAlias is a learned raw -> canonical brand mapping
type BrandAlias struct {
	RawBrand       string    `json:"raw_brand" db:"raw_brand"`
	CanonicalBrand string    `json:"canonical_brand" db:"canonical_brand"`
	Confidence     float64   `json:"confidence" db:"confidence"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
