// Package similarity scores how likely two normalized listings describe the
// same vehicle. Every metric here is symmetric: Score(a, b) == Score(b, a).
package similarity

import (
	"math"

	"autolist/models"
)

const (
	brandWeight = 0.4
	modelWeight = 0.3
	yearWeight  = 0.3

	titleWeight       = 0.6
	descriptionWeight = 0.4

	dataBlendWeight    = 0.5
	textBlendWeight    = 0.3
	priceBlendWeight   = 0.1
	mileageBlendWeight = 0.1

	// a structured sub-score above this counts as a field match
	matchCutoff = 0.8
	// price or mileage must beat this for a structured_data classification
	numericCutoff = 0.6
	minMatches    = 2
)

// Result is the outcome of comparing two listings
type Result struct {
	Score   float64                 `json:"score"`
	Type    models.SimilarityType   `json:"similarity_type"`
	Detail  models.SimilarityDetail `json:"detail"`
	Matches int                     `json:"matches"`
}

// Score compares two normalized listings.
func Score(a, b *models.Listing) Result {
	if a.ContentHash != nil && b.ContentHash != nil &&
		*a.ContentHash != "" && *a.ContentHash == *b.ContentHash {
		return Result{Score: 1.0, Type: models.SimilarityExact}
	}

	var res Result
	var weighted, weights float64

	if data, ok := structuredScore(a, b, &res); ok {
		weighted += data * dataBlendWeight
		weights += dataBlendWeight
	}

	if text, ok := textScore(a, b, &res.Detail); ok {
		weighted += text * textBlendWeight
		weights += textBlendWeight
	}

	priceSim, priceOK := PriceSimilarity(a.Price, b.Price)
	if priceOK {
		res.Detail.Price = float64Ptr(priceSim)
		weighted += priceSim * priceBlendWeight
		weights += priceBlendWeight
	}

	mileageSim, mileageOK := MileageSimilarity(a.Mileage, b.Mileage)
	if mileageOK {
		res.Detail.Mileage = float64Ptr(mileageSim)
		weighted += mileageSim * mileageBlendWeight
		weights += mileageBlendWeight
	}

	if weights > 0 {
		res.Score = round2(weighted / weights)
	}

	res.Type = models.SimilarityFuzzyText
	if res.Matches >= minMatches && (priceSim > numericCutoff || mileageSim > numericCutoff) {
		res.Type = models.SimilarityStructuredData
	}
	return res
}

// structuredScore is the weighted sum of the brand/model/year sub-scores that
// have data on both sides. ok is false when none did.
func structuredScore(a, b *models.Listing, res *Result) (float64, bool) {
	var sum float64
	computed := false

	brandA, brandB := normalizeText(a.Brand()), normalizeText(b.Brand())
	if brandA != "" && brandB != "" {
		s := EditSimilarity(brandA, brandB)
		res.Detail.Brand = float64Ptr(s)
		sum += s * brandWeight
		computed = true
		if s > matchCutoff {
			res.Matches++
		}
	}

	modelA, modelB := normalizeText(a.Model), normalizeText(b.Model)
	if modelA != "" && modelB != "" {
		s := EditSimilarity(modelA, modelB)
		res.Detail.Model = float64Ptr(s)
		sum += s * modelWeight
		computed = true
		if s > matchCutoff {
			res.Matches++
		}
	}

	if a.Year != nil && b.Year != nil {
		s := 0.0
		if *a.Year == *b.Year {
			s = 1.0
		}
		res.Detail.Year = float64Ptr(s)
		sum += s * yearWeight
		computed = true
		if s > matchCutoff {
			res.Matches++
		}
	}

	return sum, computed
}

// textScore combines title (best of token Jaccard and edit similarity) and
// description (Jaccard) for the fields present on both sides.
func textScore(a, b *models.Listing, detail *models.SimilarityDetail) (float64, bool) {
	var sum float64
	computed := false

	titleA, titleB := normalizeText(a.Title), normalizeText(b.Title)
	if titleA != "" && titleB != "" {
		s := math.Max(Jaccard(Tokens(titleA), Tokens(titleB)), EditSimilarity(titleA, titleB))
		detail.Title = float64Ptr(s)
		sum += s * titleWeight
		computed = true
	}

	descA, descB := normalizeText(a.Description), normalizeText(b.Description)
	if descA != "" && descB != "" {
		s := Jaccard(Tokens(descA), Tokens(descB))
		detail.Description = float64Ptr(s)
		sum += s * descriptionWeight
		computed = true
	}

	return sum, computed
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func float64Ptr(v float64) *float64 {
	return &v
}
