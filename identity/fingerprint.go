package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"autolist/models"
	"autolist/normalize"
)

var (
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
)

// Fingerprint hashes the listing content. Source, external id and url are
// left out so the same ad reposted on another marketplace hashes the same.
// Price and mileage are hashed as parsed values. Returns "" when the
// listing has no content to hash.
func Fingerprint(listing *models.Listing) string {
	fields := []string{
		NormalizeText(listing.BrandRaw),
		NormalizeText(listing.Model),
		strings.TrimSpace(listing.YearRaw),
		formatAmount(normalize.NormalizePrice(listing.PriceRaw)),
		formatAmount(normalize.NormalizeMileage(listing.MileageRaw)),
		NormalizeText(listing.Title),
		NormalizeText(listing.Description),
	}
	if strings.Join(fields, "") == "" {
		return ""
	}

	input := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s",
		fields[0], fields[1], fields[2], fields[3], fields[4], fields[5], fields[6])
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}

// NormalizeText lowercases, drops punctuation and collapses whitespace.
func NormalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlnumRegex.ReplaceAllString(s, " ")
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func formatAmount(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
