package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

const minYear = 1900

var (
	// nonNumericRegex keeps digits and both separators
	nonNumericRegex = regexp.MustCompile(`[^0-9.,]`)
	// mileageUnitRegex strips distance units, longest spellings first
	mileageUnitRegex = regexp.MustCompile(`(?i)\b(kil[oó]metros|kms|km|millas|miles|mi)\b\.?`)
)

// NormalizePrice parses a Mexican-formatted price ("$425,900 MXN") or
// returns nil when nothing numeric survives.
func NormalizePrice(raw string) *float64 {
	return parseLocaleNumber(raw)
}

// NormalizeMileage is NormalizePrice after removing unit words.
func NormalizeMileage(raw string) *float64 {
	return parseLocaleNumber(mileageUnitRegex.ReplaceAllString(raw, " "))
}

// NormalizeYear accepts integers in [1900, currentYear+1].
func NormalizeYear(raw string, currentYear int) *int {
	year, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	if !ValidYear(year, currentYear) {
		return nil
	}
	return &year
}

// ValidYear reports whether year is a plausible model year.
func ValidYear(year, currentYear int) bool {
	return year >= minYear && year <= currentYear+1
}

// parseLocaleNumber applies the thousands/decimal rule: with both separators
// present and the last '.' after the last ',', commas are thousands; a lone
// ',' is also thousands; anything else is parsed as-is.
func parseLocaleNumber(raw string) *float64 {
	cleaned := nonNumericRegex.ReplaceAllString(raw, "")
	if cleaned == "" {
		return nil
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0 && lastDot > lastComma:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	case lastComma >= 0 && lastDot < 0:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
