package normalize

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"autolist/models"
)

const (
	maxBrandDistance  = 2
	unknownConfidence = 0.5
)

// Match methods
const (
	MethodExact   = "exact"
	MethodAlias   = "alias"
	MethodFuzzy   = "fuzzy"
	MethodUnknown = "unknown"
	MethodEmpty   = "empty"
)

// BrandMatch is the outcome of normalizing one raw brand string
type BrandMatch struct {
	Raw        string  `json:"raw"`
	Key        string  `json:"key"` // lowercased, trimmed, diacritics folded
	Canonical  string  `json:"canonical"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
	Distance   int     `json:"distance,omitempty"`
}

type variant struct {
	canonical string
	spelling  string
}

// BrandDictionary is the fixed canonical brand reference data. It is built
// once and never mutated, so it is safe to share between runs.
type BrandDictionary struct {
	exact    map[string]string
	variants []variant
}

// NewBrandDictionary indexes canonical -> known spellings. Every canonical
// name is also a spelling of itself.
func NewBrandDictionary(brands map[string][]string) *BrandDictionary {
	names := make([]string, 0, len(brands))
	for name := range brands {
		names = append(names, name)
	}
	sort.Strings(names)

	d := &BrandDictionary{exact: make(map[string]string)}
	for _, name := range names {
		canonical := FoldBrand(name)
		if canonical == "" {
			continue
		}
		spellings := append([]string{name}, brands[name]...)
		for _, s := range spellings {
			key := FoldBrand(s)
			if key == "" {
				continue
			}
			if _, dup := d.exact[key]; dup {
				continue
			}
			d.exact[key] = canonical
			d.variants = append(d.variants, variant{canonical: canonical, spelling: key})
		}
	}
	return d
}

// Len returns the number of known spellings.
func (d *BrandDictionary) Len() int {
	return len(d.variants)
}

// Normalize maps raw to its canonical brand and a confidence in [0,1].
func (d *BrandDictionary) Normalize(raw string) (string, float64) {
	m := d.Match(raw, nil)
	return m.Canonical, m.Confidence
}

// Match resolves raw against the dictionary, then against learned aliases
// (keyed by folded raw brand), then by edit distance to every known spelling.
func (d *BrandDictionary) Match(raw string, learned map[string]models.BrandAlias) BrandMatch {
	key := FoldBrand(raw)
	m := BrandMatch{Raw: raw, Key: key}
	if key == "" {
		m.Method = MethodEmpty
		return m
	}

	if canonical, ok := d.exact[key]; ok {
		m.Canonical = canonical
		m.Confidence = 1.0
		m.Method = MethodExact
		return m
	}

	if alias, ok := learned[key]; ok && alias.CanonicalBrand != "" {
		m.Canonical = alias.CanonicalBrand
		m.Confidence = alias.Confidence
		m.Method = MethodAlias
		return m
	}

	best := -1
	bestCanonical := ""
	for _, v := range d.variants {
		dist := levenshtein.Distance(key, v.spelling, nil)
		if best < 0 || dist < best {
			best = dist
			bestCanonical = v.canonical
		}
	}

	if best >= 0 && best <= maxBrandDistance {
		conf := 1 - float64(best)/float64(len([]rune(key)))
		if conf < 0 {
			conf = 0
		}
		m.Canonical = bestCanonical
		m.Confidence = conf
		m.Method = MethodFuzzy
		m.Distance = best
		return m
	}

	m.Canonical = key
	m.Confidence = unknownConfidence
	m.Method = MethodUnknown
	m.Distance = best
	return m
}

// FoldBrand lowercases, trims and strips combining marks ("Citroën" -> "citroen").
func FoldBrand(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return s
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}
