package similarity

import "math"

type band struct {
	maxPercent float64
	score      float64
}

var (
	priceBands = []band{
		{5, 1.0},
		{10, 0.8},
		{20, 0.6},
		{30, 0.4},
	}
	mileageBands = []band{
		{5, 1.0},
		{15, 0.8},
		{25, 0.6},
		{35, 0.4},
	}
)

// PriceSimilarity bands the percent difference of two prices relative to
// their average. ok is false when either price is missing or not positive.
func PriceSimilarity(a, b *float64) (score float64, ok bool) {
	if a == nil || b == nil || *a <= 0 || *b <= 0 {
		return 0, false
	}
	return banded(*a, *b, priceBands), true
}

// MileageSimilarity is PriceSimilarity with wider bands. Zero mileage is
// data (a new car), two zeros are identical.
func MileageSimilarity(a, b *float64) (score float64, ok bool) {
	if a == nil || b == nil || *a < 0 || *b < 0 {
		return 0, false
	}
	if *a == *b {
		return 1.0, true
	}
	return banded(*a, *b, mileageBands), true
}

// PercentDiff is |a-b| relative to the mean of a and b, in percent.
func PercentDiff(a, b float64) float64 {
	avg := (a + b) / 2
	if avg == 0 {
		return 0
	}
	return math.Abs(a-b) / avg * 100
}

func banded(a, b float64, bands []band) float64 {
	diff := PercentDiff(a, b)
	for _, bd := range bands {
		if diff <= bd.maxPercent {
			return bd.score
		}
	}
	return 0
}
