// Package progress computes tier completeness and the activation
// decision from a profile's current state.
package progress

import (
	"math"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/profile-engine/internal/model"
)

// Weights map tier number to its share of the total score. Shares must
// sum to 1.0; config validates that before the engine starts.
type Weights map[int]float64

// DefaultWeights reflect the three-tier shape of the default registry.
var DefaultWeights = Weights{1: 0.50, 2: 0.35, 3: 0.15}

// ComputeTier returns the percentage of a tier's required fields the
// profile currently satisfies, rounded to two decimals, along with the
// satisfied field keys in registry order.
func ComputeTier(reg *model.FieldRegistry, p *model.Profile, tier int, signalFloor float64) (float64, []string) {
	required := reg.RequiredForTier(tier)
	if len(required) == 0 {
		return 0, nil
	}
	var done []string
	for _, spec := range required {
		if p.Satisfies(spec, signalFloor) {
			done = append(done, spec.Key)
		}
	}
	pct := round2(float64(len(done)) / float64(len(required)) * 100)
	return pct, done
}

// ComputeTotal blends per-tier percentages by weight, rounded to two
// decimals. Tiers absent from the weight map contribute nothing.
func ComputeTotal(tierPct map[int]float64, weights Weights) float64 {
	var total float64
	for tier, w := range weights {
		total += tierPct[tier] * w
	}
	return round2(total)
}

// MissingRequired returns the required keys in a tier the profile does
// not yet satisfy, in registry order.
func MissingRequired(reg *model.FieldRegistry, p *model.Profile, tier int, signalFloor float64) []string {
	var missing []string
	for _, spec := range reg.RequiredForTier(tier) {
		if !p.Satisfies(spec, signalFloor) {
			missing = append(missing, spec.Key)
		}
	}
	return missing
}

var titleCaser = cases.Title(language.English)

// DisplayName turns a field key into a human-readable label for
// blocker messages, e.g. "date_of_birth" -> "Date Of Birth".
func DisplayName(key string) string {
	return titleCaser.String(strings.ReplaceAll(key, "_", " "))
}

// SortTiers returns map keys in ascending order for stable output.
func SortTiers(m map[int]float64) []int {
	tiers := make([]int, 0, len(m))
	for t := range m {
		tiers = append(tiers, t)
	}
	sort.Ints(tiers)
	return tiers
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
