// Package quota decides whether a user may generate another recipe.
package quota

import "github.com/splax/recipebox/internal/domain"

// FreeLimit is the lifetime number of generations allowed on the free tier.
const FreeLimit = 5

// Limit returns the generation limit for tier. Zero means unlimited.
func Limit(tier domain.Tier) int {
	if tier == domain.TierFree {
		return FreeLimit
	}
	return 0
}

// Allow reports whether a user on tier who has generated used recipes may
// generate one more.
func Allow(tier domain.Tier, used int) bool {
	limit := Limit(tier)
	return limit <= 0 || used < limit
}
