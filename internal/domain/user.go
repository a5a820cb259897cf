package domain

import "time"

// Tier is a subscription level gating feature access.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// User represents a platform account.
type User struct {
	ID               string
	Email            string
	PasswordHash     []byte
	SubscriptionTier Tier
	RecipesGenerated int
	CreatedAt        time.Time
}
