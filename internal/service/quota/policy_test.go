package quota

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/splax/recipebox/internal/domain"
)

func TestAllowFreeTier(t *testing.T) {
	for n := 0; n <= 100; n++ {
		require.Equal(t, n < FreeLimit, Allow(domain.TierFree, n), "free tier with %d generated", n)
	}
}

func TestAllowPremiumTierIsUnlimited(t *testing.T) {
	for n := 0; n <= 1000; n++ {
		require.True(t, Allow(domain.TierPremium, n), "premium tier with %d generated", n)
	}
}

func TestUnknownTierIsUnlimited(t *testing.T) {
	require.True(t, Allow(domain.Tier("enterprise"), 50))
	require.Equal(t, 0, Limit(domain.Tier("enterprise")))
}

func TestLimit(t *testing.T) {
	require.Equal(t, 5, Limit(domain.TierFree))
	require.Equal(t, 0, Limit(domain.TierPremium))
}
