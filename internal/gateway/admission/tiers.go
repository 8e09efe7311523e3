package admission

import (
	"github.com/mrmushfiq/llm0-gateway/internal/shared/models"
)

// TierLimits holds the per-tier admission limits.
type TierLimits struct {
	RequestsPerMinute int64
	TokensPerHour     int64
}

var tierLimits = map[models.Tier]TierLimits{
	models.TierFree:       {RequestsPerMinute: 5, TokensPerHour: 10_000},
	models.TierBasic:      {RequestsPerMinute: 60, TokensPerHour: 100_000},
	models.TierPremium:    {RequestsPerMinute: 300, TokensPerHour: 1_000_000},
	models.TierEnterprise: {RequestsPerMinute: 1_000, TokensPerHour: 10_000_000},
}

// LimitsFor returns the admission limits for a tier. Unknown tiers fall back
// to the free tier; admin has no limits and never reaches the lookup.
func LimitsFor(tier models.Tier) TierLimits {
	if limits, ok := tierLimits[tier]; ok {
		return limits
	}
	return tierLimits[models.TierFree]
}
