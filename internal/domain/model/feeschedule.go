package model

import "github.com/shopspring/decimal"

// FeeSchedule is a provider's published standard pricing, used only when no
// authoritative fee can be obtained.
type FeeSchedule struct {
	Percentage decimal.Decimal // Fraction of gross, e.g. 0.021 for 2.1%.
	Fixed      decimal.Decimal // Per-transaction fixed fee in major units.
}

// DefaultFeeSchedules holds the standard schedules for the supported providers.
var DefaultFeeSchedules = map[Provider]FeeSchedule{
	ProviderMollie: {
		Percentage: decimal.RequireFromString("0.021"),
		Fixed:      decimal.RequireFromString("0.25"),
	},
	ProviderSumUp: {
		Percentage: decimal.RequireFromString("0.0195"),
		Fixed:      decimal.RequireFromString("0.15"),
	},
}
