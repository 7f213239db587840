package application

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ericfisherdev/feesync/internal/domain/model"
)

// Estimator computes fallback fees from published provider schedules. It is
// pure: the same input always yields the same fee.
type Estimator struct {
	schedules map[model.Provider]model.FeeSchedule
}

// NewEstimator creates an Estimator over schedules; nil uses model.DefaultFeeSchedules.
func NewEstimator(schedules map[model.Provider]model.FeeSchedule) *Estimator {
	if schedules == nil {
		schedules = model.DefaultFeeSchedules
	}
	return &Estimator{schedules: schedules}
}

// Estimate returns gross*percentage + fixed rounded to the currency's minor unit.
func (e *Estimator) Estimate(provider model.Provider, gross decimal.Decimal, currency string) (decimal.Decimal, error) {
	s, ok := e.schedules[provider]
	if !ok {
		return decimal.Zero, fmt.Errorf("no fee schedule for %s: %w", provider, model.ErrUnsupported)
	}
	return model.RoundMinor(gross.Mul(s.Percentage).Add(s.Fixed), currency), nil
}
