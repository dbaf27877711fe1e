package fee

import (
	"math"

	"github.com/pkg/errors"
)

// Calculator computes the platform fee retained on charges routed to a
// connected account. Rate and fixed component are set once at startup.
type Calculator struct {
	percent float64
	fixed   float64
}

func NewCalculator(percent, fixed float64) *Calculator {
	return &Calculator{percent: percent, fixed: fixed}
}

// Compute returns the platform fee in minor currency units (pence/cents)
// for a gross amount in major units: percentage of the gross plus the
// fixed component, rounded to the nearest minor unit.
func (c *Calculator) Compute(gross float64) (int64, error) {
	if gross < 0 {
		return 0, errors.New("gross amount must not be negative")
	}
	major := gross*c.percent/100 + c.fixed
	return int64(math.Round(major * 100)), nil
}
