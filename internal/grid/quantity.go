package grid

import (
	"errors"
	"math"
)

// ErrInvalidStepSize is returned when a caller passes a non-positive step
// size to NormalizeQuantity. A zero step is undefined input, never a
// silent pass-through.
var ErrInvalidStepSize = errors.New("step size must be positive")

// stepEpsilon guards the floor division against float representation
// error, e.g. 0.12/0.01 evaluating to 11.999999999999998. Without it,
// normalization would not be idempotent.
const stepEpsilon = 1e-9

// NormalizeQuantity rounds a quantity down to an exact multiple of the
// exchange's step size (truncation toward zero, not rounding).
func NormalizeQuantity(quantity, stepSize float64) (float64, error) {
	if stepSize <= 0 {
		return 0, ErrInvalidStepSize
	}
	steps := math.Floor(quantity/stepSize + stepEpsilon)
	if steps < 0 {
		steps = 0
	}
	return steps * stepSize, nil
}

// ApplySellFee shrinks a sell-side quantity by the trading fee so the
// order never asks for more of the base asset than the account will hold
// after fees. Applied before normalization; buys are never adjusted.
func ApplySellFee(quantity, feeRate float64) float64 {
	return quantity * (1 - feeRate)
}
