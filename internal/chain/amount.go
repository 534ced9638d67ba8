package chain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Amount is a fixed-precision decimal with 8 fractional digits (§3),
// stored as an integer count of 1e-8 units to avoid floating-point
// drift in balance accounting.
type Amount int64

// Scale is the number of integer units per whole coin.
const Scale = 100_000_000

// ParseAmount parses a decimal string (e.g. "10.5") into an Amount,
// rejecting more than 8 fractional digits.
func ParseAmount(s string) (Amount, error) {
	if dot := strings.IndexByte(s, '.'); dot >= 0 && len(s)-dot-1 > 8 {
		return 0, fmt.Errorf("invalid amount %q: more than 8 fractional digits", s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount(math.Round(f * Scale)), nil
}

// String renders the amount as a fixed 8-decimal string.
func (a Amount) String() string {
	whole := int64(a) / Scale
	frac := int64(a) % Scale
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%08d", whole, frac)
}

// Valid reports whether the amount is non-negative (§3: amount >= 0,
// fee >= 0).
func (a Amount) Valid() bool {
	return a >= 0
}
