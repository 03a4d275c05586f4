// Package money provides a fixed-point amount type used everywhere the
// ledger, rate tables, and billable resources need to represent currency.
//
// The representation generalizes the teacher's wallet.AmountMinor (int64,
// 2-decimal "minor units") to 8 fractional digits so that per-second billing
// at sub-cent rates does not round to zero.
package money

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Scale is the number of fractional digits carried by Amount.
const Scale = 8

const scaleFactor = 100_000_000 // 10^Scale

// Amount is a signed fixed-point number with Scale fractional digits,
// stored as an int64 count of the smallest unit (1 / 10^Scale).
type Amount int64

var ErrParse = errors.New("money: invalid amount")

// Zero is the additive identity.
const Zero Amount = 0

// FromFloat builds an Amount from a float64 dollar value. Only used at the
// config/rate-table boundary (reading decimal constants from environment
// variables); never used on values computed from billing durations, where
// integer arithmetic is used instead to avoid float rounding.
func FromFloat(v float64) Amount {
	return Amount(math.Round(v * scaleFactor))
}

// Parse parses a decimal string such as "1.50" or "-0.0175" into an Amount.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrParse
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	} else if strings.HasPrefix(s, "+") {
		s = s[1:]
	}

	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	if intPart == "" {
		intPart = "0"
	}
	i, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrParse
	}
	var f int64
	if hasFrac {
		if len(fracPart) > Scale {
			fracPart = fracPart[:Scale]
		}
		fracPart = fracPart + strings.Repeat("0", Scale-len(fracPart))
		f, err = strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return 0, ErrParse
		}
	}

	total := i*scaleFactor + f
	if neg {
		total = -total
	}
	return Amount(total), nil
}

// MustParse panics on invalid input; reserved for constants known at compile time.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) String() string {
	neg := a < 0
	v := int64(a)
	if neg {
		v = -v
	}
	whole := v / scaleFactor
	frac := v % scaleFactor
	s := fmt.Sprintf("%d.%08d", whole, frac)
	if neg {
		s = "-" + s
	}
	return s
}

// Float64 returns the value as a float64. Only safe for display/logging —
// never feed the result back into a monetary computation.
func (a Amount) Float64() float64 {
	return float64(a) / scaleFactor
}

func (a Amount) Add(b Amount) Amount { return a + b }
func (a Amount) Sub(b Amount) Amount { return a - b }
func (a Amount) Neg() Amount         { return -a }
func (a Amount) IsZero() bool        { return a == 0 }
func (a Amount) IsNegative() bool    { return a < 0 }
func (a Amount) IsPositive() bool    { return a > 0 }

// MulInt scales the amount by an integer multiplier (e.g. a per-unit rate
// times a unit count).
func (a Amount) MulInt(n int64) Amount { return Amount(int64(a) * n) }

// Int64 returns the raw scaled integer representation.
func (a Amount) Int64() int64 { return int64(a) }

// FromInt64 reconstructs an Amount from its raw scaled integer representation
// (as read back from Postgres BIGINT columns).
func FromInt64(v int64) Amount { return Amount(v) }

// Value implements driver.Valuer so Amount can be written directly as a
// BIGINT column (scaled integer), matching the teacher's AmountMinor columns.
func (a Amount) Value() (driver.Value, error) {
	return int64(a), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*a = Amount(v)
		return nil
	case nil:
		*a = 0
		return nil
	default:
		return fmt.Errorf("money: cannot scan %T into Amount", src)
	}
}
