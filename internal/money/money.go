// Package money is the fixed-point monetary type for the trading engine.
// Every balance, reservation, and trade value is an integer number of
// cents — never a float64 — per the engine's no-floating-point-money rule.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is an exact integer amount of US cents. Negative values are valid
// (signed ledger deltas); stored balances must never go negative.
type Cents int64

// Zero is the additive identity.
const Zero Cents = 0

// FromDollars builds a Cents value from a whole-dollar amount, used only
// by admin/test seeding paths that speak in dollars.
func FromDollars(dollars int64) Cents {
	return Cents(dollars * 100)
}

func (c Cents) Add(other Cents) Cents { return c + other }
func (c Cents) Sub(other Cents) Cents { return c - other }
func (c Cents) Neg() Cents            { return -c }

// Mul scales a per-unit price by an integer quantity. Both operands are
// already integers, so this can never introduce rounding error.
func (c Cents) Mul(qty int) Cents { return c * Cents(qty) }

func (c Cents) IsNegative() bool      { return c < 0 }
func (c Cents) IsPositive() bool      { return c > 0 }
func (c Cents) GreaterThan(o Cents) bool { return c > o }
func (c Cents) LessThan(o Cents) bool    { return c < o }

// Decimal renders the amount as a dollar-scale decimal.Decimal, the
// client-facing representation called for by the wire format rules
// (store cents, render dollars with 2-decimal formatting).
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// String renders a "$12.34" / "-$0.01" style representation for logging.
func (c Cents) String() string {
	sign := ""
	v := c
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%d.%02d", sign, v/100, v%100)
}
