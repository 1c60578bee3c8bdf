// Package risk enforces position exposure limits grouped by event: many
// markets can describe outcomes of the same underlying event (e.g. each
// candidate in an election), and a user's risk across them is correlated
// the same way geographically adjacent contracts are. This generalizes
// the per-cell/correlated-group limiter idiom to per-market/per-event
// groups of integer share quantities instead of H3 cell prefixes and
// decimal exposures.
package risk

import (
	"github.com/predictionmkt/engine/internal/tradeerr"
)

// ExposureLimiter enforces a per-market position cap and an aggregate cap
// across every market that shares an EventID.
type ExposureLimiter struct {
	// MaxPerMarket is the maximum absolute net signed position (YES
	// shares − NO shares) a user may hold in any single market.
	MaxPerMarket int

	// MaxPerEvent is the maximum aggregate absolute exposure across all
	// markets sharing the same EventID.
	MaxPerEvent int
}

// NewExposureLimiter builds a limiter with the given per-market and
// per-event caps. A non-positive cap disables that check.
func NewExposureLimiter(maxPerMarket, maxPerEvent int) *ExposureLimiter {
	return &ExposureLimiter{MaxPerMarket: maxPerMarket, MaxPerEvent: maxPerEvent}
}

// abs is a tiny integer absolute value; no import worth pulling in for it.
func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// CheckLimit validates whether accepting an order that would move a
// user's net exposure in targetMarket by exposureDelta (positive for a
// YES-leaning delta, negative for NO-leaning) respects both caps.
// existingExposure maps every market ID this user holds a position in
// (within the same event) to their current net signed exposure;
// marketEvent maps those same market IDs to their EventID.
func (l *ExposureLimiter) CheckLimit(
	targetMarket, targetEvent string,
	exposureDelta int,
	existingExposure map[string]int,
	marketEvent map[string]string,
) error {
	if l.MaxPerMarket > 0 {
		newPosition := existingExposure[targetMarket] + exposureDelta
		if abs(newPosition) > l.MaxPerMarket {
			return tradeerr.ErrPerMarketLimitExceeded
		}
	}

	if l.MaxPerEvent <= 0 || targetEvent == "" {
		return nil
	}

	newPosition := existingExposure[targetMarket] + exposureDelta
	totalCorrelated := abs(newPosition)
	for marketID, exposure := range existingExposure {
		if marketID == targetMarket {
			continue // already counted via newPosition above
		}
		if marketEvent[marketID] == targetEvent {
			totalCorrelated += abs(exposure)
		}
	}

	if totalCorrelated > l.MaxPerEvent {
		return tradeerr.ErrEventLimitExceeded
	}
	return nil
}
