package risk

import (
	"testing"

	"github.com/predictionmkt/engine/internal/tradeerr"
)

func TestCheckLimitPerMarket(t *testing.T) {
	l := NewExposureLimiter(100, 0)
	existing := map[string]int{"m1": 80}
	err := l.CheckLimit("m1", "", 30, existing, nil)
	if err != tradeerr.ErrPerMarketLimitExceeded {
		t.Fatalf("got %v, want ErrPerMarketLimitExceeded", err)
	}
}

func TestCheckLimitPerMarketWithinBounds(t *testing.T) {
	l := NewExposureLimiter(100, 0)
	existing := map[string]int{"m1": 50}
	if err := l.CheckLimit("m1", "", 30, existing, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckLimitPerEvent(t *testing.T) {
	l := NewExposureLimiter(0, 150)
	existing := map[string]int{"m1": 60, "m2": 70}
	marketEvent := map[string]string{"m1": "e1", "m2": "e1", "m3": "e1"}
	err := l.CheckLimit("m3", "e1", 30, existing, marketEvent)
	if err != tradeerr.ErrEventLimitExceeded {
		t.Fatalf("got %v, want ErrEventLimitExceeded", err)
	}
}

func TestCheckLimitIgnoresOtherEvents(t *testing.T) {
	l := NewExposureLimiter(0, 100)
	existing := map[string]int{"m1": 90, "m2": 90}
	marketEvent := map[string]string{"m1": "e1", "m2": "e2", "m3": "e1"}
	if err := l.CheckLimit("m3", "e1", 5, existing, marketEvent); err != nil {
		t.Fatalf("unexpected error: %v (m2 is in a different event, should not count)", err)
	}
}

func TestCheckLimitDisabledWithZeroCap(t *testing.T) {
	l := NewExposureLimiter(0, 0)
	if err := l.CheckLimit("m1", "e1", 1_000_000, nil, nil); err != nil {
		t.Fatalf("expected no limit enforcement, got %v", err)
	}
}
