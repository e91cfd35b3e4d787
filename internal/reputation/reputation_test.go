package reputation

import (
	"math"
	"testing"
)

func TestStandingFor_AllBoundaries(t *testing.T) {
	tests := []struct {
		score int64
		label string
	}{
		{40, "Exemplary"},
		{20, "Exemplary"},
		{19, "Reliable"},
		{12, "Reliable"},
		{10, "Steady"},
		{8, "Steady"},
		{7, "At risk"},
		{4, "At risk"},
		{3, "Delinquent"},
		{1, "Delinquent"},
		{0, "Suspended"},
	}
	for _, tt := range tests {
		s := StandingFor(tt.score)
		if s.Label != tt.label {
			t.Errorf("score %d: expected %q, got %q", tt.score, tt.label, s.Label)
		}
	}
}

func TestPenalize_Floor(t *testing.T) {
	tests := []struct {
		score, amount, floor, want int64
	}{
		{10, 1, 0, 9},
		{1, 3, 0, 0},
		{5, 3, 4, 4},
		{5, 3, -7, 2},
		{0, 1, 0, 0},
		{5, -2, 0, 5},
	}
	for _, tt := range tests {
		if got := Penalize(tt.score, tt.amount, tt.floor); got != tt.want {
			t.Errorf("Penalize(%d, %d, %d) = %d, want %d", tt.score, tt.amount, tt.floor, got, tt.want)
		}
	}
}

func TestReward(t *testing.T) {
	if got := Reward(10, 1); got != 11 {
		t.Errorf("expected 11, got %d", got)
	}
	if got := Reward(10, -4); got != 10 {
		t.Errorf("negative reward should be ignored, got %d", got)
	}
}

func TestFine(t *testing.T) {
	// 20% of 10000, as charged for a missed deposit by default.
	if got := Fine(10_000, 2_000); got != 2_000 {
		t.Errorf("expected 2000, got %d", got)
	}
	if got := Fine(99, 500); got != 4 {
		t.Errorf("expected rounding down to 4, got %d", got)
	}
	if got := Fine(100, 0); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestFineLargeDeposit(t *testing.T) {
	deposit := int64(math.MaxInt64 / 10_000)
	got := Fine(deposit, 2_000)
	if got <= 0 {
		t.Fatalf("fine wrapped to %d", got)
	}
	if want := deposit / 5; got != want {
		t.Errorf("expected %d, got %d", want, got)
	}
	if got := Fine(math.MaxInt64, 10_000); got != math.MaxInt64 {
		t.Errorf("expected the full deposit, got %d", got)
	}
}
