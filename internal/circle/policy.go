package circle

import "fmt"

// PotPolicy decides how absent members affect the payout.
type PotPolicy string

const (
	// PotCollected pays out only what was deposited this cycle.
	PotCollected PotPolicy = "collected"
	// PotTopUp fills the absentees' share from the circle reserve, as far as it reaches.
	PotTopUp PotPolicy = "topup"
)

// Policy holds the reputation and fine rates of the engine.
type Policy struct {
	InitialReputation int64
	ReputationFloor   int64
	DepositReward     int64
	MissPenalty       int64
	LatePenalty       int64
	MissFineBps       int64 // basis points of the deposit amount
	LateFineBps       int64
	Pot               PotPolicy
}

// DefaultPolicy returns the rates the circle contract shipped with: start at
// 10, +1 per timely deposit, -1 per miss, a 20% fine for a missed deposit.
func DefaultPolicy() Policy {
	return Policy{
		InitialReputation: 10,
		ReputationFloor:   0,
		DepositReward:     1,
		MissPenalty:       1,
		LatePenalty:       1,
		MissFineBps:       2_000,
		LateFineBps:       500,
		Pot:               PotCollected,
	}
}

// Validate checks that rates are sane.
func (p Policy) Validate() error {
	if p.ReputationFloor < 0 {
		return fmt.Errorf("reputation floor must not be negative")
	}
	if p.InitialReputation < p.ReputationFloor {
		return fmt.Errorf("initial reputation %d below floor %d", p.InitialReputation, p.ReputationFloor)
	}
	if p.DepositReward < 0 || p.MissPenalty < 0 || p.LatePenalty < 0 {
		return fmt.Errorf("reputation adjustments must not be negative")
	}
	if p.MissFineBps < 0 || p.MissFineBps > 10_000 || p.LateFineBps < 0 || p.LateFineBps > 10_000 {
		return fmt.Errorf("fines must be within 0..10000 bps")
	}
	switch p.Pot {
	case PotCollected, PotTopUp:
	default:
		return fmt.Errorf("unknown pot policy %q", p.Pot)
	}
	return nil
}
