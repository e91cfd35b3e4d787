package model

import "time"

// Address identifies an account on the token ledger.
type Address string

// EscrowAccount returns the ledger account that holds a circle's pot.
func EscrowAccount(circleID string) Address {
	return Address("escrow:" + circleID)
}

// CircleConfig is fixed at creation.
type CircleConfig struct {
	Owner         Address       `json:"owner"`
	TokenAsset    string        `json:"token_asset"`
	DepositAmount int64         `json:"deposit_amount"`
	CycleInterval time.Duration `json:"cycle_interval"`
	JoinDeadline  time.Duration `json:"join_deadline"`
	Members       []Address     `json:"members"`
}

// IndexOf returns the slot of addr in the roster.
func (c CircleConfig) IndexOf(addr Address) (int, bool) {
	for i, m := range c.Members {
		if m == addr {
			return i, true
		}
	}
	return -1, false
}

// CircleState is the mutable record of one circle.
//
// CurrentCycle counts executed cycles; the cycle open for deposits is
// CurrentCycle+1. EscrowBalance always equals Reserve plus the deposits
// collected for the open cycle.
type CircleState struct {
	ID                string       `json:"id"`
	Config            CircleConfig `json:"config"`
	CreatedAt         time.Time    `json:"created_at"`
	StartedAt         time.Time    `json:"started_at"`
	Confirmed         Bitset       `json:"confirmed"`
	Deposits          Bitset       `json:"deposits"`
	PaidOut           Bitset       `json:"paid_out"`
	CurrentCycle      int          `json:"current_cycle"`
	NextPayoutIndex   int          `json:"next_payout_index"`
	LastExecutionTime time.Time    `json:"last_execution_time"`
	EscrowBalance     int64        `json:"escrow_balance"`
	Reserve           int64        `json:"reserve"`
	Paused            bool         `json:"paused"`
}

// Clone returns a deep copy.
func (s *CircleState) Clone() *CircleState {
	c := *s
	c.Config.Members = append([]Address(nil), s.Config.Members...)
	return &c
}

// Size is the roster size N.
func (s *CircleState) Size() int { return len(s.Config.Members) }

// Started reports whether the deposit window has opened.
func (s *CircleState) Started() bool { return !s.StartedAt.IsZero() }

// Completed reports whether every confirmed member has been paid.
func (s *CircleState) Completed() bool {
	return s.Started() && s.CurrentCycle >= s.Confirmed.Count()
}

// OpenCycle is the number of the cycle currently collecting deposits.
func (s *CircleState) OpenCycle() int { return s.CurrentCycle + 1 }

// JoinDeadlineAt is the last instant a member may confirm.
func (s *CircleState) JoinDeadlineAt() time.Time {
	return s.CreatedAt.Add(s.Config.JoinDeadline)
}

// NextDueAt is the earliest time the open cycle may be executed.
func (s *CircleState) NextDueAt() time.Time {
	return s.LastExecutionTime.Add(s.Config.CycleInterval)
}

// NextConfirmedSlot returns the first confirmed slot at or after from,
// wrapping around the roster. It returns from mod N when nobody confirmed.
func (s *CircleState) NextConfirmedSlot(from int) int {
	n := s.Size()
	if n == 0 {
		return 0
	}
	for step := 0; step < n; step++ {
		i := (from + step) % n
		if s.Confirmed.Has(i) {
			return i
		}
	}
	return from % n
}

// Recipient is the member whose turn it is.
func (s *CircleState) Recipient() Address {
	return s.Config.Members[s.NextPayoutIndex]
}
