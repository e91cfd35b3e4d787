package model

// MemberState tracks one member's standing inside one circle.
type MemberState struct {
	ReputationScore  int64 `json:"reputation_score"`
	PenaltiesAccrued int64 `json:"penalties_accrued"`
	LastDepositCycle int   `json:"last_deposit_cycle"`
	Deposits         int   `json:"deposits"`
	Missed           int   `json:"missed"`
	Late             int   `json:"late"`
}
