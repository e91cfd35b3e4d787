package circle

import "errors"

// Every failed operation leaves circle and member state exactly as it was.
var (
	ErrInvalidConfig       = errors.New("invalid circle config")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrDeadlineExpired     = errors.New("join deadline expired")
	ErrAlreadyJoined       = errors.New("already joined")
	ErrCirclePaused        = errors.New("circle paused")
	ErrAlreadyDeposited    = errors.New("already deposited this cycle")
	ErrCycleNotOpen        = errors.New("cycle not open")
	ErrTooEarly            = errors.New("cycle interval has not elapsed")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrPayoutFailed        = errors.New("payout failed")
	ErrCircleCompleted     = errors.New("circle completed")
	ErrNothingToClaim      = errors.New("nothing to claim")
	ErrNotFound            = errors.New("circle not found")
	ErrAlreadyStarted      = errors.New("circle already started")
	ErrInsufficientMembers = errors.New("not enough confirmed members")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientReserve = errors.New("reserve cannot cover refund")
	ErrStorage             = errors.New("storage failure")
)
