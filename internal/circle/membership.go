package circle

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"SavingsCircle/internal/model"
	"SavingsCircle/internal/recorder"

	"github.com/google/uuid"
)

// MaxDepositAmount keeps fines (deposit times basis points) and pots
// (deposit times members) within int64.
const MaxDepositAmount = math.MaxInt64 / 10_000

func validateConfig(cfg model.CircleConfig) error {
	switch {
	case cfg.Owner == "":
		return fmt.Errorf("%w: owner is required", ErrInvalidConfig)
	case cfg.TokenAsset == "":
		return fmt.Errorf("%w: token asset is required", ErrInvalidConfig)
	case cfg.DepositAmount <= 0:
		return fmt.Errorf("%w: deposit amount must be positive", ErrInvalidConfig)
	case cfg.DepositAmount > MaxDepositAmount:
		return fmt.Errorf("%w: deposit amount exceeds %d", ErrInvalidConfig, MaxDepositAmount)
	case cfg.CycleInterval <= 0:
		return fmt.Errorf("%w: cycle interval must be positive", ErrInvalidConfig)
	case cfg.JoinDeadline < 0:
		return fmt.Errorf("%w: join deadline must not be negative", ErrInvalidConfig)
	case len(cfg.Members) < 2:
		return fmt.Errorf("%w: need at least 2 members, got %d", ErrInvalidConfig, len(cfg.Members))
	case len(cfg.Members) > model.MaxMembers:
		return fmt.Errorf("%w: at most %d members, got %d", ErrInvalidConfig, model.MaxMembers, len(cfg.Members))
	}
	seen := make(map[model.Address]struct{}, len(cfg.Members))
	for _, m := range cfg.Members {
		if m == "" {
			return fmt.Errorf("%w: empty member address", ErrInvalidConfig)
		}
		if _, dup := seen[m]; dup {
			return fmt.Errorf("%w: duplicate member %s", ErrInvalidConfig, m)
		}
		seen[m] = struct{}{}
	}
	return nil
}

// CreateCircle registers a new circle owned by owner. Owner in cfg is ignored.
func (e *Engine) CreateCircle(ctx context.Context, owner model.Address, cfg model.CircleConfig) (*model.CircleState, error) {
	cfg.Owner = owner
	cfg.Members = append([]model.Address(nil), cfg.Members...)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	c := &model.CircleState{
		ID:                uuid.NewString(),
		Config:            cfg,
		CreatedAt:         now,
		LastExecutionTime: now,
	}
	if err := e.store.CreateCircle(ctx, c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	log.Printf("[INFO] circle %s created by %s: %d members, deposit %d %s every %s",
		c.ID, owner, c.Size(), cfg.DepositAmount, cfg.TokenAsset, cfg.CycleInterval)
	e.recordEvent(&recorder.CircleEvent{
		CircleID: c.ID, Kind: recorder.EventCreated, Member: owner,
		Amount: cfg.DepositAmount, At: now,
	})
	return c.Clone(), nil
}

// JoinCircle confirms member's seat. Joining stays possible while paused.
func (e *Engine) JoinCircle(ctx context.Context, id string, member model.Address) error {
	unlock := e.locks.lock(id)
	defer unlock()

	c, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	idx, ok := c.Config.IndexOf(member)
	if !ok {
		return fmt.Errorf("%w: %s is not a member of circle %s", ErrUnauthorized, member, id)
	}
	now := e.clock.Now()
	if now.After(c.JoinDeadlineAt()) {
		return fmt.Errorf("%w: deadline was %s", ErrDeadlineExpired, c.JoinDeadlineAt().Format(time.RFC3339))
	}
	if c.Confirmed.Has(idx) {
		return ErrAlreadyJoined
	}
	if c.Started() {
		return fmt.Errorf("%w: circle %s already started", ErrDeadlineExpired, id)
	}

	next := c.Clone()
	next.Confirmed.Set(idx)
	if next.Confirmed.Count() == next.Size() {
		e.start(next, now)
	}

	// The member record is written on join so the default reputation is visible in the store.
	ms, err := e.member(ctx, id, member)
	if err != nil {
		return err
	}
	if err := e.commit(ctx, next, map[model.Address]model.MemberState{member: ms}, nil); err != nil {
		return err
	}

	log.Printf("[INFO] circle %s: %s joined (%d/%d confirmed)", id, member, next.Confirmed.Count(), next.Size())
	e.recordEvent(&recorder.CircleEvent{CircleID: id, Kind: recorder.EventJoined, Member: member, At: now})
	if next.Started() {
		e.logStart(next)
	}
	return nil
}

// StartCircle lets the owner open the deposit window before every member
// has confirmed. Unconfirmed members are left out of the rotation.
func (e *Engine) StartCircle(ctx context.Context, id string, caller model.Address) error {
	unlock := e.locks.lock(id)
	defer unlock()

	c, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if caller != c.Config.Owner {
		return fmt.Errorf("%w: only the owner can start circle %s", ErrUnauthorized, id)
	}
	if c.Started() {
		return ErrAlreadyStarted
	}
	if c.Confirmed.Count() < 2 {
		return fmt.Errorf("%w: %d confirmed", ErrInsufficientMembers, c.Confirmed.Count())
	}

	next := c.Clone()
	e.start(next, e.clock.Now())
	if err := e.commit(ctx, next, nil, nil); err != nil {
		return err
	}
	e.logStart(next)
	return nil
}

// start opens the deposit window and points the rotation at the first
// confirmed slot. The first cycle runs a full interval from the opening.
func (e *Engine) start(c *model.CircleState, now time.Time) {
	c.StartedAt = now
	if now.After(c.CreatedAt) {
		c.LastExecutionTime = now
	}
	c.NextPayoutIndex = c.NextConfirmedSlot(0)
}

// openIfReady reports whether deposits are accepted, starting the circle
// when the join deadline has passed with enough confirmations.
func (e *Engine) openIfReady(c *model.CircleState, now time.Time) bool {
	if c.Started() {
		return true
	}
	if now.After(c.JoinDeadlineAt()) && c.Confirmed.Count() >= 2 {
		e.start(c, now)
		return true
	}
	return false
}

func (e *Engine) logStart(c *model.CircleState) {
	log.Printf("[INFO] circle %s started with %d/%d members, first payout to %s",
		c.ID, c.Confirmed.Count(), c.Size(), c.Recipient())
	e.recordEvent(&recorder.CircleEvent{
		CircleID: c.ID, Kind: recorder.EventStarted, Cycle: c.OpenCycle(),
		Note: fmt.Sprintf("%d confirmed", c.Confirmed.Count()), At: c.StartedAt,
	})
}
