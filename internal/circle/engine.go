// Package circle is the rotating savings circle engine: membership,
// deposits, cycle execution with round-robin payouts, penalties and
// reputation, pause gating and refunds.
//
// The engine is the only writer of circle state. Each operation loads the
// circle, works on a private copy, calls the token collaborator, and only
// then persists the copy, so a failed call never leaves partial state.
package circle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"SavingsCircle/internal/model"
	"SavingsCircle/internal/recorder"
	"SavingsCircle/internal/store"

	"github.com/benbjohnson/clock"
)

// TokenTransfer moves token value in and out of escrow.
type TokenTransfer interface {
	Transfer(ctx context.Context, asset string, from, to model.Address, amount int64) error
}

// Engine runs circle operations.
type Engine struct {
	store    store.Store
	transfer TokenTransfer
	clock    clock.Clock
	recorder recorder.Recorder
	policy   Policy
	locks    lockSet
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRecorder attaches a history recorder.
func WithRecorder(r recorder.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// NewEngine wires an engine to its store and token collaborator.
func NewEngine(st store.Store, tt TokenTransfer, opts ...Option) (*Engine, error) {
	if st == nil || tt == nil {
		return nil, fmt.Errorf("store and token transfer are required")
	}
	e := &Engine{
		store:    st,
		transfer: tt,
		clock:    clock.New(),
		recorder: recorder.NewNoopRecorder(),
		policy:   DefaultPolicy(),
		locks:    lockSet{locks: map[string]*lockEntry{}},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if err := e.policy.Validate(); err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	return e, nil
}

// Policy returns the rates in effect.
func (e *Engine) Policy() Policy { return e.policy }

// lockSet serialises operations per circle id. Entries live only while a
// caller holds or waits for them.
type lockSet struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (l *lockSet) lock(id string) func() {
	l.mu.Lock()
	ent, ok := l.locks[id]
	if !ok {
		ent = &lockEntry{}
		l.locks[id] = ent
	}
	ent.refs++
	l.mu.Unlock()

	ent.mu.Lock()
	return func() {
		ent.mu.Unlock()
		l.mu.Lock()
		ent.refs--
		if ent.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// transferLeg is a transfer the engine can issue to compensate a committed
// transfer whose state could not be persisted.
type transferLeg struct {
	asset    string
	from, to model.Address
	amount   int64
}

func (e *Engine) load(ctx context.Context, id string) (*model.CircleState, error) {
	c, err := e.store.GetCircle(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return c, nil
}

// member returns the stored member state, or the default state for a
// member that has no record yet.
func (e *Engine) member(ctx context.Context, circleID string, addr model.Address) (model.MemberState, error) {
	ms, err := e.store.GetMember(ctx, circleID, addr)
	if errors.Is(err, store.ErrNotFound) {
		return model.MemberState{ReputationScore: e.policy.InitialReputation}, nil
	}
	if err != nil {
		return model.MemberState{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return ms, nil
}

func (e *Engine) commit(ctx context.Context, c *model.CircleState, members map[model.Address]model.MemberState, undo *transferLeg) error {
	err := e.store.Commit(ctx, c, members)
	if err == nil {
		return nil
	}
	if undo != nil && undo.amount > 0 {
		// The ledger already moved funds; move them back so escrow and state agree.
		if uerr := e.transfer.Transfer(context.WithoutCancel(ctx), undo.asset, undo.from, undo.to, undo.amount); uerr != nil {
			log.Printf("[ERROR] circle %s: compensating transfer of %d %s from %s to %s failed: %v",
				c.ID, undo.amount, undo.asset, undo.from, undo.to, uerr)
		}
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

func (e *Engine) recordEvent(evt *recorder.CircleEvent) {
	if evt.At.IsZero() {
		evt.At = e.clock.Now()
	}
	if err := e.recorder.RecordEvent(evt); err != nil {
		log.Printf("[ERROR] record %s event for circle %s: %v", evt.Kind, evt.CircleID, err)
	}
}
