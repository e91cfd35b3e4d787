package circle

import (
	"context"
	"fmt"
	"log"

	"SavingsCircle/internal/model"
	"SavingsCircle/internal/recorder"
)

// Pause stops deposits and cycle execution. Only the owner may pause.
func (e *Engine) Pause(ctx context.Context, id string, caller model.Address) error {
	return e.setPaused(ctx, id, caller, true)
}

// Unpause resumes a paused circle.
func (e *Engine) Unpause(ctx context.Context, id string, caller model.Address) error {
	return e.setPaused(ctx, id, caller, false)
}

func (e *Engine) setPaused(ctx context.Context, id string, caller model.Address, paused bool) error {
	unlock := e.locks.lock(id)
	defer unlock()

	c, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if caller != c.Config.Owner {
		return fmt.Errorf("%w: only the owner can pause circle %s", ErrUnauthorized, id)
	}
	if c.Paused == paused {
		return nil
	}

	next := c.Clone()
	next.Paused = paused
	if err := e.commit(ctx, next, nil, nil); err != nil {
		return err
	}

	kind := recorder.EventUnpaused
	if paused {
		kind = recorder.EventPaused
	}
	log.Printf("[INFO] circle %s %s by %s", id, kind, caller)
	e.recordEvent(&recorder.CircleEvent{CircleID: id, Kind: kind, Member: caller, Cycle: next.OpenCycle()})
	return nil
}
