package circle

import (
	"context"
	"fmt"
	"sort"

	"SavingsCircle/internal/model"
)

// GetCircle returns a snapshot of the circle.
func (e *Engine) GetCircle(ctx context.Context, id string) (*model.CircleState, error) {
	c, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// GetMemberState returns member's record. Members that never acted get the
// default record.
func (e *Engine) GetMemberState(ctx context.Context, id string, member model.Address) (model.MemberState, error) {
	if _, err := e.load(ctx, id); err != nil {
		return model.MemberState{}, err
	}
	return e.member(ctx, id, member)
}

// ListCircles returns every circle id in sorted order.
func (e *Engine) ListCircles(ctx context.Context) ([]string, error) {
	ids, err := e.store.ListCircleIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	sort.Strings(ids)
	return ids, nil
}

// DueCircles lists circles whose open cycle can be executed now.
func (e *Engine) DueCircles(ctx context.Context) ([]string, error) {
	ids, err := e.ListCircles(ctx)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	var due []string
	for _, id := range ids {
		c, err := e.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if c.Paused || c.Completed() || now.Before(c.NextDueAt()) {
			continue
		}
		// Opening a circle starts its first interval, so it cannot be due yet.
		if !c.Started() {
			continue
		}
		due = append(due, id)
	}
	return due, nil
}
