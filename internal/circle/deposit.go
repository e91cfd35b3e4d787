package circle

import (
	"context"
	"fmt"
	"log"

	"SavingsCircle/internal/model"
	"SavingsCircle/internal/recorder"
	"SavingsCircle/internal/reputation"
)

// DepositResult describes an accepted deposit.
type DepositResult struct {
	Cycle      int
	Amount     int64
	Late       bool
	Fine       int64
	Reputation int64
}

// Deposit collects member's fixed deposit for the open cycle.
//
// A deposit made once the open cycle is already due still counts toward the
// pot but is late: the member is fined and loses reputation instead of
// gaining it.
func (e *Engine) Deposit(ctx context.Context, id string, member model.Address) (*DepositResult, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	c, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Paused {
		return nil, ErrCirclePaused
	}
	if c.Completed() {
		return nil, ErrCircleCompleted
	}
	idx, ok := c.Config.IndexOf(member)
	if !ok || !c.Confirmed.Has(idx) {
		return nil, fmt.Errorf("%w: %s is not a confirmed member of circle %s", ErrUnauthorized, member, id)
	}

	now := e.clock.Now()
	next := c.Clone()
	justStarted := !next.Started()
	if !e.openIfReady(next, now) {
		return nil, fmt.Errorf("%w: circle %s has not started", ErrCycleNotOpen, id)
	}
	if next.Deposits.Has(idx) {
		return nil, ErrAlreadyDeposited
	}
	ms, err := e.member(ctx, id, member)
	if err != nil {
		return nil, err
	}

	amount := next.Config.DepositAmount
	asset := next.Config.TokenAsset
	escrow := model.EscrowAccount(id)
	if err := e.transfer.Transfer(ctx, asset, member, escrow, amount); err != nil {
		return nil, fmt.Errorf("%w: deposit from %s: %w", ErrTransferFailed, member, err)
	}

	next.Deposits.Set(idx)
	next.EscrowBalance += amount

	res := &DepositResult{Cycle: next.OpenCycle(), Amount: amount}
	ms.LastDepositCycle = next.OpenCycle()
	ms.Deposits++
	if !now.Before(next.NextDueAt()) {
		res.Late = true
		res.Fine = reputation.Fine(amount, e.policy.LateFineBps)
		ms.ReputationScore = reputation.Penalize(ms.ReputationScore, e.policy.LatePenalty, e.policy.ReputationFloor)
		ms.PenaltiesAccrued += res.Fine
		ms.Late++
	} else {
		ms.ReputationScore = reputation.Reward(ms.ReputationScore, e.policy.DepositReward)
	}
	res.Reputation = ms.ReputationScore

	undo := &transferLeg{asset: asset, from: escrow, to: member, amount: amount}
	if err := e.commit(ctx, next, map[model.Address]model.MemberState{member: ms}, undo); err != nil {
		return nil, err
	}

	if justStarted {
		e.logStart(next)
	}
	log.Printf("[INFO] circle %s: %s deposited %d for cycle %d (%d/%d in, late=%v)",
		id, member, amount, res.Cycle, next.Deposits.Count(), next.Confirmed.Count(), res.Late)
	e.recordEvent(&recorder.CircleEvent{
		CircleID: id, Kind: recorder.EventDeposit, Member: member,
		Cycle: res.Cycle, Amount: amount, At: now,
	})
	if res.Late {
		if err := e.recorder.RecordPenalty(&recorder.PenaltyEvent{
			CircleID: id, Cycle: res.Cycle, Member: member, Late: true,
			Fine: res.Fine, Reputation: ms.ReputationScore, At: now,
		}); err != nil {
			log.Printf("[ERROR] record late penalty for circle %s: %v", id, err)
		}
	}
	return res, nil
}
