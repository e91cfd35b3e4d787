package circle

import (
	"context"
	"fmt"
	"log"

	"SavingsCircle/internal/model"
	"SavingsCircle/internal/recorder"
)

// ClaimRefund pays member back the penalties it accrued. Refunds are only
// available once the circle is paused or completed, and are paid from the
// reserve.
func (e *Engine) ClaimRefund(ctx context.Context, id string, member model.Address) (int64, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	c, err := e.load(ctx, id)
	if err != nil {
		return 0, err
	}
	if _, ok := c.Config.IndexOf(member); !ok {
		return 0, fmt.Errorf("%w: %s is not a member of circle %s", ErrUnauthorized, member, id)
	}
	if !c.Paused && !c.Completed() {
		return 0, fmt.Errorf("%w: circle %s is still running", ErrNothingToClaim, id)
	}
	ms, err := e.member(ctx, id, member)
	if err != nil {
		return 0, err
	}
	amount := ms.PenaltiesAccrued
	if amount <= 0 {
		return 0, ErrNothingToClaim
	}
	if amount > c.Reserve {
		return 0, fmt.Errorf("%w: %w: owed %d, reserve %d", ErrTransferFailed, ErrInsufficientReserve, amount, c.Reserve)
	}

	asset := c.Config.TokenAsset
	escrow := model.EscrowAccount(id)
	if err := e.transfer.Transfer(ctx, asset, escrow, member, amount); err != nil {
		return 0, fmt.Errorf("%w: refund to %s: %w", ErrTransferFailed, member, err)
	}

	next := c.Clone()
	next.EscrowBalance -= amount
	next.Reserve -= amount
	ms.PenaltiesAccrued = 0

	undo := &transferLeg{asset: asset, from: member, to: escrow, amount: amount}
	if err := e.commit(ctx, next, map[model.Address]model.MemberState{member: ms}, undo); err != nil {
		return 0, err
	}

	log.Printf("[INFO] circle %s: refunded %d %s to %s", id, amount, asset, member)
	e.recordEvent(&recorder.CircleEvent{CircleID: id, Kind: recorder.EventRefund, Member: member, Amount: amount})
	return amount, nil
}

// FundReserve moves amount from funder into the circle's reserve. The
// reserve backs refunds and, under PotTopUp, absentees' shares.
func (e *Engine) FundReserve(ctx context.Context, id string, funder model.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	unlock := e.locks.lock(id)
	defer unlock()

	c, err := e.load(ctx, id)
	if err != nil {
		return err
	}

	asset := c.Config.TokenAsset
	escrow := model.EscrowAccount(id)
	if err := e.transfer.Transfer(ctx, asset, funder, escrow, amount); err != nil {
		return fmt.Errorf("%w: reserve from %s: %w", ErrTransferFailed, funder, err)
	}

	next := c.Clone()
	next.EscrowBalance += amount
	next.Reserve += amount

	undo := &transferLeg{asset: asset, from: escrow, to: funder, amount: amount}
	if err := e.commit(ctx, next, nil, undo); err != nil {
		return err
	}

	log.Printf("[INFO] circle %s: %s added %d %s to reserve (now %d)", id, funder, amount, asset, next.Reserve)
	e.recordEvent(&recorder.CircleEvent{CircleID: id, Kind: recorder.EventReserve, Member: funder, Amount: amount})
	return nil
}
