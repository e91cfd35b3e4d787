package circle

import (
	"context"
	"fmt"
	"log"
	"time"

	"SavingsCircle/internal/model"
	"SavingsCircle/internal/recorder"
	"SavingsCircle/internal/reputation"
)

// Penalty is a fine applied to a member who skipped the cycle.
type Penalty struct {
	Member     model.Address
	Fine       int64
	Reputation int64
}

// CycleResult describes an executed cycle.
type CycleResult struct {
	Cycle      int // number of the cycle that just closed
	Recipient  model.Address
	Payout     int64
	TopUp      int64 // part of Payout drawn from the reserve
	Depositors int
	Penalties  []Penalty
	Completed  bool
}

// ExecuteCycle closes the open cycle: it fines absent members, pays the pot
// to the member whose turn it is and advances the rotation. Anyone may call
// it once the cycle interval has elapsed.
//
// If the payout transfer fails nothing is committed, so the call can simply
// be retried.
func (e *Engine) ExecuteCycle(ctx context.Context, id string, caller model.Address) (*CycleResult, error) {
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

	now := e.clock.Now()
	next := c.Clone()
	justStarted := !next.Started()
	if !e.openIfReady(next, now) {
		return nil, fmt.Errorf("%w: circle %s has not started", ErrCycleNotOpen, id)
	}
	if now.Before(next.NextDueAt()) {
		return nil, fmt.Errorf("%w: next cycle due at %s", ErrTooEarly, next.NextDueAt().Format("2006-01-02 15:04:05"))
	}

	recipientIdx := next.NextPayoutIndex
	if !next.Confirmed.Has(recipientIdx) || next.PaidOut.Has(recipientIdx) {
		// Only reachable if stored state was tampered with.
		return nil, fmt.Errorf("%w: slot %d cannot receive a payout", ErrCircleCompleted, recipientIdx)
	}
	recipient := next.Config.Members[recipientIdx]
	res := &CycleResult{Cycle: next.OpenCycle(), Recipient: recipient}

	deposit := next.Config.DepositAmount
	members := map[model.Address]model.MemberState{}
	absent := 0
	for _, i := range next.Confirmed.Indexes(next.Size()) {
		if next.Deposits.Has(i) {
			continue
		}
		absent++
		addr := next.Config.Members[i]
		ms, err := e.member(ctx, id, addr)
		if err != nil {
			return nil, err
		}
		fine := reputation.Fine(deposit, e.policy.MissFineBps)
		ms.ReputationScore = reputation.Penalize(ms.ReputationScore, e.policy.MissPenalty, e.policy.ReputationFloor)
		ms.PenaltiesAccrued += fine
		ms.Missed++
		members[addr] = ms
		res.Penalties = append(res.Penalties, Penalty{Member: addr, Fine: fine, Reputation: ms.ReputationScore})
	}

	res.Depositors = next.Deposits.Count()
	payout := deposit * int64(res.Depositors)
	if e.policy.Pot == PotTopUp {
		res.TopUp = min(next.Reserve, deposit*int64(absent))
		payout += res.TopUp
	}
	res.Payout = payout

	asset := next.Config.TokenAsset
	escrow := model.EscrowAccount(id)
	if payout > 0 {
		if err := e.transfer.Transfer(ctx, asset, escrow, recipient, payout); err != nil {
			return nil, fmt.Errorf("%w: cycle %d to %s: %w", ErrPayoutFailed, res.Cycle, recipient, err)
		}
	}

	next.EscrowBalance -= payout
	next.Reserve -= res.TopUp
	next.Deposits.Reset()
	next.LastExecutionTime = now
	next.CurrentCycle++
	next.PaidOut.Set(recipientIdx)
	next.NextPayoutIndex = next.NextConfirmedSlot(recipientIdx + 1)
	res.Completed = next.Completed()

	undo := &transferLeg{asset: asset, from: recipient, to: escrow, amount: payout}
	if err := e.commit(ctx, next, members, undo); err != nil {
		return nil, err
	}

	if justStarted {
		e.logStart(next)
	}
	log.Printf("[INFO] circle %s: cycle %d paid %d %s to %s (%d deposits, %d penalized, top-up %d)",
		id, res.Cycle, payout, asset, recipient, res.Depositors, len(res.Penalties), res.TopUp)
	e.recordCycle(id, caller, res, now)
	if res.Completed {
		log.Printf("[INFO] circle %s completed after %d cycles", id, next.CurrentCycle)
	}
	return res, nil
}

func (e *Engine) recordCycle(id string, caller model.Address, res *CycleResult, now time.Time) {
	for _, p := range res.Penalties {
		if err := e.recorder.RecordPenalty(&recorder.PenaltyEvent{
			CircleID: id, Cycle: res.Cycle, Member: p.Member,
			Fine: p.Fine, Reputation: p.Reputation, At: now,
		}); err != nil {
			log.Printf("[ERROR] record penalty for circle %s: %v", id, err)
		}
	}
	if err := e.recorder.RecordPayout(&recorder.PayoutEvent{
		CircleID: id, Cycle: res.Cycle, Recipient: res.Recipient,
		Amount: res.Payout, TopUp: res.TopUp, Depositors: res.Depositors, At: now,
	}); err != nil {
		log.Printf("[ERROR] record payout for circle %s: %v", id, err)
	}
	e.recordEvent(&recorder.CircleEvent{
		CircleID: id, Kind: recorder.EventCycle, Member: caller,
		Cycle: res.Cycle, Amount: res.Payout, At: now,
	})
}
