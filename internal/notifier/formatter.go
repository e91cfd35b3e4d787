package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"SavingsCircle/internal/circle"
	"SavingsCircle/internal/model"
	"SavingsCircle/internal/recorder"
	"SavingsCircle/internal/reputation"

	"github.com/dustin/go-humanize"
)

func amount(v int64, asset string) string {
	return fmt.Sprintf("%s %s", humanize.Comma(v), html.EscapeString(asset))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Status is a one-word lifecycle label for c.
func Status(c *model.CircleState) string {
	switch {
	case c.Completed():
		return "completed"
	case c.Paused:
		return "paused"
	case c.Started():
		return "open"
	default:
		return "forming"
	}
}

// FormatCircle renders the state of one circle.
func FormatCircle(c *model.CircleState, now time.Time) string {
	var b strings.Builder
	asset := c.Config.TokenAsset

	b.WriteString(fmt.Sprintf("🔄 <b>Circle %s</b> | %s\n\n", shortID(c.ID), Status(c)))
	b.WriteString(fmt.Sprintf("Owner: %s\n", html.EscapeString(string(c.Config.Owner))))
	b.WriteString(fmt.Sprintf("Deposit: %s every %s\n", amount(c.Config.DepositAmount, asset), c.Config.CycleInterval))
	b.WriteString(fmt.Sprintf("Members: %d/%d confirmed\n", c.Confirmed.Count(), c.Size()))
	b.WriteString(fmt.Sprintf("Cycles paid: %d\n", c.CurrentCycle))
	b.WriteString(fmt.Sprintf("Escrow: %s (reserve %s)\n", amount(c.EscrowBalance, asset), amount(c.Reserve, asset)))

	if c.Started() && !c.Completed() {
		b.WriteString(fmt.Sprintf("\n💰 <b>Cycle %d</b>\n", c.OpenCycle()))
		b.WriteString(fmt.Sprintf("   Recipient: %s\n", html.EscapeString(string(c.Recipient()))))
		b.WriteString(fmt.Sprintf("   Deposits: %d/%d\n", c.Deposits.Count(), c.Confirmed.Count()))
		b.WriteString(fmt.Sprintf("   Due: %s (%s)\n", c.NextDueAt().Format("2006-01-02 15:04"),
			humanize.RelTime(c.NextDueAt(), now, "ago", "from now")))
	} else if !c.Started() {
		b.WriteString(fmt.Sprintf("\nJoin by %s\n", c.JoinDeadlineAt().Format("2006-01-02 15:04")))
	}

	b.WriteString("\n👥 <b>Roster</b>\n")
	for i, m := range c.Config.Members {
		mark := "·"
		switch {
		case c.PaidOut.Has(i):
			mark = "✅"
		case c.Deposits.Has(i):
			mark = "💵"
		case !c.Confirmed.Has(i):
			mark = "⏳"
		}
		b.WriteString(fmt.Sprintf("  %s %s\n", mark, html.EscapeString(string(m))))
	}
	return b.String()
}

// FormatMember renders a member's record and standing.
func FormatMember(circleID string, addr model.Address, ms model.MemberState, asset string) string {
	var b strings.Builder
	standing := reputation.StandingFor(ms.ReputationScore)

	b.WriteString(fmt.Sprintf("👤 <b>%s</b> in circle %s\n\n", html.EscapeString(string(addr)), shortID(circleID)))
	b.WriteString(fmt.Sprintf("Reputation: %d (%s)\n", ms.ReputationScore, standing.Label))
	b.WriteString(fmt.Sprintf("Deposits: %d | Late: %d | Missed: %d\n", ms.Deposits, ms.Late, ms.Missed))
	if ms.LastDepositCycle > 0 {
		b.WriteString(fmt.Sprintf("Last deposit: cycle %d\n", ms.LastDepositCycle))
	}
	if ms.PenaltiesAccrued > 0 {
		b.WriteString(fmt.Sprintf("Penalties accrued: %s\n", amount(ms.PenaltiesAccrued, asset)))
	}
	if !standing.Eligible {
		b.WriteString("\n⚠️ Not eligible for new circles\n")
	}
	return b.String()
}

// FormatCycleResult renders the outcome of an executed cycle.
func FormatCycleResult(c *model.CircleState, res *circle.CycleResult) string {
	var b strings.Builder
	asset := c.Config.TokenAsset

	b.WriteString(fmt.Sprintf("🎉 <b>Circle %s</b> | cycle %d paid\n\n", shortID(c.ID), res.Cycle))
	b.WriteString(fmt.Sprintf("Recipient: %s\n", html.EscapeString(string(res.Recipient))))
	b.WriteString(fmt.Sprintf("Payout: %s (%d deposits)\n", amount(res.Payout, asset), res.Depositors))
	if res.TopUp > 0 {
		b.WriteString(fmt.Sprintf("   From reserve: %s\n", amount(res.TopUp, asset)))
	}
	if len(res.Penalties) > 0 {
		b.WriteString("\n⚠️ <b>Missed deposits:</b>\n")
		for _, p := range res.Penalties {
			b.WriteString(fmt.Sprintf("  %s: fined %s, reputation %d\n",
				html.EscapeString(string(p.Member)), amount(p.Fine, asset), p.Reputation))
		}
	}
	if res.Completed {
		b.WriteString("\nEvery member has been paid. Circle complete ✅")
	}
	return b.String()
}

// FormatCircleList renders a one-line summary per circle.
func FormatCircleList(circles []*model.CircleState) string {
	if len(circles) == 0 {
		return "No circles yet."
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📋 <b>Circles</b> (%d)\n\n", len(circles)))
	for _, c := range circles {
		b.WriteString(fmt.Sprintf("<code>%s</code> %s | %s | cycle %d/%d\n",
			c.ID, Status(c), amount(c.Config.DepositAmount, c.Config.TokenAsset),
			c.CurrentCycle, c.Confirmed.Count()))
	}
	return b.String()
}

// FormatPayoutHistory renders the recorded payouts of a circle.
func FormatPayoutHistory(circleID, asset string, payouts []recorder.PayoutEvent) string {
	if len(payouts) == 0 {
		return fmt.Sprintf("No payouts recorded for circle %s.", shortID(circleID))
	}
	var b strings.Builder
	var total int64
	b.WriteString(fmt.Sprintf("📜 <b>Payouts</b> | circle %s\n\n", shortID(circleID)))
	for _, p := range payouts {
		total += p.Amount
		b.WriteString(fmt.Sprintf("  #%d %s → %s (%s)\n", p.Cycle, p.At.Format("2006-01-02"),
			html.EscapeString(string(p.Recipient)), amount(p.Amount, asset)))
	}
	b.WriteString(fmt.Sprintf("\nTotal paid: %s\n", amount(total, asset)))
	return b.String()
}
