// Package keeper drives circles forward on a schedule and answers chat
// commands about them.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"

	"SavingsCircle/internal/circle"
	"SavingsCircle/internal/model"
	"SavingsCircle/internal/notifier"
	"SavingsCircle/internal/recorder"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
)

// Notifier delivers messages to the circle's chat.
type Notifier interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Keeper manages the cron tasks that execute due cycles.
type Keeper struct {
	Cron     *cron.Cron
	Engine   *circle.Engine
	Notifier Notifier
	Recorder recorder.Recorder
	Clock    clock.Clock
	Caller   model.Address
	Ctx      context.Context
}

// NewKeeper creates a Keeper. caller is the address reported as executor of
// the cycles it runs.
func NewKeeper(ctx context.Context, eng *circle.Engine, n Notifier, rec recorder.Recorder, caller model.Address) *Keeper {
	return &Keeper{
		Cron:     cron.New(cron.WithSeconds()),
		Engine:   eng,
		Notifier: n,
		Recorder: rec,
		Clock:    clock.New(),
		Caller:   caller,
		Ctx:      ctx,
	}
}

// Register schedules the cycle sweep and the daily digest.
func (k *Keeper) Register(sweepCron, digestCron string) error {
	if _, err := k.Cron.AddFunc(sweepCron, func() { k.Sweep(k.Ctx) }); err != nil {
		return fmt.Errorf("register sweep task: %w", err)
	}
	if digestCron == "" {
		return nil
	}
	if _, err := k.Cron.AddFunc(digestCron, k.digest); err != nil {
		return fmt.Errorf("register digest task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (k *Keeper) Start() {
	k.Cron.Start()
	log.Println("[INFO] keeper started")
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (k *Keeper) Stop() {
	<-k.Cron.Stop().Done()
	log.Println("[INFO] keeper stopped")
}

// Sweep executes every due circle and returns the cycles it ran.
func (k *Keeper) Sweep(ctx context.Context) []*circle.CycleResult {
	due, err := k.Engine.DueCircles(ctx)
	if err != nil {
		log.Printf("[ERROR] list due circles: %v", err)
		return nil
	}
	if len(due) == 0 {
		return nil
	}
	log.Printf("[INFO] sweep: %d circle(s) due", len(due))

	var done []*circle.CycleResult
	for _, id := range due {
		res, err := k.Engine.ExecuteCycle(ctx, id, k.Caller)
		switch {
		case err == nil:
			done = append(done, res)
			k.announce(ctx, id, res)
		case errors.Is(err, circle.ErrTooEarly), errors.Is(err, circle.ErrCirclePaused),
			errors.Is(err, circle.ErrCircleCompleted):
			// Another caller got there first.
		default:
			log.Printf("[ERROR] execute circle %s: %v", id, err)
			k.trySend(ctx, fmt.Sprintf("❌ Cycle execution failed for circle <code>%s</code>: %s", id, html.EscapeString(err.Error())))
		}
	}
	return done
}

func (k *Keeper) announce(ctx context.Context, id string, res *circle.CycleResult) {
	c, err := k.Engine.GetCircle(ctx, id)
	if err != nil {
		log.Printf("[ERROR] load circle %s after execution: %v", id, err)
		return
	}
	k.trySend(ctx, notifier.FormatCycleResult(c, res))
}

func (k *Keeper) digest() {
	circles, err := k.circles(k.Ctx)
	if err != nil {
		log.Printf("[ERROR] digest: %v", err)
		return
	}
	if len(circles) == 0 {
		return
	}
	k.trySend(k.Ctx, notifier.FormatCircleList(circles))
}

func (k *Keeper) circles(ctx context.Context) ([]*model.CircleState, error) {
	ids, err := k.Engine.ListCircles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.CircleState, 0, len(ids))
	for _, id := range ids {
		c, err := k.Engine.GetCircle(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// resolve accepts a full circle id or a unique prefix of one.
func (k *Keeper) resolve(ctx context.Context, ref string) (string, error) {
	ids, err := k.Engine.ListCircles(ctx)
	if err != nil {
		return "", err
	}
	var match string
	for _, id := range ids {
		if id == ref {
			return id, nil
		}
		if strings.HasPrefix(id, ref) {
			if match != "" {
				return "", fmt.Errorf("circle id %q is ambiguous", ref)
			}
			match = id
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", circle.ErrNotFound, ref)
	}
	return match, nil
}

const help = "Available commands:\n" +
	"• /circles\n" +
	"• /circle &lt;id&gt;\n" +
	"• /member &lt;id&gt; &lt;address&gt;\n" +
	"• /history &lt;id&gt;\n" +
	"• /execute &lt;id&gt;\n" +
	"• /sweep"

// HandleCommand processes a chat command and returns a reply.
func (k *Keeper) HandleCommand(ctx context.Context, command string) string {
	args := strings.Fields(command)
	if len(args) == 0 {
		return help
	}
	name, args := args[0], args[1:]
	// Commands addressed to the bot in group chats look like /circles@botname.
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}

	var id string
	switch name {
	case "/circle", "/member", "/history", "/execute":
		if len(args) == 0 {
			return help
		}
		var err error
		if id, err = k.resolve(ctx, args[0]); err != nil {
			return "❌ " + html.EscapeString(err.Error())
		}
	}

	switch name {
	case "/circles":
		circles, err := k.circles(ctx)
		if err != nil {
			return "❌ " + html.EscapeString(err.Error())
		}
		return notifier.FormatCircleList(circles)
	case "/circle":
		c, err := k.Engine.GetCircle(ctx, id)
		if err != nil {
			return "❌ " + html.EscapeString(err.Error())
		}
		return notifier.FormatCircle(c, k.Clock.Now())
	case "/member":
		if len(args) < 2 {
			return help
		}
		c, err := k.Engine.GetCircle(ctx, id)
		if err != nil {
			return "❌ " + html.EscapeString(err.Error())
		}
		addr := model.Address(args[1])
		if _, ok := c.Config.IndexOf(addr); !ok {
			return fmt.Sprintf("❌ %s is not a member of circle %s", html.EscapeString(args[1]), id)
		}
		ms, err := k.Engine.GetMemberState(ctx, id, addr)
		if err != nil {
			return "❌ " + html.EscapeString(err.Error())
		}
		return notifier.FormatMember(id, addr, ms, c.Config.TokenAsset)
	case "/history":
		c, err := k.Engine.GetCircle(ctx, id)
		if err != nil {
			return "❌ " + html.EscapeString(err.Error())
		}
		payouts, err := k.Recorder.Payouts(id)
		if err != nil {
			return "❌ " + html.EscapeString(err.Error())
		}
		return notifier.FormatPayoutHistory(id, c.Config.TokenAsset, payouts)
	case "/execute":
		res, err := k.Engine.ExecuteCycle(ctx, id, k.Caller)
		if err != nil {
			return "❌ " + html.EscapeString(err.Error())
		}
		c, err := k.Engine.GetCircle(ctx, id)
		if err != nil {
			return "❌ " + html.EscapeString(err.Error())
		}
		return notifier.FormatCycleResult(c, res)
	case "/sweep":
		n := len(k.Sweep(ctx))
		return fmt.Sprintf("Sweep done: %d cycle(s) executed", n)
	default:
		return help
	}
}

func (k *Keeper) trySend(ctx context.Context, text string) {
	if err := k.Notifier.SendWithRetry(ctx, text, 3); err != nil {
		log.Printf("[ERROR] send notification: %v", err)
	}
}
