package circle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"SavingsCircle/internal/ledger"
	"SavingsCircle/internal/model"
	"SavingsCircle/internal/store"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	asset    = "USDC"
	deposit  = int64(100)
	interval = 7 * 24 * time.Hour
	deadline = 2 * 24 * time.Hour
	owner    = model.Address("owner")
)

var (
	alice = model.Address("alice")
	bob   = model.Address("bob")
	carol = model.Address("carol")
)

type fixture struct {
	engine *Engine
	ledger *ledger.Ledger
	store  *failingStore
	clock  *clock.Mock
	tt     *failingTransfer
}

// failingTransfer wraps the ledger and fails transfers to failTo on demand.
type failingTransfer struct {
	next   TokenTransfer
	mu     sync.Mutex
	failTo model.Address
}

func (f *failingTransfer) Transfer(ctx context.Context, asset string, from, to model.Address, amount int64) error {
	f.mu.Lock()
	fail := f.failTo != "" && f.failTo == to
	f.mu.Unlock()
	if fail {
		return errors.New("token contract reverted")
	}
	return f.next.Transfer(ctx, asset, from, to, amount)
}

func (f *failingTransfer) setFailTo(a model.Address) {
	f.mu.Lock()
	f.failTo = a
	f.mu.Unlock()
}

// failingStore wraps the memory store and rejects commits on demand.
type failingStore struct {
	*store.Memory
	mu         sync.Mutex
	failCommit bool
}

func (s *failingStore) Commit(ctx context.Context, c *model.CircleState, members map[model.Address]model.MemberState) error {
	s.mu.Lock()
	fail := s.failCommit
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return s.Memory.Commit(ctx, c, members)
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC))

	l, err := ledger.NewLedger("")
	require.NoError(t, err)
	for _, a := range []model.Address{owner, alice, bob, carol} {
		require.NoError(t, l.Mint(asset, a, 1000))
	}

	st := &failingStore{Memory: store.NewMemory()}
	tt := &failingTransfer{next: l}
	e, err := NewEngine(st, tt, append([]Option{WithClock(mock)}, opts...)...)
	require.NoError(t, err)
	return &fixture{engine: e, ledger: l, store: st, clock: mock, tt: tt}
}

func (f *fixture) create(t *testing.T, members ...model.Address) string {
	t.Helper()
	c, err := f.engine.CreateCircle(context.Background(), owner, model.CircleConfig{
		TokenAsset:    asset,
		DepositAmount: deposit,
		CycleInterval: interval,
		JoinDeadline:  deadline,
		Members:       members,
	})
	require.NoError(t, err)
	return c.ID
}

// started creates a circle in which every member has joined.
func (f *fixture) started(t *testing.T, members ...model.Address) string {
	t.Helper()
	id := f.create(t, members...)
	for _, m := range members {
		require.NoError(t, f.engine.JoinCircle(context.Background(), id, m))
	}
	return id
}

func (f *fixture) circle(t *testing.T, id string) *model.CircleState {
	t.Helper()
	c, err := f.engine.GetCircle(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (f *fixture) memberState(t *testing.T, id string, m model.Address) model.MemberState {
	t.Helper()
	ms, err := f.engine.GetMemberState(context.Background(), id, m)
	require.NoError(t, err)
	return ms
}

func (f *fixture) deposit(t *testing.T, id string, members ...model.Address) {
	t.Helper()
	for _, m := range members {
		_, err := f.engine.Deposit(context.Background(), id, m)
		require.NoError(t, err, "deposit by %s", m)
	}
}

// assertEscrow checks that recorded escrow matches the ledger and the
// reserve plus collected deposits.
func (f *fixture) assertEscrow(t *testing.T, id string) {
	t.Helper()
	c := f.circle(t, id)
	assert.Equal(t, c.Reserve+c.Config.DepositAmount*int64(c.Deposits.Count()), c.EscrowBalance)
	assert.Equal(t, f.ledger.Balance(asset, model.EscrowAccount(id)), c.EscrowBalance)
}

func TestCreateCircle(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, alice, bob, carol)

	c := f.circle(t, id)
	assert.Equal(t, owner, c.Config.Owner)
	assert.Equal(t, 0, c.CurrentCycle)
	assert.Equal(t, 0, c.Confirmed.Count())
	assert.False(t, c.Started())
	assert.Equal(t, f.clock.Now(), c.LastExecutionTime)
	assert.Zero(t, c.EscrowBalance)

	ids, err := f.engine.ListCircles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)
}

func TestCreateCircleInvalidConfig(t *testing.T) {
	f := newFixture(t)
	base := model.CircleConfig{
		TokenAsset: asset, DepositAmount: deposit, CycleInterval: interval,
		JoinDeadline: deadline, Members: []model.Address{alice, bob},
	}
	tests := []struct {
		name   string
		mutate func(*model.CircleConfig)
	}{
		{"zero deposit", func(c *model.CircleConfig) { c.DepositAmount = 0 }},
		{"zero interval", func(c *model.CircleConfig) { c.CycleInterval = 0 }},
		{"no asset", func(c *model.CircleConfig) { c.TokenAsset = "" }},
		{"single member", func(c *model.CircleConfig) { c.Members = []model.Address{alice} }},
		{"duplicate member", func(c *model.CircleConfig) { c.Members = []model.Address{alice, alice} }},
		{"empty member", func(c *model.CircleConfig) { c.Members = []model.Address{alice, ""} }},
		{"too many members", func(c *model.CircleConfig) {
			c.Members = nil
			for i := 0; i <= model.MaxMembers; i++ {
				c.Members = append(c.Members, model.Address(string(rune('A'+i%26))+string(rune('a'+i/26))))
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			cfg.Members = append([]model.Address(nil), base.Members...)
			tt.mutate(&cfg)
			_, err := f.engine.CreateCircle(context.Background(), owner, cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestJoinCircle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, alice, bob, carol)

	assert.ErrorIs(t, f.engine.JoinCircle(ctx, id, "mallory"), ErrUnauthorized)
	require.NoError(t, f.engine.JoinCircle(ctx, id, alice))
	assert.ErrorIs(t, f.engine.JoinCircle(ctx, id, alice), ErrAlreadyJoined)

	c := f.circle(t, id)
	assert.True(t, c.Confirmed.Has(0))
	assert.False(t, c.Started())
	assert.Equal(t, int64(10), f.memberState(t, id, alice).ReputationScore)

	f.clock.Add(deadline + time.Second)
	assert.ErrorIs(t, f.engine.JoinCircle(ctx, id, bob), ErrDeadlineExpired)
	assert.False(t, f.circle(t, id).Confirmed.Has(1))
}

func TestJoinAtDeadlineIsAccepted(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, alice, bob)
	f.clock.Add(deadline)
	assert.NoError(t, f.engine.JoinCircle(context.Background(), id, alice))
}

func TestLastConfirmationStartsCircle(t *testing.T) {
	f := newFixture(t)
	id := f.started(t, alice, bob, carol)

	c := f.circle(t, id)
	assert.True(t, c.Started())
	assert.Equal(t, 0, c.NextPayoutIndex)
	assert.Equal(t, 1, c.OpenCycle())
}

func TestJoinWhilePaused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, alice, bob)
	require.NoError(t, f.engine.Pause(ctx, id, owner))
	assert.NoError(t, f.engine.JoinCircle(ctx, id, alice))
}

func TestStartCircle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, alice, bob, carol)

	require.NoError(t, f.engine.JoinCircle(ctx, id, alice))
	assert.ErrorIs(t, f.engine.StartCircle(ctx, id, owner), ErrInsufficientMembers)
	require.NoError(t, f.engine.JoinCircle(ctx, id, carol))
	assert.ErrorIs(t, f.engine.StartCircle(ctx, id, alice), ErrUnauthorized)
	require.NoError(t, f.engine.StartCircle(ctx, id, owner))
	assert.ErrorIs(t, f.engine.StartCircle(ctx, id, owner), ErrAlreadyStarted)

	assert.ErrorIs(t, f.engine.JoinCircle(ctx, id, bob), ErrDeadlineExpired)
	_, err := f.engine.Deposit(ctx, id, bob)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDepositBeforeStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, alice, bob, carol)
	require.NoError(t, f.engine.JoinCircle(ctx, id, alice))
	require.NoError(t, f.engine.JoinCircle(ctx, id, bob))

	_, err := f.engine.Deposit(ctx, id, alice)
	assert.ErrorIs(t, err, ErrCycleNotOpen)
	_, err = f.engine.ExecuteCycle(ctx, id, alice)
	assert.ErrorIs(t, err, ErrCycleNotOpen)
	assert.Equal(t, int64(1000), f.ledger.Balance(asset, alice))

	// The window opens by itself once the deadline passes with two confirmations.
	f.clock.Add(deadline + time.Second)
	res, err := f.engine.Deposit(ctx, id, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cycle)
	assert.True(t, f.circle(t, id).Started())

	_, err = f.engine.Deposit(ctx, id, carol)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestLoneConfirmationNeverStarts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, alice, bob)
	require.NoError(t, f.engine.JoinCircle(ctx, id, alice))
	f.clock.Add(interval)

	_, err := f.engine.Deposit(ctx, id, alice)
	assert.ErrorIs(t, err, ErrCycleNotOpen)
	due, err := f.engine.DueCircles(ctx)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDeposit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.started(t, alice, bob, carol)

	res, err := f.engine.Deposit(ctx, id, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cycle)
	assert.False(t, res.Late)
	assert.Equal(t, int64(11), res.Reputation)

	_, err = f.engine.Deposit(ctx, id, alice)
	assert.ErrorIs(t, err, ErrAlreadyDeposited)
	_, err = f.engine.Deposit(ctx, id, "mallory")
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.Equal(t, int64(900), f.ledger.Balance(asset, alice))
	ms := f.memberState(t, id, alice)
	assert.Equal(t, 1, ms.LastDepositCycle)
	assert.Equal(t, 1, ms.Deposits)
	f.assertEscrow(t, id)
}

func TestDepositInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.started(t, alice, bob)
	require.NoError(t, f.ledger.Transfer(ctx, asset, alice, carol, 950))

	_, err := f.engine.Deposit(ctx, id, alice)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	c := f.circle(t, id)
	assert.Equal(t, 0, c.Deposits.Count())
	assert.Equal(t, int64(10), f.memberState(t, id, alice).ReputationScore)
	f.assertEscrow(t, id)
}

func TestThreeMemberCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.started(t, alice, bob, carol)

	f.deposit(t, id, alice, bob)
	f.clock.Add(interval)

	res, err := f.engine.ExecuteCycle(ctx, id, "keeper")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cycle)
	assert.Equal(t, alice, res.Recipient)
	assert.Equal(t, int64(200), res.Payout)
	assert.Equal(t, 2, res.Depositors)
	require.Len(t, res.Penalties, 1)
	assert.Equal(t, Penalty{Member: carol, Fine: 20, Reputation: 9}, res.Penalties[0])
	assert.False(t, res.Completed)

	assert.Equal(t, int64(1100), f.ledger.Balance(asset, alice))
	assert.Equal(t, int64(900), f.ledger.Balance(asset, bob))
	assert.Equal(t, int64(1000), f.ledger.Balance(asset, carol))

	c := f.circle(t, id)
	assert.Equal(t, 1, c.CurrentCycle)
	assert.Equal(t, 1, c.NextPayoutIndex)
	assert.Equal(t, 0, c.Deposits.Count())
	assert.True(t, c.PaidOut.Has(0))
	assert.Equal(t, f.clock.Now(), c.LastExecutionTime)
	f.assertEscrow(t, id)

	assert.Equal(t, int64(11), f.memberState(t, id, alice).ReputationScore)
	cs := f.memberState(t, id, carol)
	assert.Equal(t, int64(9), cs.ReputationScore)
	assert.Equal(t, int64(20), cs.PenaltiesAccrued)
	assert.Equal(t, 1, cs.Missed)
}

func TestFullRound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	members := []model.Address{alice, bob, carol}
	id := f.started(t, members...)

	for i, want := range members {
		f.deposit(t, id, members...)
		f.clock.Add(interval)
		res, err := f.engine.ExecuteCycle(ctx, id, "keeper")
		require.NoError(t, err)
		assert.Equal(t, i+1, res.Cycle)
		assert.Equal(t, want, res.Recipient)
		assert.Equal(t, int64(300), res.Payout)
		assert.Equal(t, i == len(members)-1, res.Completed)
		f.assertEscrow(t, id)
	}

	for _, m := range members {
		assert.Equal(t, int64(1000), f.ledger.Balance(asset, m))
		ms := f.memberState(t, id, m)
		assert.Equal(t, int64(13), ms.ReputationScore)
		assert.Equal(t, 3, ms.Deposits)
	}

	c := f.circle(t, id)
	assert.True(t, c.Completed())
	assert.Equal(t, 3, c.PaidOut.Count())

	f.clock.Add(interval)
	_, err := f.engine.ExecuteCycle(ctx, id, "keeper")
	assert.ErrorIs(t, err, ErrCircleCompleted)
	_, err = f.engine.Deposit(ctx, id, alice)
	assert.ErrorIs(t, err, ErrCircleCompleted)
}

func TestRotationSkipsUnconfirmed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.create(t, alice, bob, carol)
	require.NoError(t, f.engine.JoinCircle(ctx, id, alice))
	require.NoError(t, f.engine.JoinCircle(ctx, id, carol))
	require.NoError(t, f.engine.StartCircle(ctx, id, owner))

	var got []model.Address
	for i := 0; i < 2; i++ {
		f.deposit(t, id, alice, carol)
		f.clock.Add(interval)
		res, err := f.engine.ExecuteCycle(ctx, id, "keeper")
		require.NoError(t, err)
		assert.Empty(t, res.Penalties, "unconfirmed members are not fined")
		got = append(got, res.Recipient)
	}
	assert.Equal(t, []model.Address{alice, carol}, got)
	assert.True(t, f.circle(t, id).Completed())
}

func TestExecuteTooEarly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.started(t, alice, bob)
	f.deposit(t, id, alice, bob)

	f.clock.Add(interval - time.Second)
	_, err := f.engine.ExecuteCycle(ctx, id, "keeper")
	assert.ErrorIs(t, err, ErrTooEarly)
	assert.Equal(t, 0, f.circle(t, id).CurrentCycle)

	f.clock.Add(time.Second)
	_, err = f.engine.ExecuteCycle(ctx, id, "keeper")
	assert.NoError(t, err)
}

func TestExecuteWithNoDeposits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.started(t, alice, bob)
	f.clock.Add(interval)

	res, err := f.engine.ExecuteCycle(ctx, id, "keeper")
	require.NoError(t, err)
	assert.Zero(t, res.Payout)
	assert.Len(t, res.Penalties, 2)
	assert.Equal(t, int64(1000), f.ledger.Balance(asset, alice))

	c := f.circle(t, id)
	assert.Equal(t, 1, c.CurrentCycle)
	assert.Equal(t, 1, c.NextPayoutIndex)
}

func TestPayoutFailedIsRetryable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.started(t, alice, bob, carol)
	f.deposit(t, id, alice, bob)
	f.clock.Add(interval)

	before := f.circle(t, id)
	f.tt.setFailTo(alice)
	_, err := f.engine.ExecuteCycle(ctx, id, "keeper")
	assert.ErrorIs(t, err, ErrPayoutFailed)

	assert.Equal(t, before, f.circle(t, id))
	cs := f.memberState(t, id, carol)
	assert.Zero(t, cs.PenaltiesAccrued, "penalties are not committed on a failed payout")
	assert.Equal(t, int64(10), cs.ReputationScore)

	f.tt.setFailTo("")
	res, err := f.engine.ExecuteCycle(ctx, id, "keeper")
	require.NoError(t, err)
	assert.Equal(t, alice, res.Recipient)
	assert.Equal(t, int64(200), res.Payout)
	assert.Equal(t, int64(20), f.memberState(t, id, carol).PenaltiesAccrued)
	f.assertEscrow(t, id)
}

func TestLateDeposit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.started(t, alice, bob)
	f.deposit(t, id, alice)
	f.clock.Add(interval + time.Hour)

	res, err := f.engine.Deposit(ctx, id, bob)
	require.NoError(t, err)
	assert.True(t, res.Late)
	assert.Equal(t, int64(5), res.Fine)
	assert.Equal(t, int64(9), res.Reputation)

	ms := f.memberState(t, id, bob)
	assert.Equal(t, 1, ms.Late)
	assert.Equal(t, int64(5), ms.PenaltiesAccrued)

	cycle, err := f.engine.ExecuteCycle(ctx, id, "keeper")
	require.NoError(t, err)
	assert.Equal(t, int64(200), cycle.Payout)
	assert.Empty(t, cycle.Penalties)
}

func TestPause(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.started(t, alice, bob)

	assert.ErrorIs(t, f.engine.Pause(ctx, id, alice), ErrUnauthorized)
	require.NoError(t, f.engine.Pause(ctx, id, owner))
	require.NoError(t, f.engine.Pause(ctx, id, owner))
	assert.True(t, f.circle(t, id).Paused)

	_, err := f.engine.Deposit(ctx, id, alice)
	assert.ErrorIs(t, err, ErrCirclePaused)
	f.clock.Add(interval)
	_, err = f.engine.ExecuteCycle(ctx, id, "keeper")
	assert.ErrorIs(t, err, ErrCirclePaused)

	assert.ErrorIs(t, f.engine.Unpause(ctx, id, bob), ErrUnauthorized)
	require.NoError(t, f.engine.Unpause(ctx, id, owner))
	_, err = f.engine.Deposit(ctx, id, alice)
	assert.NoError(t, err)
}

func TestClaimRefundNothingToClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.started(t, alice, bob)
	f.deposit(t, id, alice)
	f.clock.Add(interval)
	_, err := f.engine.ExecuteCycle(ctx, id, "keeper")
	require.NoError(t, err)

	_, err = f.engine.ClaimRefund(ctx, id, bob)
	assert.ErrorIs(t, err, ErrNothingToClaim, "circle still running")

	require.NoError(t, f.engine.Pause(ctx, id, owner))
	_, err = f.engine.ClaimRefund(ctx, id, alice)
	assert.ErrorIs(t, err, ErrNothingToClaim, "no penalties")
	_, err = f.engine.ClaimRefund(ctx, id, "mallory")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClaimRefundFromReserve(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.started(t, alice, bob, carol)
	f.deposit(t, id, alice, bob)
	f.clock.Add(interval)
	_, err := f.engine.ExecuteCycle(ctx, id, "keeper")
	require.NoError(t, err)
	require.NoError(t, f.engine.Pause(ctx, id, owner))

	_, err = f.engine.ClaimRefund(ctx, id, carol)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, ErrInsufficientReserve)
	assert.Equal(t, int64(20), f.memberState(t, id, carol).PenaltiesAccrued)

	assert.ErrorIs(t, f.engine.FundReserve(ctx, id, owner, 0), ErrInvalidAmount)
	require.NoError(t, f.engine.FundReserve(ctx, id, owner, 50))
	f.assertEscrow(t, id)

	amount, err := f.engine.ClaimRefund(ctx, id, carol)
	require.NoError(t, err)
	assert.Equal(t, int64(20), amount)
	assert.Equal(t, int64(1020), f.ledger.Balance(asset, carol))
	assert.Zero(t, f.memberState(t, id, carol).PenaltiesAccrued)
	assert.Equal(t, int64(30), f.circle(t, id).Reserve)
	f.assertEscrow(t, id)

	_, err = f.engine.ClaimRefund(ctx, id, carol)
	assert.ErrorIs(t, err, ErrNothingToClaim)
}

func TestTopUpPolicy(t *testing.T) {
	ctx := context.Background()
	p := DefaultPolicy()
	p.Pot = PotTopUp
	f := newFixture(t, WithPolicy(p))
	id := f.started(t, alice, bob, carol)

	require.NoError(t, f.engine.FundReserve(ctx, id, owner, 60))
	f.deposit(t, id, alice, bob)
	f.clock.Add(interval)

	res, err := f.engine.ExecuteCycle(ctx, id, "keeper")
	require.NoError(t, err)
	assert.Equal(t, int64(60), res.TopUp)
	assert.Equal(t, int64(260), res.Payout)

	c := f.circle(t, id)
	assert.Zero(t, c.Reserve)
	f.assertEscrow(t, id)
}

func TestStorageFailureCompensates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.started(t, alice, bob)

	f.store.mu.Lock()
	f.store.failCommit = true
	f.store.mu.Unlock()

	_, err := f.engine.Deposit(ctx, id, alice)
	assert.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, int64(1000), f.ledger.Balance(asset, alice))
	assert.Zero(t, f.ledger.Balance(asset, model.EscrowAccount(id)))
	assert.Equal(t, 0, f.circle(t, id).Deposits.Count())
}

func TestUnknownCircle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.engine.GetCircle(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.engine.Deposit(ctx, "nope", alice)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.engine.GetMemberState(ctx, "nope", alice)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDueCircles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	running := f.started(t, alice, bob)
	paused := f.started(t, alice, bob)
	require.NoError(t, f.engine.Pause(ctx, paused, owner))

	due, err := f.engine.DueCircles(ctx)
	require.NoError(t, err)
	assert.Empty(t, due)

	f.clock.Add(interval)
	due, err = f.engine.DueCircles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{running}, due)
}

func TestConcurrentDeposits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.started(t, alice, bob, carol)

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for _, m := range []model.Address{alice, bob, carol, alice, bob, carol} {
		wg.Add(1)
		go func(m model.Address) {
			defer wg.Done()
			_, err := f.engine.Deposit(ctx, id, m)
			errs <- err
		}(m)
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyDeposited):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, 3, dup)
	assert.Equal(t, 3, f.circle(t, id).Deposits.Count())
	f.assertEscrow(t, id)
}

func TestNewEngineRejectsBadPolicy(t *testing.T) {
	p := DefaultPolicy()
	p.Pot = "lottery"
	_, err := NewEngine(store.NewMemory(), &failingTransfer{}, WithPolicy(p))
	assert.Error(t, err)
}

func (l *lockSet) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (f *fixture) createWith(t *testing.T, cycle, join time.Duration, members ...model.Address) string {
	t.Helper()
	c, err := f.engine.CreateCircle(context.Background(), owner, model.CircleConfig{
		TokenAsset:    asset,
		DepositAmount: deposit,
		CycleInterval: cycle,
		JoinDeadline:  join,
		Members:       members,
	})
	require.NoError(t, err)
	return c.ID
}

func TestLateOpeningGetsFullFirstInterval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.createWith(t, 24*time.Hour, 72*time.Hour, alice, bob, carol)
	require.NoError(t, f.engine.JoinCircle(ctx, id, alice))
	require.NoError(t, f.engine.JoinCircle(ctx, id, bob))

	f.clock.Add(72*time.Hour + time.Minute)
	due, err := f.engine.DueCircles(ctx)
	require.NoError(t, err)
	assert.Empty(t, due, "a circle is never due before it opens")

	_, err = f.engine.ExecuteCycle(ctx, id, "keeper")
	assert.ErrorIs(t, err, ErrTooEarly)
	assert.False(t, f.circle(t, id).Started(), "failed call leaves the circle closed")

	res, err := f.engine.Deposit(ctx, id, alice)
	require.NoError(t, err)
	assert.False(t, res.Late)
	assert.Zero(t, res.Fine)

	c := f.circle(t, id)
	assert.Equal(t, f.clock.Now(), c.StartedAt)
	assert.Equal(t, f.clock.Now(), c.LastExecutionTime)

	f.clock.Add(24 * time.Hour)
	due, err = f.engine.DueCircles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, due)

	cycle, err := f.engine.ExecuteCycle(ctx, id, "keeper")
	require.NoError(t, err)
	assert.Equal(t, int64(100), cycle.Payout)
	require.Len(t, cycle.Penalties, 1)
	assert.Equal(t, bob, cycle.Penalties[0].Member)
	assert.Zero(t, f.memberState(t, id, alice).PenaltiesAccrued)
}

func TestOwnerStartAfterFirstInterval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.createWith(t, 24*time.Hour, 72*time.Hour, alice, bob, carol)
	require.NoError(t, f.engine.JoinCircle(ctx, id, alice))
	require.NoError(t, f.engine.JoinCircle(ctx, id, bob))

	f.clock.Add(30 * time.Hour)
	require.NoError(t, f.engine.StartCircle(ctx, id, owner))

	res, err := f.engine.Deposit(ctx, id, alice)
	require.NoError(t, err)
	assert.False(t, res.Late)

	_, err = f.engine.ExecuteCycle(ctx, id, "keeper")
	assert.ErrorIs(t, err, ErrTooEarly)
}

func TestDepositAmountBounded(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateCircle(context.Background(), owner, model.CircleConfig{
		TokenAsset: asset, DepositAmount: MaxDepositAmount + 1,
		CycleInterval: interval, Members: []model.Address{alice, bob},
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = f.engine.CreateCircle(context.Background(), owner, model.CircleConfig{
		TokenAsset: asset, DepositAmount: MaxDepositAmount,
		CycleInterval: interval, Members: []model.Address{alice, bob},
	})
	assert.NoError(t, err)
}

func TestLocksReleasedAfterUse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.started(t, alice, bob)

	assert.ErrorIs(t, f.engine.JoinCircle(ctx, "garbage", alice), ErrNotFound)
	_, err := f.engine.Deposit(ctx, "garbage-2", alice)
	assert.ErrorIs(t, err, ErrNotFound)
	f.deposit(t, id, alice)
	assert.Zero(t, f.engine.locks.size())
}
