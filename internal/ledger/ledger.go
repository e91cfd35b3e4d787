package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"SavingsCircle/internal/model"
)

var (
	// ErrInsufficientFunds is returned when the source account cannot cover a transfer.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Ledger moves fungible token balances between accounts with concurrency safety.
type Ledger struct {
	mu       sync.Mutex
	state    *State
	filePath string
}

// NewLedger creates a Ledger, loading or initializing state from disk.
func NewLedger(filePath string) (*Ledger, error) {
	state, err := LoadState(filePath)
	if err != nil {
		return nil, fmt.Errorf("load ledger state: %w", err)
	}
	l := &Ledger{state: state, filePath: filePath}
	if err := l.save(); err != nil {
		return nil, fmt.Errorf("save ledger state: %w", err)
	}
	return l, nil
}

// Balance returns the balance of account in asset.
func (l *Ledger) Balance(asset string, account model.Address) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Balances[asset][account]
}

// GetState returns a copy of the current ledger state.
func (l *Ledger) GetState() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.state.clone()
}

// Mint credits amount of asset to an account out of thin air. Used for genesis balances and tests.
func (l *Ledger) Mint(asset string, to model.Address, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.state.clone()
	l.account(asset)[to] += amount
	if err := l.save(); err != nil {
		l.state = prev
		return fmt.Errorf("save ledger state: %w", err)
	}
	return nil
}

// Transfer moves amount of asset from one account to another. Either both
// balances change and are persisted, or neither does.
func (l *Ledger) Transfer(ctx context.Context, asset string, from, to model.Address, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	accounts := l.account(asset)
	if accounts[from] < amount {
		return fmt.Errorf("%w: %s holds %d %s, needs %d", ErrInsufficientFunds, from, accounts[from], asset, amount)
	}

	prev := l.state.clone()
	accounts[from] -= amount
	accounts[to] += amount
	if err := l.save(); err != nil {
		l.state = prev
		return fmt.Errorf("save ledger state: %w", err)
	}
	return nil
}

func (l *Ledger) account(asset string) map[model.Address]int64 {
	m, ok := l.state.Balances[asset]
	if !ok {
		m = map[model.Address]int64{}
		l.state.Balances[asset] = m
	}
	return m
}

func (l *Ledger) save() error {
	return SaveState(l.filePath, l.state)
}
