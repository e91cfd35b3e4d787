package ledger

import (
	"encoding/json"
	"os"
	"time"

	"SavingsCircle/internal/model"
)

// State is the persisted ledger: balances per asset, then per account.
type State struct {
	Balances  map[string]map[model.Address]int64 `json:"balances"`
	UpdatedAt time.Time                          `json:"updated_at"`
}

func (s *State) clone() *State {
	c := &State{Balances: make(map[string]map[model.Address]int64, len(s.Balances)), UpdatedAt: s.UpdatedAt}
	for asset, accounts := range s.Balances {
		m := make(map[model.Address]int64, len(accounts))
		for a, v := range accounts {
			m[a] = v
		}
		c.Balances[asset] = m
	}
	return c
}

// LoadState reads the ledger from a JSON file. Returns an empty ledger if the file doesn't exist.
func LoadState(filePath string) (*State, error) {
	empty := &State{Balances: map[string]map[model.Address]int64{}}
	if filePath == "" {
		return empty, nil
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return empty, nil
		}
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state.Balances == nil {
		state.Balances = map[string]map[model.Address]int64{}
	}
	return &state, nil
}

// SaveState writes the ledger to a JSON file. An empty path keeps the ledger in memory only.
func SaveState(filePath string, state *State) error {
	state.UpdatedAt = time.Now()
	if filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, data, 0644)
}
