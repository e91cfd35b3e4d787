package store

import (
	"context"
	"sort"
	"sync"

	"SavingsCircle/internal/model"
)

type memberKey struct {
	circleID string
	member   model.Address
}

// Memory is a volatile Store kept in process local maps. It is safe for
// concurrent access and hands out clones so callers cannot mutate stored
// records.
type Memory struct {
	mu      sync.RWMutex
	circles map[string]*model.CircleState
	members map[memberKey]model.MemberState
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		circles: make(map[string]*model.CircleState),
		members: make(map[memberKey]model.MemberState),
	}
}

// CreateCircle stores a new circle.
func (m *Memory) CreateCircle(_ context.Context, circle *model.CircleState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.circles[circle.ID]; ok {
		return ErrExists
	}
	m.circles[circle.ID] = circle.Clone()
	return nil
}

// GetCircle returns a clone of the stored circle.
func (m *Memory) GetCircle(_ context.Context, id string) (*model.CircleState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.circles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// GetMember returns the member record or ErrNotFound.
func (m *Memory) GetMember(_ context.Context, circleID string, member model.Address) (model.MemberState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.members[memberKey{circleID, member}]
	if !ok {
		return model.MemberState{}, ErrNotFound
	}
	return ms, nil
}

// Commit replaces the circle record and upserts the given members.
func (m *Memory) Commit(_ context.Context, circle *model.CircleState, members map[model.Address]model.MemberState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.circles[circle.ID]; !ok {
		return ErrNotFound
	}
	m.circles[circle.ID] = circle.Clone()
	for addr, ms := range members {
		m.members[memberKey{circle.ID, addr}] = ms
	}
	return nil
}

// ListCircleIDs returns every circle id in lexical order.
func (m *Memory) ListCircleIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.circles))
	for id := range m.circles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
