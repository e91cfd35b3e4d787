// Package store persists circle and member records. One CircleState record
// is kept per circle id and one MemberState record per (circle, member) pair.
package store

import (
	"context"
	"errors"

	"SavingsCircle/internal/model"
)

var (
	// ErrNotFound is returned when a circle or member record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned when creating a circle whose id is already taken.
	ErrExists = errors.New("record already exists")
)

// Store is the persistence contract of the circle engine.
//
// Commit writes a circle record together with the member records touched by
// one operation; implementations must apply all of them or none.
type Store interface {
	CreateCircle(ctx context.Context, circle *model.CircleState) error
	GetCircle(ctx context.Context, id string) (*model.CircleState, error)
	GetMember(ctx context.Context, circleID string, member model.Address) (model.MemberState, error)
	Commit(ctx context.Context, circle *model.CircleState, members map[model.Address]model.MemberState) error
	ListCircleIDs(ctx context.Context) ([]string, error)
	Close() error
}
