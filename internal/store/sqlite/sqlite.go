// Package sqlite is the SQLite-backed circle store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"SavingsCircle/internal/model"
	"SavingsCircle/internal/store"
	"SavingsCircle/internal/store/sqlite/migrations"

	_ "modernc.org/sqlite"
)

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

// fromMillis reverses toMillis; 0 maps back to the zero time.
func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

// Store persists circles and their members in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps commits serialised without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := applyMigrations(db, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite circle store opened: %s", path)
	return &Store{db: db}, nil
}

// Close closes the underlying database. It is nil-safe.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateCircle inserts a new circle row.
func (s *Store) CreateCircle(ctx context.Context, c *model.CircleState) error {
	cfg, err := json.Marshal(c.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM circles WHERE id = ?`, c.ID).Scan(&exists)
	if err == nil {
		return store.ErrExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check circle %s: %w", c.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO circles
		(id, config_json, created_at, started_at, confirmed, deposits, paid_out,
		 current_cycle, next_payout_index, last_execution_at,
		 escrow_balance, reserve, paused, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, string(cfg), toMillis(c.CreatedAt), toMillis(c.StartedAt),
		int64(c.Confirmed), int64(c.Deposits), int64(c.PaidOut),
		c.CurrentCycle, c.NextPayoutIndex, toMillis(c.LastExecutionTime),
		c.EscrowBalance, c.Reserve, c.Paused, toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("insert circle %s: %w", c.ID, err)
	}
	return nil
}

// GetCircle loads one circle row.
func (s *Store) GetCircle(ctx context.Context, id string) (*model.CircleState, error) {
	var (
		c                                   model.CircleState
		cfg                                 string
		createdAt, startedAt, lastExecution int64
		confirmed, deposits, paidOut        int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, config_json, created_at, started_at,
		confirmed, deposits, paid_out, current_cycle, next_payout_index,
		last_execution_at, escrow_balance, reserve, paused
		FROM circles WHERE id = ?`, id).Scan(
		&c.ID, &cfg, &createdAt, &startedAt,
		&confirmed, &deposits, &paidOut, &c.CurrentCycle, &c.NextPayoutIndex,
		&lastExecution, &c.EscrowBalance, &c.Reserve, &c.Paused,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load circle %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(cfg), &c.Config); err != nil {
		return nil, fmt.Errorf("decode config of circle %s: %w", id, err)
	}
	c.CreatedAt = fromMillis(createdAt)
	c.StartedAt = fromMillis(startedAt)
	c.LastExecutionTime = fromMillis(lastExecution)
	c.Confirmed = model.Bitset(confirmed)
	c.Deposits = model.Bitset(deposits)
	c.PaidOut = model.Bitset(paidOut)
	return &c, nil
}

// GetMember loads one member row.
func (s *Store) GetMember(ctx context.Context, circleID string, member model.Address) (model.MemberState, error) {
	var ms model.MemberState
	err := s.db.QueryRowContext(ctx, `SELECT reputation_score, penalties_accrued,
		last_deposit_cycle, deposits, missed, late
		FROM circle_members WHERE circle_id = ? AND address = ?`, circleID, string(member)).Scan(
		&ms.ReputationScore, &ms.PenaltiesAccrued, &ms.LastDepositCycle,
		&ms.Deposits, &ms.Missed, &ms.Late,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MemberState{}, store.ErrNotFound
	}
	if err != nil {
		return model.MemberState{}, fmt.Errorf("load member %s of circle %s: %w", member, circleID, err)
	}
	return ms, nil
}

// Commit updates the circle row and upserts member rows in one transaction.
func (s *Store) Commit(ctx context.Context, c *model.CircleState, members map[model.Address]model.MemberState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := toMillis(time.Now())
	res, err := tx.ExecContext(ctx, `UPDATE circles SET
		started_at = ?, confirmed = ?, deposits = ?, paid_out = ?,
		current_cycle = ?, next_payout_index = ?, last_execution_at = ?,
		escrow_balance = ?, reserve = ?, paused = ?, updated_at = ?
		WHERE id = ?`,
		toMillis(c.StartedAt), int64(c.Confirmed), int64(c.Deposits), int64(c.PaidOut),
		c.CurrentCycle, c.NextPayoutIndex, toMillis(c.LastExecutionTime),
		c.EscrowBalance, c.Reserve, c.Paused, now, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update circle %s: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update circle %s: %w", c.ID, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}

	for addr, ms := range members {
		if _, err := tx.ExecContext(ctx, `INSERT INTO circle_members
			(circle_id, address, reputation_score, penalties_accrued,
			 last_deposit_cycle, deposits, missed, late, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?)
			ON CONFLICT(circle_id, address) DO UPDATE SET
				reputation_score = excluded.reputation_score,
				penalties_accrued = excluded.penalties_accrued,
				last_deposit_cycle = excluded.last_deposit_cycle,
				deposits = excluded.deposits,
				missed = excluded.missed,
				late = excluded.late,
				updated_at = excluded.updated_at`,
			c.ID, string(addr), ms.ReputationScore, ms.PenaltiesAccrued,
			ms.LastDepositCycle, ms.Deposits, ms.Missed, ms.Late, now,
		); err != nil {
			return fmt.Errorf("upsert member %s of circle %s: %w", addr, c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit circle %s: %w", c.ID, err)
	}
	return nil
}

// ListCircleIDs returns every circle id in creation order.
func (s *Store) ListCircleIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM circles ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list circles: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan circle id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
