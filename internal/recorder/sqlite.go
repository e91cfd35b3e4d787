package recorder

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"SavingsCircle/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists circle history to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so dashboards can read while the keeper writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS circle_events (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			circle_id TEXT    NOT NULL,
			kind      TEXT    NOT NULL,
			member    TEXT,
			cycle     INTEGER,
			amount    INTEGER,
			note      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_circle_events_circle ON circle_events(circle_id, timestamp)`,

		`CREATE TABLE IF NOT EXISTS payouts (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp  INTEGER NOT NULL,
			circle_id  TEXT    NOT NULL,
			cycle      INTEGER NOT NULL,
			recipient  TEXT    NOT NULL,
			amount     INTEGER NOT NULL,
			top_up     INTEGER NOT NULL DEFAULT 0,
			depositors INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_payouts_cycle ON payouts(circle_id, cycle)`,

		`CREATE TABLE IF NOT EXISTS penalties (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp  INTEGER NOT NULL,
			circle_id  TEXT    NOT NULL,
			cycle      INTEGER NOT NULL,
			member     TEXT    NOT NULL,
			late       INTEGER NOT NULL,
			fine       INTEGER NOT NULL,
			reputation INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_penalties_member ON penalties(circle_id, member)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func stamp(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Unix()
}

func (r *SQLiteRecorder) RecordEvent(evt *CircleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO circle_events
		(timestamp, circle_id, kind, member, cycle, amount, note)
		VALUES (?,?,?,?,?,?,?)`,
		stamp(evt.At), evt.CircleID, string(evt.Kind), string(evt.Member),
		evt.Cycle, evt.Amount, evt.Note,
	)
	return err
}

func (r *SQLiteRecorder) RecordPayout(evt *PayoutEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO payouts
		(timestamp, circle_id, cycle, recipient, amount, top_up, depositors)
		VALUES (?,?,?,?,?,?,?)`,
		stamp(evt.At), evt.CircleID, evt.Cycle, string(evt.Recipient),
		evt.Amount, evt.TopUp, evt.Depositors,
	)
	return err
}

func (r *SQLiteRecorder) RecordPenalty(evt *PenaltyEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO penalties
		(timestamp, circle_id, cycle, member, late, fine, reputation)
		VALUES (?,?,?,?,?,?,?)`,
		stamp(evt.At), evt.CircleID, evt.Cycle, string(evt.Member),
		evt.Late, evt.Fine, evt.Reputation,
	)
	return err
}

// Payouts returns the payout history of a circle in cycle order.
func (r *SQLiteRecorder) Payouts(circleID string) ([]PayoutEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT timestamp, cycle, recipient, amount, top_up, depositors
		FROM payouts WHERE circle_id = ? ORDER BY cycle`, circleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PayoutEvent
	for rows.Next() {
		var (
			ts        int64
			recipient string
		)
		evt := PayoutEvent{CircleID: circleID}
		if err := rows.Scan(&ts, &evt.Cycle, &recipient, &evt.Amount, &evt.TopUp, &evt.Depositors); err != nil {
			return nil, err
		}
		evt.Recipient = model.Address(recipient)
		evt.At = time.Unix(ts, 0).UTC()
		out = append(out, evt)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	log.Println("[INFO] closing sqlite recorder")
	return r.db.Close()
}
