package recorder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Interface compliance (compile-time assertions)
var (
	_ Recorder = (*SQLiteRecorder)(nil)
	_ Recorder = (*NoopRecorder)(nil)
)

func TestSQLiteRecorder_Payouts(t *testing.T) {
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer r.Close()

	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, r.RecordPayout(&PayoutEvent{CircleID: "c1", Cycle: 2, Recipient: "b", Amount: 300, Depositors: 3, At: at.Add(72 * time.Hour)}))
	require.NoError(t, r.RecordPayout(&PayoutEvent{CircleID: "c1", Cycle: 1, Recipient: "a", Amount: 200, Depositors: 2, At: at}))
	require.NoError(t, r.RecordPayout(&PayoutEvent{CircleID: "other", Cycle: 1, Recipient: "x", Amount: 5, Depositors: 1, At: at}))

	got, err := r.Payouts("c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Cycle)
	assert.Equal(t, int64(200), got[0].Amount)
	assert.True(t, at.Equal(got[0].At))
	assert.Equal(t, "b", string(got[1].Recipient))

	// a cycle is paid once
	assert.Error(t, r.RecordPayout(&PayoutEvent{CircleID: "c1", Cycle: 1, Recipient: "a", Amount: 200}))
}

func TestSQLiteRecorder_EventsAndPenalties(t *testing.T) {
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.RecordEvent(&CircleEvent{CircleID: "c1", Kind: EventJoined, Member: "a"}))
	require.NoError(t, r.RecordPenalty(&PenaltyEvent{CircleID: "c1", Cycle: 1, Member: "c", Fine: 20, Reputation: 9}))

	var n int
	require.NoError(t, r.db.QueryRow(`SELECT COUNT(*) FROM circle_events WHERE kind = 'joined'`).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, r.db.QueryRow(`SELECT COUNT(*) FROM penalties WHERE member = 'c'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestNoopRecorder(t *testing.T) {
	r := NewNoopRecorder()
	assert.NoError(t, r.RecordEvent(&CircleEvent{}))
	got, err := r.Payouts("c1")
	assert.NoError(t, err)
	assert.Empty(t, got)
}
