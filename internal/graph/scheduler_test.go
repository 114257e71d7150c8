package graph

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantage-sec/vantage/internal/catalog"
)

type runCall struct {
	cypher string
	params map[string]any
}

type fakeTx struct {
	onRun      func(cypher string, params map[string]any) ([]Row, error)
	runs       []runCall
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *fakeTx) Run(_ context.Context, cypher string, params map[string]any) ([]Row, error) {
	t.runs = append(t.runs, runCall{cypher: cypher, params: params})
	if t.onRun != nil {
		return t.onRun(cypher, params)
	}
	return nil, nil
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return t.commitErr
}

func (t *fakeTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

type fakeDB struct {
	tx       *fakeTx
	beginErr error
	runs     []runCall
	runErr   error
}

func (db *fakeDB) BeginTx(context.Context) (Tx, error) {
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	return db.tx, nil
}

func (db *fakeDB) RunWithRetry(_ context.Context, cypher string, params map[string]any) ([]Row, error) {
	db.runs = append(db.runs, runCall{cypher: cypher, params: params})
	return nil, db.runErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(db *fakeDB, now time.Time) *Scheduler {
	s := NewScheduler(db, discardLogger())
	s.now = func() time.Time { return now }
	return s
}

// lockWrites returns the lock statement runs recorded by the transaction.
func lockWrites(tx *fakeTx) []runCall {
	var out []runCall
	for _, r := range tx.runs {
		if r.cypher == lockCypher {
			out = append(out, r)
		}
	}
	return out
}

func TestFrequencyTriggered(t *testing.T) {
	now := time.Unix(10_000, 0)

	// First run: scheduled is zero, fires immediately.
	assert.True(t, frequencyTriggered(0, 5, now))

	// Not yet elapsed.
	assert.False(t, frequencyTriggered(now.Unix()-60, 5, now))

	// Boundary is strict.
	assert.False(t, frequencyTriggered(now.Unix()-300, 5, now))
	assert.True(t, frequencyTriggered(now.Unix()-301, 5, now))
}

func TestLockScheduledQuery_FrequencyFires(t *testing.T) {
	now := time.Unix(20_000, 0)
	tx := &fakeTx{
		onRun: func(cypher string, _ map[string]any) ([]Row, error) {
			if cypher == scheduledTimeCypher {
				return []Row{{"sq.scheduled": int64(0)}}, nil
			}
			return nil, nil
		},
	}
	db := &fakeDB{tx: tx}
	s := newTestScheduler(db, now)

	got := s.LockScheduledQuery(context.Background(), "q1", catalog.ScheduledQuery{Frequency: 10})
	assert.True(t, got)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)

	writes := lockWrites(tx)
	require.Len(t, writes, 1)
	assert.Equal(t, "q1", writes[0].params["query_id"])
	assert.Equal(t, now.Unix(), writes[0].params["scheduled"])
}

func TestLockScheduledQuery_FrequencyNotElapsed(t *testing.T) {
	now := time.Unix(20_000, 0)
	tx := &fakeTx{
		onRun: func(cypher string, _ map[string]any) ([]Row, error) {
			if cypher == scheduledTimeCypher {
				return []Row{{"sq.scheduled": now.Unix() - 60}}, nil
			}
			return nil, nil
		},
	}
	db := &fakeDB{tx: tx}
	s := newTestScheduler(db, now)

	got := s.LockScheduledQuery(context.Background(), "q1", catalog.ScheduledQuery{Frequency: 10})
	assert.False(t, got)
	assert.True(t, tx.rolledBack)
	assert.Empty(t, lockWrites(tx))
}

func TestLockScheduledQuery_WatchScanFires(t *testing.T) {
	now := time.Unix(20_000, 0)
	tx := &fakeTx{
		onRun: func(cypher string, _ map[string]any) ([]Row, error) {
			switch cypher {
			case scheduledTimeCypher:
				return []Row{{"sq.scheduled": int64(1000)}}, nil
			case scanTimeCypher:
				return []Row{{"maxlastupdated": int64(1500)}}, nil
			}
			return nil, nil
		},
	}
	db := &fakeDB{tx: tx}
	s := newTestScheduler(db, now)

	sq := catalog.ScheduledQuery{WatchScans: []catalog.WatchScan{
		{GroupType: "CVE", SyncedType: ".*", GroupID: ".*"},
	}}
	assert.True(t, s.LockScheduledQuery(context.Background(), "q3", sq))
	assert.True(t, tx.committed)
}

func TestLockScheduledQuery_WatchScanStale(t *testing.T) {
	tx := &fakeTx{
		onRun: func(cypher string, _ map[string]any) ([]Row, error) {
			switch cypher {
			case scheduledTimeCypher:
				return []Row{{"sq.scheduled": int64(1500)}}, nil
			case scanTimeCypher:
				// Equal, not strictly greater: must not fire.
				return []Row{{"maxlastupdated": int64(1500)}}, nil
			}
			return nil, nil
		},
	}
	db := &fakeDB{tx: tx}
	s := newTestScheduler(db, time.Unix(20_000, 0))

	sq := catalog.ScheduledQuery{WatchScans: []catalog.WatchScan{{GroupType: "CVE"}}}
	assert.False(t, s.LockScheduledQuery(context.Background(), "q3", sq))
	assert.True(t, tx.rolledBack)
}

func TestLockScheduledQuery_WatchScanNullReadsAsZero(t *testing.T) {
	tx := &fakeTx{
		onRun: func(cypher string, _ map[string]any) ([]Row, error) {
			switch cypher {
			case scheduledTimeCypher:
				return []Row{{"sq.scheduled": int64(0)}}, nil
			case scanTimeCypher:
				return []Row{{"maxlastupdated": nil}}, nil
			}
			return nil, nil
		},
	}
	db := &fakeDB{tx: tx}
	s := newTestScheduler(db, time.Unix(20_000, 0))

	sq := catalog.ScheduledQuery{WatchScans: []catalog.WatchScan{{GroupType: "CVE"}}}
	assert.False(t, s.LockScheduledQuery(context.Background(), "q3", sq))
}

func TestLockScheduledQuery_NoTriggerConfigured(t *testing.T) {
	tx := &fakeTx{
		onRun: func(cypher string, _ map[string]any) ([]Row, error) {
			return []Row{{"sq.scheduled": int64(0)}}, nil
		},
	}
	db := &fakeDB{tx: tx}
	s := newTestScheduler(db, time.Unix(20_000, 0))

	// Neither frequency nor watch scans: never fires.
	assert.False(t, s.LockScheduledQuery(context.Background(), "q1", catalog.ScheduledQuery{}))
	assert.True(t, tx.rolledBack)
}

func TestLockScheduledQuery_FrequencyFallsThroughToWatchScans(t *testing.T) {
	// Both configured (rejected by validation, preserved in evaluation):
	// a quiet frequency falls through to the watch scans.
	now := time.Unix(20_000, 0)
	tx := &fakeTx{
		onRun: func(cypher string, _ map[string]any) ([]Row, error) {
			switch cypher {
			case scheduledTimeCypher:
				return []Row{{"sq.scheduled": now.Unix() - 60}}, nil
			case scanTimeCypher:
				return []Row{{"maxlastupdated": now.Unix()}}, nil
			}
			return nil, nil
		},
	}
	db := &fakeDB{tx: tx}
	s := newTestScheduler(db, now)

	sq := catalog.ScheduledQuery{
		Frequency:  10,
		WatchScans: []catalog.WatchScan{{GroupType: "CVE"}},
	}
	assert.True(t, s.LockScheduledQuery(context.Background(), "q1", sq))
}

func TestLockScheduledQuery_CommitFailureYieldsRun(t *testing.T) {
	tx := &fakeTx{
		onRun: func(cypher string, _ map[string]any) ([]Row, error) {
			return []Row{{"sq.scheduled": int64(0)}}, nil
		},
		commitErr: errors.New("transient error"),
	}
	db := &fakeDB{tx: tx}
	s := newTestScheduler(db, time.Unix(20_000, 0))

	assert.False(t, s.LockScheduledQuery(context.Background(), "q1", catalog.ScheduledQuery{Frequency: 1}))
}

func TestLockScheduledQuery_BeginTxFailure(t *testing.T) {
	db := &fakeDB{beginErr: errors.New("no connection")}
	s := newTestScheduler(db, time.Unix(20_000, 0))

	assert.False(t, s.LockScheduledQuery(context.Background(), "q1", catalog.ScheduledQuery{Frequency: 1}))
}

func TestFailCounters(t *testing.T) {
	db := &fakeDB{}
	s := NewScheduler(db, discardLogger())

	require.NoError(t, s.IncrFailCount(context.Background(), "q1"))
	require.NoError(t, s.ResetFailCount(context.Background(), "q1"))

	require.Len(t, db.runs, 2)
	assert.Equal(t, incrFailCountCypher, db.runs[0].cypher)
	assert.Equal(t, "q1", db.runs[0].params["query_id"])
	assert.Equal(t, resetFailCountCypher, db.runs[1].cypher)
}

func TestScanTimePassesRegexes(t *testing.T) {
	var got map[string]any
	tx := &fakeTx{
		onRun: func(cypher string, params map[string]any) ([]Row, error) {
			if cypher == scanTimeCypher {
				got = params
			}
			return []Row{{"maxlastupdated": int64(7)}}, nil
		},
	}

	max, err := scanTime(context.Background(), tx, catalog.WatchScan{
		GroupType:  "CVE",
		SyncedType: "year",
		GroupID:    "2019",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), max)
	assert.Equal(t, map[string]any{
		"grouptype":  "CVE",
		"syncedtype": "year",
		"groupid":    "2019",
	}, got)
}

func TestAsInt64(t *testing.T) {
	assert.Equal(t, int64(5), asInt64(int64(5)))
	assert.Equal(t, int64(5), asInt64(5))
	assert.Equal(t, int64(5), asInt64(5.0))
	assert.Equal(t, int64(0), asInt64(nil))
	assert.Equal(t, int64(0), asInt64("5"))
}
