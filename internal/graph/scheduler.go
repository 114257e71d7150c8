package graph

import (
	"context"
	"log/slog"
	"time"

	"github.com/vantage-sec/vantage/internal/catalog"
)

// Cypher for the engine's own state records. firstseen is epoch-ms and
// write-once; scheduled is epoch-seconds and only ever advances; records are
// never deleted.
const (
	lockCypher = `
	MERGE (sq:ScheduledQuery{id: $query_id})
	ON CREATE SET sq.firstseen = timestamp(), sq.fail_count = 0
	SET sq.scheduled = $scheduled
	`

	scheduledTimeCypher = `MATCH (sq:ScheduledQuery{id: $query_id}) RETURN sq.scheduled`

	scanTimeCypher = `
	MATCH (s:SyncMetadata)
	WHERE s.grouptype =~ ($grouptype)
	      AND s.syncedtype =~ ($syncedtype)
	      AND toString(s.groupid) =~ ($groupid)
	RETURN max(s.lastupdated) AS maxlastupdated
	`

	incrFailCountCypher = `
	MERGE (sq:ScheduledQuery{id: $query_id})
	ON CREATE SET sq.firstseen = timestamp(), sq.fail_count = 0
	SET sq.fail_count = sq.fail_count + 1
	`

	resetFailCountCypher = `
	MERGE (sq:ScheduledQuery{id: $query_id})
	ON CREATE SET sq.firstseen = timestamp(), sq.fail_count = 0
	SET sq.fail_count = 0
	`
)

// DB is the slice of Client the scheduler needs; tests substitute a fake.
type DB interface {
	BeginTx(ctx context.Context) (Tx, error)
	RunWithRetry(ctx context.Context, cypher string, params map[string]any) ([]Row, error)
}

// Scheduler decides trigger eligibility for scheduled queries and atomically
// claims runs. The claim is one explicit transaction that re-reads the
// scheduled timestamp and advances it to the current wall clock; the
// transaction boundary is the lock.
type Scheduler struct {
	db  DB
	log *slog.Logger
	now func() time.Time
}

// NewScheduler creates a scheduler over the given database handle.
func NewScheduler(db DB, log *slog.Logger) *Scheduler {
	return &Scheduler{db: db, log: log, now: time.Now}
}

// LockScheduledQuery reports whether this worker claimed the right to run the
// query now. A false return means either no trigger fired or another worker
// won the claim; both yield the run without touching the fail counter.
func (s *Scheduler) LockScheduledQuery(ctx context.Context, queryID string, sq catalog.ScheduledQuery) bool {
	log := s.log.With("scheduled_query_id", queryID)

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		log.Error("failed to open lock transaction", "error", err)
		return false
	}

	scheduled, err := scheduledTime(ctx, tx, queryID)
	if err != nil {
		log.Error("failed to read scheduled time", "error", err)
		rollback(ctx, tx, log)
		return false
	}

	now := s.now()
	fired := false
	// Frequency is evaluated first; watch scans only when it did not fire.
	if sq.Frequency > 0 && frequencyTriggered(scheduled, sq.Frequency, now) {
		log.Debug("triggering frequency lock")
		fired = true
	} else if len(sq.WatchScans) > 0 {
		fired, err = watchTriggered(ctx, tx, scheduled, sq.WatchScans)
		if err != nil {
			log.Error("failed to evaluate watch scans", "error", err)
			rollback(ctx, tx, log)
			return false
		}
		if fired {
			log.Debug("triggering watch_scan lock")
		}
	}

	if !fired {
		log.Debug("neither frequency nor watch_scan lock triggered")
		rollback(ctx, tx, log)
		return false
	}

	if _, err := runTxWithRetry(ctx, tx, lockCypher, map[string]any{
		"query_id":  queryID,
		"scheduled": now.Unix(),
	}); err != nil {
		log.Error("failed to get lock", "error", err)
		rollback(ctx, tx, log)
		return false
	}

	if err := tx.Commit(ctx); err != nil {
		// Lost the claim race; another worker runs this one.
		log.Error("failed to get lock", "error", err)
		return false
	}
	return true
}

// IncrFailCount adds one to the query's failure counter.
func (s *Scheduler) IncrFailCount(ctx context.Context, queryID string) error {
	_, err := s.db.RunWithRetry(ctx, incrFailCountCypher, map[string]any{"query_id": queryID})
	return err
}

// ResetFailCount zeroes the query's failure counter.
func (s *Scheduler) ResetFailCount(ctx context.Context, queryID string) error {
	_, err := s.db.RunWithRetry(ctx, resetFailCountCypher, map[string]any{"query_id": queryID})
	return err
}

// frequencyTriggered reports whether the frequency trigger fires: strictly
// past scheduled plus the period. A zero scheduled time fires immediately.
func frequencyTriggered(scheduled int64, frequencyMinutes int, now time.Time) bool {
	nextRun := scheduled + int64(frequencyMinutes)*60
	return now.Unix() > nextRun
}

// watchTriggered reports whether any watch scan has fresher data than the
// query's last claim.
func watchTriggered(ctx context.Context, tx Tx, scheduled int64, scans []catalog.WatchScan) (bool, error) {
	for _, scan := range scans {
		max, err := scanTime(ctx, tx, scan)
		if err != nil {
			return false, err
		}
		if max > scheduled {
			return true, nil
		}
	}
	return false, nil
}

// scheduledTime reads the query's last claim time; absent records read as
// zero so first runs fire immediately.
func scheduledTime(ctx context.Context, tx Tx, queryID string) (int64, error) {
	rows, err := runTxWithRetry(ctx, tx, scheduledTimeCypher, map[string]any{"query_id": queryID})
	if err != nil {
		return 0, err
	}
	var scheduled int64
	for _, row := range rows {
		scheduled = asInt64(row["sq.scheduled"])
	}
	return scheduled, nil
}

// scanTime returns the maximum lastupdated over data-freshness rows matching
// the scan's regexes. No matching rows reads as zero.
func scanTime(ctx context.Context, tx Tx, scan catalog.WatchScan) (int64, error) {
	rows, err := runTxWithRetry(ctx, tx, scanTimeCypher, map[string]any{
		"grouptype":  scan.GroupType,
		"syncedtype": scan.SyncedType,
		"groupid":    scan.GroupID,
	})
	if err != nil {
		return 0, err
	}
	var max int64
	for _, row := range rows {
		if v := row["maxlastupdated"]; v != nil {
			max = asInt64(v)
		}
	}
	return max, nil
}

func rollback(ctx context.Context, tx Tx, log *slog.Logger) {
	if err := tx.Rollback(ctx); err != nil {
		log.Debug("rollback failed", "error", err)
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
