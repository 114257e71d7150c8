package actions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/vantage-sec/vantage/internal/catalog"
	"github.com/vantage-sec/vantage/internal/graph"
	"github.com/vantage-sec/vantage/internal/settings"
)

// resultStore persists scheduled-query result rows; tests substitute a fake.
type resultStore interface {
	Append(ctx context.Context, queryID string, details []byte) error
}

// PostgresHandler archives each result row into a relational results table.
type PostgresHandler struct {
	log *slog.Logger

	mu    sync.Mutex
	store resultStore
}

// NewPostgresHandler creates the postgres action handler. The database
// connection is established lazily on first use.
func NewPostgresHandler(log *slog.Logger) *PostgresHandler {
	return &PostgresHandler{log: log}
}

func (h *PostgresHandler) ActionName() string { return "postgres" }

func (h *PostgresHandler) Setup(context.Context, *catalog.Catalog) error { return nil }

func (h *PostgresHandler) getStore(ctx context.Context) (resultStore, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.store == nil {
		store, err := newPGResultStore(ctx)
		if err != nil {
			return nil, err
		}
		h.store = store
	}
	return h.store, nil
}

func (h *PostgresHandler) HandleResults(ctx context.Context, queryID string, action catalog.Action, rows []graph.Row) error {
	if len(rows) == 0 {
		return nil
	}

	store, err := h.getStore(ctx)
	if err != nil {
		return err
	}

	attr := returnAttr(action)
	h.log.Info("sending results for query",
		"result_count", len(rows),
		"scheduled_query_id", queryID)

	for _, row := range rows {
		details, ok := rowDetails(row, attr)
		if !ok {
			continue
		}
		payload, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to serialise row for query %s: %w", queryID, err)
		}
		if err := store.Append(ctx, queryID, payload); err != nil {
			return fmt.Errorf("failed to store result for query %s: %w", queryID, err)
		}
	}
	return nil
}

// pgResultStore writes rows into the scheduled_query_results table, creating
// it on first connect.
type pgResultStore struct {
	db *sql.DB
}

func newPGResultStore(ctx context.Context) (*pgResultStore, error) {
	host := settings.Str("PGHOST", "127.0.0.1")
	port := settings.Str("PGPORT", "5432")
	user := settings.Str("PGUSER", "vantage")
	dbname := settings.Str("PGDATABASE", "vantage")
	password := settings.Str("PGPASSWORD", "")

	connStr := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		host, port, user, dbname)
	if password != "" {
		connStr += " password=" + password
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store := &pgResultStore{db: db}
	if err := store.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create results table: %w", err)
	}
	return store, nil
}

func (s *pgResultStore) createTable(ctx context.Context) error {
	const table = `
		CREATE TABLE IF NOT EXISTS scheduled_query_results (
			result_id BIGSERIAL PRIMARY KEY,
			ts        TIMESTAMPTZ NOT NULL,
			query_id  TEXT NOT NULL,
			details   JSONB
		)`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return err
	}
	const index = `
		CREATE INDEX IF NOT EXISTS scheduled_query_results_query_id_ts
		ON scheduled_query_results (query_id, ts)`
	_, err := s.db.ExecContext(ctx, index)
	return err
}

func (s *pgResultStore) Append(ctx context.Context, queryID string, details []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_query_results (ts, query_id, details) VALUES ($1, $2, $3)`,
		time.Now().UTC(), queryID, details)
	return err
}
