// Package graph issues parameterised queries against the graph database and
// owns the per-query scheduling state stored there.
package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"

	"github.com/vantage-sec/vantage/internal/settings"
)

// Row is one materialised result record, keyed by the return names of the
// query.
type Row map[string]any

// maxQueryAttempts bounds retries on transient connectivity failures.
const maxQueryAttempts = 5

// isTransient reports whether a failure is worth retrying. Connectivity
// failures are; query errors never are.
var isTransient = neo4j.IsConnectivityError

// retryRun invokes run up to 5 total times, stopping at the first success or
// non-transient failure. No backoff, matching the polling cadence of the
// worker.
func retryRun(run func() ([]Row, error)) ([]Row, error) {
	for attempt := 1; ; attempt++ {
		rows, err := run()
		if err == nil {
			return rows, nil
		}
		if !isTransient(err) || attempt >= maxQueryAttempts {
			return nil, err
		}
	}
}

// Client wraps the graph database driver. The driver is created lazily on
// first use and kept for the lifetime of the process.
type Client struct {
	uri             string
	user            string
	password        string
	maxConnLifetime time.Duration

	mu     sync.Mutex
	driver neo4j.DriverWithContext
}

// NewClient creates a client from settings without connecting.
func NewClient(s *settings.Settings) *Client {
	return &Client{
		uri:             s.Neo4jURI,
		user:            s.Neo4jUser,
		password:        s.Neo4jPassword,
		maxConnLifetime: s.Neo4jMaxConnectionLifetime,
	}
}

func (c *Client) connect() (neo4j.DriverWithContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.driver != nil {
		return c.driver, nil
	}

	auth := neo4j.NoAuth()
	if c.user != "" || c.password != "" {
		auth = neo4j.BasicAuth(c.user, c.password, "")
	}

	driver, err := neo4j.NewDriverWithContext(c.uri, auth, func(conf *config.Config) {
		conf.MaxConnectionLifetime = c.maxConnLifetime
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create graph driver: %w", err)
	}

	c.driver = driver
	return driver, nil
}

// Run executes one query in an auto-commit transaction and materialises the
// full result list.
func (c *Client) Run(ctx context.Context, cypher string, params map[string]any) ([]Row, error) {
	driver, err := c.connect()
	if err != nil {
		return nil, err
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return collect(ctx, result)
}

// RunWithRetry is Run with up to 5 total attempts. Only transient
// connectivity failures are retried, with no backoff; query errors surface
// immediately.
func (c *Client) RunWithRetry(ctx context.Context, cypher string, params map[string]any) ([]Row, error) {
	return retryRun(func() ([]Row, error) {
		return c.Run(ctx, cypher, params)
	})
}

// Tx is a scoped explicit transaction. Callers must finish it with exactly
// one Commit or Rollback; both release the underlying session.
type Tx interface {
	Run(ctx context.Context, cypher string, params map[string]any) ([]Row, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type explicitTx struct {
	session neo4j.SessionWithContext
	inner   neo4j.ExplicitTransaction
}

func (t *explicitTx) Run(ctx context.Context, cypher string, params map[string]any) ([]Row, error) {
	result, err := t.inner.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return collect(ctx, result)
}

func (t *explicitTx) Commit(ctx context.Context) error {
	defer t.session.Close(ctx)
	return t.inner.Commit(ctx)
}

func (t *explicitTx) Rollback(ctx context.Context) error {
	defer t.session.Close(ctx)
	return t.inner.Rollback(ctx)
}

// BeginTx opens an explicit transaction.
func (c *Client) BeginTx(ctx context.Context) (Tx, error) {
	driver, err := c.connect()
	if err != nil {
		return nil, err
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{})
	inner, err := session.BeginTransaction(ctx)
	if err != nil {
		session.Close(ctx)
		return nil, err
	}
	return &explicitTx{session: session, inner: inner}, nil
}

// runTxWithRetry runs one statement inside tx, retrying transient
// connectivity failures up to 5 total attempts.
func runTxWithRetry(ctx context.Context, tx Tx, cypher string, params map[string]any) ([]Row, error) {
	return retryRun(func() ([]Row, error) {
		return tx.Run(ctx, cypher, params)
	})
}

// Close shuts down the driver and its connection pool.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.driver == nil {
		return nil
	}
	return c.driver.Close(ctx)
}

func collect(ctx context.Context, result neo4j.ResultWithContext) ([]Row, error) {
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(records))
	for _, record := range records {
		rows = append(rows, Row(record.AsMap()))
	}
	return rows, nil
}
