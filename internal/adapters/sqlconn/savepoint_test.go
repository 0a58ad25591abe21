package sqlconn

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bft-labs/sqlreplay/internal/domain"
	"github.com/bft-labs/sqlreplay/internal/replay"
)

// abortingDriver models PostgreSQL transaction semantics: after a failed
// statement every further statement fails with 25P02 until the transaction
// rolls back or a savepoint taken before the failure is restored. Statements
// containing "bad" fail.
type abortingDriver struct {
	mu        sync.Mutex
	committed []string
}

var testDriver = &abortingDriver{}

func init() {
	sql.Register("aborting", testDriver)
}

func (d *abortingDriver) Open(string) (driver.Conn, error) {
	return &abortingConn{d: d}, nil
}

func (d *abortingDriver) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.committed = nil
}

func (d *abortingDriver) rows() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.committed...)
}

type abortingConn struct {
	d       *abortingDriver
	inTx    bool
	aborted bool
	pending []string
	// savepoint holds len(pending) when a savepoint was taken, or -1.
	savepoint int
}

func (c *abortingConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *abortingConn) Close() error { return nil }

func (c *abortingConn) Begin() (driver.Tx, error) {
	c.inTx, c.aborted, c.pending, c.savepoint = true, false, nil, -1
	return c, nil
}

func (c *abortingConn) Commit() error {
	defer func() { c.inTx, c.pending = false, nil }()
	if c.aborted {
		return &pgconn.PgError{Code: "25P02", Message: "transaction rolled back"}
	}
	c.d.mu.Lock()
	c.d.committed = append(c.d.committed, c.pending...)
	c.d.mu.Unlock()
	return nil
}

func (c *abortingConn) Rollback() error {
	c.inTx, c.aborted, c.pending = false, false, nil
	return nil
}

func (c *abortingConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	switch {
	case strings.HasPrefix(query, "ROLLBACK TO SAVEPOINT"):
		if c.savepoint < 0 {
			return nil, &pgconn.PgError{Code: "3B001", Message: "savepoint does not exist"}
		}
		c.pending, c.aborted = c.pending[:c.savepoint], false
		return driver.RowsAffected(0), nil
	case c.aborted:
		return nil, &pgconn.PgError{Code: "25P02", Message: "current transaction is aborted"}
	case strings.HasPrefix(query, "SAVEPOINT"):
		c.savepoint = len(c.pending)
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(query, "RELEASE SAVEPOINT"):
		c.savepoint = -1
		return driver.RowsAffected(0), nil
	case strings.Contains(query, "bad"):
		c.aborted = true
		return nil, &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}
	default:
		c.pending = append(c.pending, query)
		return driver.RowsAffected(1), nil
	}
}

// The trace [bad statement while idle, BEGIN, good insert, COMMIT] must
// yield one sample and a durable insert.
func TestConn_FailureDoesNotLeakIntoNextTransaction(t *testing.T) {
	tests := []struct {
		name        string
		savepoints  bool
		wantSamples int
		wantRows    []string
	}{
		{name: "with savepoints", savepoints: true, wantSamples: 1, wantRows: []string{"INSERT INTO t VALUES (1)"}},
		{name: "without savepoints", savepoints: false, wantSamples: 0, wantRows: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testDriver.reset()
			ctx := context.Background()
			c, err := Open(ctx, Config{Driver: "aborting", DSN: tt.name, Savepoints: tt.savepoints})
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer c.Close()

			tr := domain.Trace{Entries: []domain.Entry{
				{Kind: domain.KindStatement, Statement: "UPDATE bad SET a = 1"},
				{Kind: domain.KindBegin, Statement: "START"},
				{Kind: domain.KindStatement, Statement: "INSERT INTO t VALUES (1)"},
				{Kind: domain.KindCommit, Statement: "COMMIT"},
			}}
			res, err := replay.New(c).Run(ctx, tr)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if len(res.Samples) != tt.wantSamples {
				t.Errorf("samples = %d, want %d", len(res.Samples), tt.wantSamples)
			}
			if got := testDriver.rows(); strings.Join(got, ";") != strings.Join(tt.wantRows, ";") {
				t.Errorf("committed = %v, want %v", got, tt.wantRows)
			}
		})
	}
}

func TestConn_FailedStatementInsideTransaction(t *testing.T) {
	testDriver.reset()
	ctx := context.Background()
	c, err := Open(ctx, Config{Driver: "aborting", DSN: "inside", Savepoints: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if _, err := c.Execute(ctx, "INSERT INTO t VALUES (1)"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err = c.Execute(ctx, "INSERT INTO bad VALUES (2)")
	if err == nil || domain.IsFatal(err) {
		t.Fatalf("bad insert = %v, want recoverable error", err)
	}
	if _, err := c.Execute(ctx, "INSERT INTO t VALUES (3)"); err != nil {
		t.Fatalf("insert after failure: %v", err)
	}
	if err := c.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	want := "INSERT INTO t VALUES (1);INSERT INTO t VALUES (3)"
	if got := strings.Join(testDriver.rows(), ";"); got != want {
		t.Errorf("committed = %q, want %q", got, want)
	}
}

func TestIsQuery(t *testing.T) {
	tests := map[string]bool{
		"SELECT 1":                             true,
		"  select * from t":                    true,
		"WITH x AS (SELECT 1) SELECT * FROM x": true,
		"/* sqlreplay:7 */ SELECT a FROM t":    true,
		"-- note\nSELECT 1":                    true,
		"INSERT INTO t VALUES (1)":             false,
		"/* sqlreplay:7 */ UPDATE t SET a = 1": false,
		"/* unterminated SELECT":               false,
		"SELECTED":                             false,
	}
	for in, want := range tests {
		if got := isQuery(in); got != want {
			t.Errorf("isQuery(%q) = %v, want %v", in, got, want)
		}
	}
}
