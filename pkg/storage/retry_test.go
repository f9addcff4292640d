package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryableSQLState(t *testing.T) {
	assert.True(t, isRetryableSQLState(&pq.Error{Code: "40001"}))
	assert.True(t, isRetryableSQLState(&pq.Error{Code: "40P01"}))
	assert.False(t, isRetryableSQLState(&pq.Error{Code: "23505"}))
	assert.False(t, isRetryableSQLState(sql.ErrNoRows))
	assert.False(t, isRetryableSQLState(nil))
}

// flakyDriver fails its first Exec with a serialization_failure and
// succeeds on every subsequent call, so execWithRetry's single retry can
// be exercised without a live PostgreSQL connection.
type flakyDriver struct {
	execCount int
}

func (d *flakyDriver) Open(string) (driver.Conn, error) {
	return &flakyConn{d: d}, nil
}

type flakyConn struct{ d *flakyDriver }

func (c *flakyConn) Prepare(query string) (driver.Stmt, error) {
	return &flakyStmt{c: c}, nil
}
func (c *flakyConn) Close() error              { return nil }
func (c *flakyConn) Begin() (driver.Tx, error) { return nil, driver.ErrSkip }

type flakyStmt struct{ c *flakyConn }

func (s *flakyStmt) Close() error  { return nil }
func (s *flakyStmt) NumInput() int { return -1 }
func (s *flakyStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.c.d.execCount++
	if s.c.d.execCount == 1 {
		return nil, &pq.Error{Code: "40001", Message: "could not serialize access"}
	}
	return driver.RowsAffected(1), nil
}
func (s *flakyStmt) Query(args []driver.Value) (driver.Rows, error) {
	return nil, driver.ErrSkip
}

func TestExecWithRetryRecoversFromOneSerializationFailure(t *testing.T) {
	fd := &flakyDriver{}
	sql.Register("flaky-retry-test", fd)
	db, err := sql.Open("flaky-retry-test", "")
	require.NoError(t, err)
	defer db.Close()

	_, err = execWithRetry(context.Background(), db, "UPDATE sessions SET is_active = $1 WHERE id = $2", true, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, fd.execCount)
}

type alwaysDeadlockDriver struct{ execCount int }

func (d *alwaysDeadlockDriver) Open(string) (driver.Conn, error) {
	return &alwaysDeadlockConn{d: d}, nil
}

type alwaysDeadlockConn struct{ d *alwaysDeadlockDriver }

func (c *alwaysDeadlockConn) Prepare(query string) (driver.Stmt, error) {
	return &alwaysDeadlockStmt{c: c}, nil
}
func (c *alwaysDeadlockConn) Close() error              { return nil }
func (c *alwaysDeadlockConn) Begin() (driver.Tx, error) { return nil, driver.ErrSkip }

type alwaysDeadlockStmt struct{ c *alwaysDeadlockConn }

func (s *alwaysDeadlockStmt) Close() error  { return nil }
func (s *alwaysDeadlockStmt) NumInput() int { return -1 }
func (s *alwaysDeadlockStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.c.d.execCount++
	return nil, &pq.Error{Code: "40P01", Message: "deadlock detected"}
}
func (s *alwaysDeadlockStmt) Query(args []driver.Value) (driver.Rows, error) {
	return nil, driver.ErrSkip
}

func TestExecWithRetryGivesUpAfterTwoDeadlocks(t *testing.T) {
	ad := &alwaysDeadlockDriver{}
	sql.Register("deadlock-retry-test", ad)
	db, err := sql.Open("deadlock-retry-test", "")
	require.NoError(t, err)
	defer db.Close()

	_, err = execWithRetry(context.Background(), db, "UPDATE sessions SET is_active = $1 WHERE id = $2", true, "s1")
	require.Error(t, err)
	assert.Equal(t, 2, ad.execCount)
}
