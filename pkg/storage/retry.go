package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// retryableSQLStates are the PostgreSQL SQLSTATE codes that only ever
// indicate a transient conflict between concurrent transactions, never a
// problem with the statement itself: 40001 (serialization_failure) and
// 40P01 (deadlock_detected). Retrying the exact same statement once is
// safe because both are produced before any of the statement's effects
// are visible to other transactions.
var retryableSQLStates = map[pq.ErrorCode]bool{
	"40001": true,
	"40P01": true,
}

func isRetryableSQLState(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return retryableSQLStates[pqErr.Code]
	}
	return false
}

// execWithRetry runs ExecContext, retrying exactly once if the first
// attempt fails on a serialization failure or deadlock.
func execWithRetry(ctx context.Context, db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil && isRetryableSQLState(err) {
		res, err = db.ExecContext(ctx, query, args...)
	}
	return res, err
}
