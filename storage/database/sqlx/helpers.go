// Package sqlxrepos implements the repositories on PostgreSQL through sqlx.
package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/didisacademy/academy/core"
)

const (
	pqUniqueViolation = "23505"
	pqUndefinedTable  = "42P01"
	pqUndefinedColumn = "42703"
)

func getExec(db core.DB, exec []core.DBExecutor) core.DBExecutor {
	if len(exec) > 0 && exec[0] != nil {
		return exec[0]
	}
	return db
}

// inTx runs fn in the caller's executor if one is given, in a new transaction otherwise.
func inTx(ctx context.Context, db core.DB, exec []core.DBExecutor, fn func(exec core.DBExecutor) error) error {
	if len(exec) > 0 && exec[0] != nil {
		return fn(exec[0])
	}
	return core.RunInTx(ctx, db, fn)
}

func trapNoRowsErr(err, notFoundErr error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundErr
	}
	return dbErr(err, msg)
}

// dbErr wraps err with msg. A schema that does not match the queries (missing migration) turns into a
// shutdown error: no request can succeed until the app is redeployed or migrated.
func dbErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code == pqUndefinedTable || pqErr.Code == pqUndefinedColumn) {
		return core.NewShutdownError(fmt.Sprintf("%s: database schema out of date: %s", msg, pqErr.Message))
	}
	return errors.Wrap(err, msg)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// orderBy builds an ORDER BY clause from the whitelisted fields only.
func orderBy(ordering []core.DBOrdering, fields map[string]string, fallback string) string {
	clauses := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		col, ok := fields[ord.Field]
		if !ok {
			continue
		}
		clauses = append(clauses, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
	}
	if len(clauses) == 0 {
		return " ORDER BY " + fallback
	}
	return " ORDER BY " + strings.Join(clauses, ", ")
}
