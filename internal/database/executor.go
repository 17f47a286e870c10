// Package database runs agent-issued SQL against SQLite and reports the
// schema. Every operation returns text: engine failures are rendered as
// "Error: <message>" so the agent can read and react to them.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// NoRowsMessage is returned for statements that produce no result set.
const NoRowsMessage = "Query executed successfully (no data returned)."

// Conn is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AutoLogger receives every executed statement for the always-on CSV logs.
type AutoLogger interface {
	LogSelect(statement string, rows [][]any) error
	LogModification(statement string) error
}

// Executor runs statements and feeds the auto-log.
type Executor struct {
	Sink AutoLogger
	Log  *zap.Logger
}

func NewExecutor(sink AutoLogger, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{Sink: sink, Log: log}
}

// Execute runs statement on conn and returns its textual result. It records
// the statement in hist when hist is non-nil. It never returns an error.
func (e *Executor) Execute(ctx context.Context, conn Conn, statement string, hist *History) (out string) {
	e.Log.Info("executing sql", zap.String("sql", statement))
	hist.Append(statement)

	defer func() {
		if r := recover(); r != nil {
			out = fmt.Sprintf("Error: %v", r)
		}
	}()

	cols, rows, err := query(ctx, conn, statement)
	if err != nil {
		e.Log.Debug("sql failed", zap.String("sql", statement), zap.Error(err))
		return "Error: " + err.Error()
	}

	// A BEGIN issued by the agent must not keep later statements uncommitted.
	if err := Commit(ctx, conn); err != nil {
		e.Log.Debug("commit failed", zap.String("sql", statement), zap.Error(err))
		return "Error: " + err.Error()
	}

	if len(cols) > 0 {
		if IsSelect(statement) {
			e.bestEffort("auto-log select", func() error { return e.sinkSelect(statement, rows) })
		}
		return FormatRows(rows)
	}

	if IsModification(statement) {
		e.bestEffort("auto-log modification", func() error { return e.sinkModification(statement) })
		e.bestEffort("audit row", func() error { return recordAudit(ctx, conn, statement) })
	}
	return NoRowsMessage
}

func (e *Executor) sinkSelect(statement string, rows [][]any) error {
	if e.Sink == nil {
		return nil
	}
	return e.Sink.LogSelect(statement, rows)
}

func (e *Executor) sinkModification(statement string) error {
	if e.Sink == nil {
		return nil
	}
	return e.Sink.LogModification(statement)
}

// bestEffort runs a side-channel write whose failure must never reach the
// caller of Execute. Failures are logged at debug level and dropped.
func (e *Executor) bestEffort(what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.Log.Debug("best-effort write panicked", zap.String("what", what), zap.Any("panic", r))
		}
	}()
	if err := fn(); err != nil {
		e.Log.Debug("best-effort write failed", zap.String("what", what), zap.Error(err))
	}
}

// query executes statement and collects its result set. Statements without
// columns are stepped to completion so constraint errors surface here.
func query(ctx context.Context, conn Conn, statement string) ([]string, [][]any, error) {
	rows, err := conn.QueryContext(ctx, statement)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out [][]any
	for rows.Next() {
		if len(cols) == 0 {
			continue
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return cols, out, nil
}

// Commit ends the transaction left open on conn, if any.
func Commit(ctx context.Context, conn Conn) error {
	_, err := conn.ExecContext(ctx, "COMMIT")
	return ignoreNoTransaction(err)
}

// Rollback discards the transaction left open on conn, if any.
func Rollback(ctx context.Context, conn Conn) error {
	_, err := conn.ExecContext(ctx, "ROLLBACK")
	return ignoreNoTransaction(err)
}

func ignoreNoTransaction(err error) error {
	if err != nil && strings.Contains(err.Error(), "no transaction is active") {
		return nil
	}
	return err
}

// recordAudit stores a lightweight trace of a mutating statement in the
// queries table, keyed by a hash of the statement text. Identical statements
// collide on the primary key; callers treat this as telemetry only.
func recordAudit(ctx context.Context, conn Conn, statement string) error {
	_, err := conn.ExecContext(ctx,
		`INSERT INTO queries (id, status, result) VALUES (?, ?, ?)`,
		statementHash(statement), "executed", statement)
	return err
}

func statementHash(statement string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(statement))
	return strconv.FormatUint(h.Sum64(), 10)
}

// IsSelect reports whether statement starts with SELECT, ignoring case and
// surrounding whitespace.
func IsSelect(statement string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(statement)), "SELECT")
}

// IsModification reports whether statement starts with INSERT, UPDATE or
// DELETE, ignoring case and surrounding whitespace.
func IsModification(statement string) bool {
	s := strings.ToLower(strings.TrimSpace(statement))
	for _, prefix := range []string{"insert", "update", "delete"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
