// Package store owns the SQLite database: connection setup, schema
// migrations and the queries table that backs asynchronous jobs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

const (
	defaultBusyTimeout = "busy_timeout(5000)"
	defaultJournalMode = "journal_mode(WAL)"
)

// Open opens the SQLite file at path and verifies the connection.
// Every statement runs in its own implicit transaction.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

func buildDSN(path string) string {
	params := url.Values{}
	params.Add("_pragma", defaultBusyTimeout)
	params.Add("_pragma", defaultJournalMode)
	return path + "?" + params.Encode()
}
