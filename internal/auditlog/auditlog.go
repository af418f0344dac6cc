// Package auditlog records invoice lifecycle events for support and
// operations visibility ("what happened to PO X"). It is optional: when no
// database URL is configured, a no-op implementation is used instead.
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/shopmaze/invoicecore/internal/coretypes"
)

// Outcome is the lifecycle event recorded for a PN.
type Outcome string

const (
	OutcomeProcessed  Outcome = "processed"
	OutcomeDelivered  Outcome = "delivered"
	OutcomeNoSession  Outcome = "no_session"
	OutcomeFailed     Outcome = "failed"
	OutcomeRenotified Outcome = "renotified"
)

// Log records invoice lifecycle events. Implemented by Postgres-backed
// storage when DATABASE_URL is configured, and by a no-op otherwise.
type Log interface {
	Record(ctx context.Context, pn coretypes.PN, pid coretypes.PID, outcome Outcome, detail string) error
	Ping(ctx context.Context) error
	Close() error
}

// NewLog returns a Postgres-backed Log when dbURL is non-empty, or a no-op
// Log otherwise.
func NewLog(dbURL string) (Log, error) {
	if dbURL == "" {
		return noopLog{}, nil
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("auditlog: ping: %w", err)
	}

	if _, err := db.Exec(createTableSQL); err != nil {
		return nil, fmt.Errorf("auditlog: create table: %w", err)
	}

	return &postgresLog{db: db}, nil
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS invoice_audit_log (
	id          BIGSERIAL PRIMARY KEY,
	pn          TEXT NOT NULL,
	pid         TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type postgresLog struct {
	db *sql.DB
}

func (p *postgresLog) Record(ctx context.Context, pn coretypes.PN, pid coretypes.PID, outcome Outcome, detail string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO invoice_audit_log (pn, pid, outcome, detail, recorded_at) VALUES ($1, $2, $3, $4, $5)`,
		pn, pid, string(outcome), detail, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("auditlog: insert: %w", err)
	}
	return nil
}

func (p *postgresLog) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *postgresLog) Close() error {
	return p.db.Close()
}

type noopLog struct{}

func (noopLog) Record(context.Context, coretypes.PN, coretypes.PID, Outcome, string) error { return nil }
func (noopLog) Ping(context.Context) error                                                 { return nil }
func (noopLog) Close() error                                                                { return nil }
