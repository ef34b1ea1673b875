package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/austindbirch/httpout/internal/event"
	"github.com/austindbirch/httpout/internal/httpout"
)

// execer is the part of *pgxpool.Pool the journal needs.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS httpout;
CREATE TABLE IF NOT EXISTS httpout.deliveries (
	id          BIGSERIAL PRIMARY KEY,
	event_id    TEXT        NOT NULL,
	actor       TEXT        NOT NULL,
	method      TEXT        NOT NULL,
	url         TEXT        NOT NULL,
	status      TEXT        NOT NULL,
	http_status INT,
	latency_ms  BIGINT      NOT NULL DEFAULT 0,
	error_class TEXT,
	last_error  TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS deliveries_event_id_idx ON httpout.deliveries (event_id);`

const insertSQL = `
INSERT INTO httpout.deliveries (event_id, actor, method, url, status, http_status, latency_ms, error_class, last_error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// Journal appends one row per consumed event to httpout.deliveries.
type Journal struct {
	db execer
}

func NewJournal(db execer) *Journal {
	return &Journal{db: db}
}

// EnsureSchema creates the journal table if it does not exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}

func (j *Journal) Record(ctx context.Context, actor string, e *event.Event, o httpout.Outcome) error {
	status := "delivered"
	var (
		httpStatus *int
		class      *string
		lastErr    *string
	)
	if o.Responded {
		code := o.StatusCode
		httpStatus = &code
	}
	if o.Err != nil {
		status = "failed"
		msg := o.Err.Error()
		lastErr = &msg
		var de *httpout.DeliveryError
		if errors.As(o.Err, &de) {
			c := de.Class
			class = &c
		}
	}

	_, err := j.db.Exec(ctx, insertSQL,
		e.ID, actor, o.Method, o.URL, status, httpStatus, o.Latency.Milliseconds(), class, lastErr,
	)
	if err != nil {
		return fmt.Errorf("journal event %s: %w", e.ID, err)
	}
	return nil
}
