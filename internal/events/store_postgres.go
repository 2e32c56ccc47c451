package events

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
)

// PostgresStore persists events in PostgreSQL via database/sql.
type PostgresStore struct {
	db *sql.DB
}

// Schema creates the events table. Callers run it at startup or in
// migrations.
const Schema = `
CREATE TABLE IF NOT EXISTS core_events (
    id         BIGSERIAL PRIMARY KEY,
    type       TEXT        NOT NULL,
    occurred   TIMESTAMPTZ NOT NULL,
    actor      TEXT        NOT NULL,
    subject    TEXT        NOT NULL,
    amount     BIGINT      NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS core_events_subject_idx ON core_events (subject);
`

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema applies the table definition.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure events schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO core_events (type, occurred, actor, subject, amount)
		 VALUES ($1, $2, $3, $4, $5)`,
		string(event.Type), event.Timestamp, event.Actor.Hex(), event.Subject.Hex(), int64(event.Amount),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subject common.Address) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, occurred, actor, subject, amount
		 FROM core_events WHERE subject = $1 ORDER BY id`,
		subject.Hex(),
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			typ, actor, subj string
			event            Event
			amount           int64
		)
		if err := rows.Scan(&typ, &event.Timestamp, &actor, &subj, &amount); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Type = Type(typ)
		event.Actor = common.HexToAddress(actor)
		event.Subject = common.HexToAddress(subj)
		event.Amount = uint64(amount)
		out = append(out, event)
	}
	return out, rows.Err()
}
