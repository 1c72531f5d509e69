package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/bluepenguin/internal/event"
)

// EventStore implements event.Store backed by Postgres outside any unit
// of work. Writes made by domain operations go through Tx instead.
type EventStore struct {
	db *sqlx.DB
}

// NewEventStore returns a new EventStore.
func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) Append(ctx context.Context, events ...event.Event) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := appendEvents(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *EventStore) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	return loadEvents(ctx, s.db, aggregateID)
}

func (s *EventStore) LoadByType(ctx context.Context, eventType event.Type) ([]event.Event, error) {
	return loadEventsByType(ctx, s.db, eventType)
}

func (t *Tx) Append(ctx context.Context, events ...event.Event) error {
	return appendEvents(ctx, t.tx, events)
}

func (t *Tx) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	return loadEvents(ctx, t.tx, aggregateID)
}

func (t *Tx) LoadByType(ctx context.Context, eventType event.Type) ([]event.Event, error) {
	return loadEventsByType(ctx, t.tx, eventType)
}

func appendEvents(ctx context.Context, tx *sqlx.Tx, events []event.Event) error {
	for _, e := range events {
		version := e.Version
		if version == 0 {
			if err := tx.GetContext(ctx, &version,
				`SELECT COALESCE(MAX(version), 0) + 1 FROM events WHERE aggregate_id = $1`,
				e.AggregateID); err != nil {
				return fmt.Errorf("next version (aggregate=%s): %w", e.AggregateID, err)
			}
		}
		data := string(e.Data)
		if data == "" {
			data = "{}"
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (aggregate_id, type, data, version) VALUES ($1, $2, $3, $4)`,
			e.AggregateID, e.Type, data, version); err != nil {
			return insertErr(fmt.Sprintf("inserting event (aggregate=%s, version=%d)", e.AggregateID, version), err)
		}
	}
	return nil
}

func loadEvents(ctx context.Context, q sqlx.QueryerContext, aggregateID string) ([]event.Event, error) {
	var events []event.Event
	err := sqlx.SelectContext(ctx, q, &events,
		`SELECT id, aggregate_id, type, data, version, created_at
		 FROM events WHERE aggregate_id = $1 ORDER BY version ASC`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	return events, nil
}

func loadEventsByType(ctx context.Context, q sqlx.QueryerContext, eventType event.Type) ([]event.Event, error) {
	var events []event.Event
	err := sqlx.SelectContext(ctx, q, &events,
		`SELECT id, aggregate_id, type, data, version, created_at
		 FROM events WHERE type = $1 ORDER BY created_at ASC, version ASC`, eventType)
	if err != nil {
		return nil, fmt.Errorf("loading events by type: %w", err)
	}
	return events, nil
}
