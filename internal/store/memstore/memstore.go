// Package memstore provides the "memory" store driver. Units of work run
// one at a time against a private copy of the data that replaces the
// shared state only on commit.
package memstore

import (
	"context"
	"sync"

	"github.com/jensholdgaard/bluepenguin/internal/clock"
	"github.com/jensholdgaard/bluepenguin/internal/config"
	"github.com/jensholdgaard/bluepenguin/internal/event"
	"github.com/jensholdgaard/bluepenguin/internal/store"
)

// closerFunc adapts a func() error into an io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func init() {
	store.Register("memory", openMemory)
}

func openMemory(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	s := New(clk)
	return &store.Repositories{
		DB:     s,
		Events: s.Events(),
		Closer: closerFunc(func() error { return nil }),
		Ping:   func(context.Context) error { return nil },
	}, nil
}

// Store is an in-memory store.DB.
type Store struct {
	mu    sync.Mutex
	data  *state
	clock clock.Clock
}

// New returns an empty Store.
func New(clk clock.Clock) *Store {
	return &Store{data: newState(), clock: clk}
}

// InTx runs fn with exclusive access to a copy of the data. The copy
// becomes the shared state only when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(ctx, &Tx{data: work, clock: s.clock}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// Events returns an event.Store reading and writing the committed state.
func (s *Store) Events() event.Store {
	return &eventView{s: s}
}

type eventView struct {
	s *Store
}

func (v *eventView) Append(ctx context.Context, events ...event.Event) error {
	return v.s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Append(ctx, events...)
	})
}

func (v *eventView) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return v.s.data.loadEvents(aggregateID), nil
}

func (v *eventView) LoadByType(_ context.Context, t event.Type) ([]event.Event, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return v.s.data.loadEventsByType(t), nil
}
