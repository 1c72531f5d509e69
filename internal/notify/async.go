package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by Async.Notify after Close.
var ErrClosed = errors.New("notifier is closed")

// Async delivers each message on its own goroutine with a bounded
// timeout. Notify never blocks on the transport.
type Async struct {
	next    Notifier
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsync wraps next.
func NewAsync(next Notifier, timeout time.Duration, logger *slog.Logger) *Async {
	return &Async{next: next, timeout: timeout, logger: logger}
}

func (a *Async) Notify(ctx context.Context, msg Message) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.next.Notify(ctx, msg); err != nil {
			a.logger.WarnContext(ctx, "notification delivery failed",
				slog.String("kind", string(msg.Kind)),
				slog.String("to", msg.To),
				slog.Any("error", err),
			)
		}
	}()
	return nil
}

// Close stops accepting messages and blocks until in-flight deliveries
// finish.
func (a *Async) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.wg.Wait()
}
