// Package sweeper closes auctions whose deadline has passed and sends the
// time-based notices. It runs on one replica at a time.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bluepenguin/internal/clock"
	"github.com/jensholdgaard/bluepenguin/internal/config"
	"github.com/jensholdgaard/bluepenguin/internal/event"
	"github.com/jensholdgaard/bluepenguin/internal/notify"
	"github.com/jensholdgaard/bluepenguin/internal/store"
	"github.com/jensholdgaard/bluepenguin/internal/telemetry"
)

// ErrStale is reported by Check when a running sweeper has fallen behind.
var ErrStale = errors.New("sweeper is stale")

// Result counts what one sweep did.
type Result struct {
	Noticed    int
	Expired    int
	EndNotices int
	Arrivals   int
	Failures   int
}

// Sweeper walks due items on an interval.
type Sweeper struct {
	db       store.DB
	notifier notify.Notifier
	metrics  *telemetry.Metrics
	interval time.Duration
	window   time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
	clock    clock.Clock

	mu        sync.Mutex
	running   bool
	lastSweep time.Time
}

// New creates a Sweeper from cfg.
func New(db store.DB, notifier notify.Notifier, metrics *telemetry.Metrics, cfg config.SweeperConfig, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	timeout := cfg.NotifyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sweeper{
		db:       db,
		notifier: notifier,
		metrics:  metrics,
		interval: interval,
		window:   cfg.NoticeWindow,
		timeout:  timeout,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/bluepenguin/internal/sweeper"),
		clock:    clk,
	}
}

// Run sweeps immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.setRunning(true)
	defer s.setRunning(false)

	s.logger.InfoContext(ctx, "sweeper started", slog.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "sweep failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			s.logger.InfoContext(context.WithoutCancel(ctx), "sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) setRunning(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = v
}

// LastSweep returns when the last sweep finished.
func (s *Sweeper) LastSweep() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSweep
}

// Check fails when this replica runs the sweeper and no sweep has
// finished within three intervals. Replicas that are not sweeping pass.
func (s *Sweeper) Check(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.lastSweep.IsZero() {
		return nil
	}
	if age := s.clock.Now().Sub(s.lastSweep); age > 3*s.interval {
		return fmt.Errorf("%w: last sweep %s ago", ErrStale, age.Round(time.Second))
	}
	return nil
}

// Sweep runs one pass over items due within the notice window and over
// shipments due for arrival. A failing item is logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "Sweeper.Sweep")
	defer span.End()

	var res Result
	now := s.clock.Now().UTC()

	var (
		items     []store.Item
		shipments []store.Transaction
	)
	err := s.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if items, err = tx.ListAvailableDueBy(ctx, now.Add(s.window)); err != nil {
			return err
		}
		shipments, err = tx.ListShippedDueBy(ctx, now)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("listing due work: %w", err)
	}

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var err error
		if it.Deadline.After(now) {
			err = s.noticeDeadline(ctx, &it, now, &res)
		} else {
			err = s.close(ctx, it.ID, now, &res)
		}
		if err != nil {
			res.Failures++
			s.logger.ErrorContext(ctx, "sweeping item failed",
				slog.String("item_id", it.ID),
				slog.Any("error", err),
			)
		}
	}

	for _, sale := range shipments {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.noticeArrival(ctx, &sale, now, &res); err != nil {
			res.Failures++
			s.logger.ErrorContext(ctx, "arrival notice failed",
				slog.String("transaction_id", sale.ID),
				slog.Any("error", err),
			)
		}
	}

	s.mu.Lock()
	s.lastSweep = s.clock.Now()
	s.mu.Unlock()

	s.metrics.Swept(ctx, res.Expired, res.Failures)
	span.SetAttributes(
		attribute.Int("items", len(items)),
		attribute.Int("expired", res.Expired),
		attribute.Int("failures", res.Failures),
	)
	s.logger.InfoContext(ctx, "sweep complete",
		slog.Int("due_items", len(items)),
		slog.Int("noticed", res.Noticed),
		slog.Int("expired", res.Expired),
		slog.Int("end_notices", res.EndNotices),
		slog.Int("arrivals", res.Arrivals),
		slog.Int("failures", res.Failures),
	)
	return res, nil
}

// noticeDeadline tells the seller and every bidder that the item closes
// soon, then records the watermark. Any failed delivery leaves the
// watermark unset so the next sweep retries.
func (s *Sweeper) noticeDeadline(ctx context.Context, it *store.Item, now time.Time, res *Result) error {
	if it.DeadlineNoticeAt != nil {
		return nil
	}

	var recipients []string
	err := s.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		seller, err := tx.GetAccount(ctx, it.SellerID)
		if err != nil {
			return err
		}
		recipients = append(recipients, seller.Email)
		bids, err := tx.ListBidsByItem(ctx, it.ID)
		if err != nil {
			return err
		}
		seen := map[string]bool{}
		for _, b := range bids {
			if seen[b.BidderID] {
				continue
			}
			seen[b.BidderID] = true
			bidder, err := tx.GetAccount(ctx, b.BidderID)
			if err != nil {
				return err
			}
			recipients = append(recipients, bidder.Email)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading recipients: %w", err)
	}

	var errs []error
	for _, to := range recipients {
		msg := notify.Message{
			Kind: notify.DeadlineApproaching,
			To:   to,
			Context: map[string]string{
				"item":     it.Title,
				"item_id":  it.ID,
				"deadline": it.Deadline.UTC().Format(time.RFC3339),
			},
		}
		if err := s.send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("sending deadline notices: %w", err)
	}

	err = s.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cur, err := tx.LockItem(ctx, it.ID)
		if err != nil {
			return err
		}
		if cur.Availability != store.Available || cur.DeadlineNoticeAt != nil {
			return nil
		}
		cur.DeadlineNoticeAt = &now
		return tx.SaveItem(ctx, cur)
	})
	if err != nil {
		return fmt.Errorf("recording deadline notice: %w", err)
	}
	res.Noticed++
	return nil
}

// close ends bidding on a past-deadline item. Items without bids expire;
// items with bids wait for the seller, who is told once.
func (s *Sweeper) close(ctx context.Context, itemID string, now time.Time, res *Result) error {
	var (
		msgs    []notify.Message
		expired bool
	)
	err := s.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		it, err := tx.LockItem(ctx, itemID)
		if err != nil {
			return err
		}
		if it.Availability != store.Available || it.Deadline.After(now) {
			return nil
		}
		bids, err := tx.ListBidsByItem(ctx, it.ID)
		if err != nil {
			return err
		}
		if len(bids) > 0 && it.EndNoticeAt != nil {
			return nil
		}
		seller, err := tx.GetAccount(ctx, it.SellerID)
		if err != nil {
			return err
		}

		msg := notify.Message{
			Kind: notify.AuctionEnded,
			To:   seller.Email,
			Context: map[string]string{
				"item":    it.Title,
				"item_id": it.ID,
				"bids":    strconv.Itoa(len(bids)),
			},
		}
		if len(bids) == 0 {
			it.Availability = store.Expired
			if err := tx.SaveItem(ctx, it); err != nil {
				return err
			}
			if err := tx.Append(ctx, event.New(it.ID, event.ItemExpired, struct{}{})); err != nil {
				return err
			}
			expired = true
		} else {
			msg.Context["highest_bid"] = it.HighestBid.StringFixed(2)
			msg.Context["action"] = "choose a winner among the top three bids"
			it.EndNoticeAt = &now
			if err := tx.SaveItem(ctx, it); err != nil {
				return err
			}
		}
		msgs = append(msgs, msg)
		return nil
	})
	if err != nil {
		return fmt.Errorf("closing item: %w", err)
	}

	if len(msgs) == 0 {
		return nil
	}
	if expired {
		res.Expired++
		s.logger.InfoContext(ctx, "item expired", slog.String("item_id", itemID))
	} else {
		res.EndNotices++
	}
	for _, msg := range msgs {
		if err := s.send(ctx, msg); err != nil {
			s.logger.WarnContext(ctx, "notification failed",
				slog.String("kind", string(msg.Kind)),
				slog.String("to", msg.To),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

// send delivers msg, giving up after the notify timeout.
func (s *Sweeper) send(ctx context.Context, msg notify.Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.notifier.Notify(ctx, msg)
}

// noticeArrival tells the buyer a shipment should have arrived, then
// records the watermark.
func (s *Sweeper) noticeArrival(ctx context.Context, sale *store.Transaction, now time.Time, res *Result) error {
	var msg notify.Message
	err := s.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		buyer, err := tx.GetAccount(ctx, sale.BuyerID)
		if err != nil {
			return err
		}
		msg = notify.Message{
			Kind:    notify.ItemArrived,
			To:      buyer.Email,
			Context: map[string]string{"transaction_id": sale.ID},
		}
		if b, err := tx.GetBid(ctx, sale.BidID); err == nil {
			if it, err := tx.GetItem(ctx, b.ItemID); err == nil {
				msg.Context["item"] = it.Title
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading buyer: %w", err)
	}

	if err := s.send(ctx, msg); err != nil {
		return fmt.Errorf("sending arrival notice: %w", err)
	}

	err = s.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cur, err := tx.GetTransaction(ctx, sale.ID)
		if err != nil {
			return err
		}
		if cur.ArrivalNoticeAt != nil {
			return nil
		}
		cur.ArrivalNoticeAt = &now
		return tx.SaveTransaction(ctx, cur)
	})
	if err != nil {
		return fmt.Errorf("recording arrival notice: %w", err)
	}
	res.Arrivals++
	return nil
}
