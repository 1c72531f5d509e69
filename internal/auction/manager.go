package auction

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bluepenguin/internal/authz"
	"github.com/jensholdgaard/bluepenguin/internal/blob"
	"github.com/jensholdgaard/bluepenguin/internal/clock"
	"github.com/jensholdgaard/bluepenguin/internal/event"
	"github.com/jensholdgaard/bluepenguin/internal/notify"
	"github.com/jensholdgaard/bluepenguin/internal/store"
	"github.com/jensholdgaard/bluepenguin/internal/telemetry"
)

// Manager places bids and lists items.
type Manager struct {
	db       store.DB
	blobs    blob.Store
	notifier notify.Notifier
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
	clock    clock.Clock
}

// NewManager creates a new auction Manager.
func NewManager(db store.DB, blobs blob.Store, notifier notify.Notifier, metrics *telemetry.Metrics, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Manager {
	return &Manager{
		db:       db,
		blobs:    blobs,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/bluepenguin/internal/auction"),
		clock:    clk,
	}
}

// PlaceBid records a bid of amount by bidderID on itemID. The checks run
// in a fixed order: open, eligible, in range, above the highest bid and
// funded.
func (m *Manager) PlaceBid(ctx context.Context, itemID, bidderID string, amount decimal.Decimal) (*store.Bid, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.PlaceBid",
		trace.WithAttributes(
			attribute.String("item_id", itemID),
			attribute.String("bidder_id", bidderID),
			attribute.String("amount", amount.String()),
		),
	)
	defer span.End()

	amount = amount.Round(2)
	var (
		bid  *store.Bid
		msgs []notify.Message
	)
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		it, err := tx.LockItem(ctx, itemID)
		if err != nil {
			return err
		}
		now := m.clock.Now().UTC()
		if it.Availability != store.Available || !now.Before(it.Deadline) {
			return ErrAuctionClosed
		}

		bidder, err := tx.GetAccount(ctx, bidderID)
		if err != nil {
			return err
		}
		actor := authz.ActorFor(bidder)
		if !authz.CanTrade(actor) || authz.IsOwner(actor, authz.Item(it)) {
			return ErrNotEligible
		}

		if !amount.IsPositive() || amount.LessThan(it.MinimumBid) || amount.GreaterThan(it.MaximumBid) {
			return fmt.Errorf("%w: %s not in [%s, %s]", ErrBidOutOfRange,
				amount.StringFixed(2), it.MinimumBid.StringFixed(2), it.MaximumBid.StringFixed(2))
		}
		if !amount.GreaterThan(it.HighestBid) {
			return fmt.Errorf("%w: highest is %s", ErrBidTooLow, it.HighestBid.StringFixed(2))
		}
		if bidder.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}

		existing, err := tx.ListBidsByItem(ctx, it.ID)
		if err != nil {
			return err
		}
		previous := Highest(existing)

		b := &store.Bid{
			ItemID:       it.ID,
			BidderID:     bidderID,
			Price:        amount,
			TimeOfBid:    now,
			Rank:         store.RankOther,
			WinnerStatus: store.WinnerIneligible,
		}
		if err := tx.CreateBid(ctx, b); err != nil {
			return err
		}
		if err := rerank(ctx, tx, append(existing, *b), b); err != nil {
			return err
		}

		it.HighestBid = amount
		it.TotalBids++
		if err := tx.SaveItem(ctx, it); err != nil {
			return err
		}
		if err := tx.Append(ctx, event.New(it.ID, event.BidPlaced, event.BidPlacedData{
			BidID:    b.ID,
			BidderID: bidderID,
			Amount:   amount,
		})); err != nil {
			return err
		}

		if previous != nil && previous.BidderID != bidderID {
			loser, err := tx.GetAccount(ctx, previous.BidderID)
			if err != nil {
				return err
			}
			msgs = append(msgs, notify.Message{
				Kind: notify.Outbid,
				To:   loser.Email,
				Context: map[string]string{
					"item":    it.Title,
					"item_id": it.ID,
					"amount":  amount.StringFixed(2),
				},
			})
		}
		bid = b
		return nil
	})
	if err != nil {
		m.metrics.BidRejected(ctx, rejectReason(err))
		return nil, fmt.Errorf("placing bid: %w", err)
	}

	m.metrics.BidPlaced(ctx)
	notify.Deliver(ctx, m.notifier, m.logger, msgs...)
	m.logger.InfoContext(ctx, "bid placed",
		slog.String("item_id", itemID),
		slog.String("bid_id", bid.ID),
		slog.String("bidder_id", bidderID),
		slog.String("amount", amount.StringFixed(2)),
	)
	return bid, nil
}

// rerank persists every rank that changed and updates placed with its own.
func rerank(ctx context.Context, tx store.Tx, bids []store.Bid, placed *store.Bid) error {
	before := make(map[string]store.BidRank, len(bids))
	for _, b := range bids {
		before[b.ID] = b.Rank
	}
	for _, b := range Rank(bids) {
		if b.ID == placed.ID {
			placed.Rank = b.Rank
		}
		if before[b.ID] == b.Rank {
			continue
		}
		if err := tx.SaveBidStatus(ctx, &b); err != nil {
			return fmt.Errorf("ranking bid %s: %w", b.ID, err)
		}
	}
	return nil
}

// Recount rebuilds the item's highest bid, bid count and bid ranks from
// the bids it still has. The caller holds the item lock.
func Recount(ctx context.Context, tx store.Tx, it *store.Item) error {
	bids, err := tx.ListBidsByItem(ctx, it.ID)
	if err != nil {
		return err
	}
	before := make(map[string]store.BidRank, len(bids))
	for _, b := range bids {
		before[b.ID] = b.Rank
	}
	for _, b := range Rank(bids) {
		if before[b.ID] == b.Rank {
			continue
		}
		if err := tx.SaveBidStatus(ctx, &b); err != nil {
			return fmt.Errorf("ranking bid %s: %w", b.ID, err)
		}
	}

	it.HighestBid = decimal.Zero
	if top := Highest(bids); top != nil {
		it.HighestBid = top.Price
	}
	it.TotalBids = len(bids)
	return tx.SaveItem(ctx, it)
}

// ListItem puts a new item up for auction. Images are uploaded before the
// item is stored and their URLs kept on the item.
func (m *Manager) ListItem(ctx context.Context, sellerID string, in NewItem) (*store.Item, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ListItem",
		trace.WithAttributes(
			attribute.String("seller_id", sellerID),
			attribute.String("title", in.Title),
		),
	)
	defer span.End()

	it, err := m.validate(sellerID, in)
	if err != nil {
		return nil, err
	}
	if err := m.checkSeller(ctx, sellerID); err != nil {
		return nil, err
	}

	for i, img := range in.Images {
		key := fmt.Sprintf("items/%s/%d%s", it.ID, i, strings.ToLower(path.Ext(img.Name)))
		u, err := m.blobs.Put(ctx, key, img.Body)
		if err != nil {
			return nil, fmt.Errorf("uploading image %d: %w", i, err)
		}
		it.ImageURLs = append(it.ImageURLs, u)
	}

	err = m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		seller, err := tx.GetAccount(ctx, sellerID)
		if err != nil {
			return err
		}
		if !authz.CanTrade(authz.ActorFor(seller)) {
			return ErrNotEligible
		}
		if err := tx.CreateItem(ctx, it); err != nil {
			return err
		}
		p, err := tx.GetProfile(ctx, sellerID)
		if err != nil {
			return err
		}
		p.ItemCount++
		if err := tx.SaveProfile(ctx, p); err != nil {
			return err
		}
		return tx.Append(ctx, event.New(it.ID, event.ItemListed, event.ItemListedData{
			SellerID: sellerID,
			Title:    it.Title,
			Deadline: it.Deadline,
		}))
	})
	if err != nil {
		return nil, fmt.Errorf("listing item: %w", err)
	}

	m.logger.InfoContext(ctx, "item listed",
		slog.String("item_id", it.ID),
		slog.String("seller_id", sellerID),
		slog.Time("deadline", it.Deadline),
	)
	return it, nil
}

func (m *Manager) validate(sellerID string, in NewItem) (*store.Item, error) {
	it := &store.Item{
		ID:           uuid.NewString(),
		SellerID:     sellerID,
		Title:        strings.TrimSpace(in.Title),
		Description:  in.Description,
		SellingPrice: in.SellingPrice.Round(2),
		MinimumBid:   in.MinimumBid.Round(2),
		MaximumBid:   in.MaximumBid.Round(2),
		Deadline:     in.Deadline.UTC(),
		Availability: store.Available,
		ImageURLs:    []string{},
	}
	if it.MinimumBid.IsZero() {
		it.MinimumBid = DefaultMinimumBid
	}
	if it.MaximumBid.IsZero() {
		it.MaximumBid = DefaultMaximumBid
	}

	switch {
	case it.Title == "":
		return nil, fmt.Errorf("%w: title is required", ErrInvalidItem)
	case !it.MinimumBid.IsPositive():
		return nil, fmt.Errorf("%w: minimum bid must be positive", ErrInvalidItem)
	case it.MinimumBid.GreaterThan(it.MaximumBid):
		return nil, fmt.Errorf("%w: minimum bid exceeds maximum bid", ErrInvalidItem)
	case it.SellingPrice.IsNegative():
		return nil, fmt.Errorf("%w: selling price is negative", ErrInvalidItem)
	case !it.Deadline.After(m.clock.Now()):
		return nil, fmt.Errorf("%w: deadline must be in the future", ErrInvalidItem)
	}
	return it, nil
}

func (m *Manager) checkSeller(ctx context.Context, sellerID string) error {
	return m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		seller, err := tx.GetAccount(ctx, sellerID)
		if err != nil {
			return err
		}
		if !authz.CanTrade(authz.ActorFor(seller)) {
			return ErrNotEligible
		}
		return nil
	})
}

// Item returns an item by ID.
func (m *Manager) Item(ctx context.Context, id string) (*store.Item, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Item",
		trace.WithAttributes(attribute.String("item_id", id)),
	)
	defer span.End()

	var it *store.Item
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		it, err = tx.GetItem(ctx, id)
		return err
	})
	return it, err
}

// Bids returns the item's bids, highest first.
func (m *Manager) Bids(ctx context.Context, itemID string) ([]store.Bid, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Bids",
		trace.WithAttributes(attribute.String("item_id", itemID)),
	)
	defer span.End()

	var bids []store.Bid
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetItem(ctx, itemID); err != nil {
			return err
		}
		var err error
		bids, err = tx.ListBidsByItem(ctx, itemID)
		return err
	})
	return bids, err
}

// History returns the item's audit events in order.
func (m *Manager) History(ctx context.Context, itemID string) ([]event.Event, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.History",
		trace.WithAttributes(attribute.String("item_id", itemID)),
	)
	defer span.End()

	var events []event.Event
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetItem(ctx, itemID); err != nil {
			return err
		}
		var err error
		events, err = tx.Load(ctx, itemID)
		return err
	})
	return events, err
}
