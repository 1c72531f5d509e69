// Package settlement drives a closed auction from winner selection to a
// received parcel. Each step locks the item so it cannot interleave with
// bids or the sweeper.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bluepenguin/internal/authz"
	"github.com/jensholdgaard/bluepenguin/internal/clock"
	"github.com/jensholdgaard/bluepenguin/internal/event"
	"github.com/jensholdgaard/bluepenguin/internal/ledger"
	"github.com/jensholdgaard/bluepenguin/internal/notify"
	"github.com/jensholdgaard/bluepenguin/internal/shipping"
	"github.com/jensholdgaard/bluepenguin/internal/store"
	"github.com/jensholdgaard/bluepenguin/internal/telemetry"
)

// Errors returned by settlement operations.
var (
	ErrForbidden           = authz.ErrForbidden
	ErrNotEligible         = authz.ErrNotEligible
	ErrAuctionOpen         = errors.New("auction deadline has not passed")
	ErrItemUnavailable     = errors.New("item is no longer available")
	ErrWinnerAlreadyChosen = errors.New("a winner is already awaiting confirmation")
	ErrNotTopBid           = errors.New("only an unselected top three bid can win")
	ErrBidNotPending       = errors.New("bid is not awaiting confirmation")
	ErrTransactionState    = errors.New("transaction is not in the required state")
	ErrInvalidParcel       = errors.New("invalid parcel")
	ErrAddressRequired     = errors.New("shipping address required")
	ErrShippingUnavailable = errors.New("shipping quote unavailable")
)

// Manager runs winner selection, confirmation and shipping.
type Manager struct {
	db           store.DB
	rates        shipping.RateProvider
	notifier     notify.Notifier
	metrics      *telemetry.Metrics
	policy       ledger.Policy
	quoteTimeout time.Duration
	logger       *slog.Logger
	tracer       trace.Tracer
	clock        clock.Clock
}

// NewManager creates a new settlement Manager. Shipping quotes are
// abandoned after quoteTimeout.
func NewManager(
	db store.DB,
	rates shipping.RateProvider,
	notifier notify.Notifier,
	metrics *telemetry.Metrics,
	policy ledger.Policy,
	quoteTimeout time.Duration,
	logger *slog.Logger,
	tp trace.TracerProvider,
	clk clock.Clock,
) *Manager {
	if quoteTimeout <= 0 {
		quoteTimeout = 5 * time.Second
	}
	return &Manager{
		db:           db,
		rates:        rates,
		notifier:     notifier,
		metrics:      metrics,
		policy:       policy,
		quoteTimeout: quoteTimeout,
		logger:       logger,
		tracer:       tp.Tracer("github.com/jensholdgaard/bluepenguin/internal/settlement"),
		clock:        clk,
	}
}

// lockBid locks the bid's item and returns both, reading the bid after the
// lock is held.
func lockBid(ctx context.Context, tx store.Tx, bidID string) (*store.Bid, *store.Item, error) {
	b, err := tx.GetBid(ctx, bidID)
	if err != nil {
		return nil, nil, err
	}
	it, err := tx.LockItem(ctx, b.ItemID)
	if err != nil {
		return nil, nil, err
	}
	if b, err = tx.GetBid(ctx, bidID); err != nil {
		return nil, nil, err
	}
	return b, it, nil
}

// SelectWinner marks one of the top three bids on a closed item as the
// pending winner and tells the bidder.
func (m *Manager) SelectWinner(ctx context.Context, sellerID, bidID string) (*store.Bid, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.SelectWinner",
		trace.WithAttributes(
			attribute.String("seller_id", sellerID),
			attribute.String("bid_id", bidID),
		),
	)
	defer span.End()

	var (
		bid  *store.Bid
		msgs []notify.Message
	)
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		b, it, err := lockBid(ctx, tx, bidID)
		if err != nil {
			return err
		}
		if authz.IsNotOwner(authz.Actor{AccountID: sellerID}, authz.Item(it)) {
			return ErrForbidden
		}
		if m.clock.Now().Before(it.Deadline) {
			return ErrAuctionOpen
		}
		if it.Availability != store.Available {
			return ErrItemUnavailable
		}
		if it.WinningBidID != nil {
			return ErrWinnerAlreadyChosen
		}
		if b.WinnerStatus != store.WinnerIneligible || b.Rank == store.RankOther {
			return ErrNotTopBid
		}

		buyer, err := tx.GetAccount(ctx, b.BidderID)
		if err != nil {
			return err
		}
		if !authz.CanTrade(authz.ActorFor(buyer)) {
			return ErrNotEligible
		}

		b.WinnerStatus = store.WinnerPending
		if err := tx.SaveBidStatus(ctx, b); err != nil {
			return err
		}
		it.WinningBidID = &b.ID
		if err := tx.SaveItem(ctx, it); err != nil {
			return err
		}
		if err := tx.Append(ctx, event.New(it.ID, event.WinnerSelected, event.WinnerData{
			BidID:   b.ID,
			BuyerID: b.BidderID,
			Amount:  b.Price,
		})); err != nil {
			return err
		}

		msgs = append(msgs, notify.Message{
			Kind: notify.BidWon,
			To:   buyer.Email,
			Context: map[string]string{
				"item":    it.Title,
				"item_id": it.ID,
				"bid_id":  b.ID,
				"amount":  b.Price.StringFixed(2),
			},
		})
		bid = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("selecting winner: %w", err)
	}

	notify.Deliver(ctx, m.notifier, m.logger, msgs...)
	m.logger.InfoContext(ctx, "winner selected",
		slog.String("item_id", bid.ItemID),
		slog.String("bid_id", bid.ID),
		slog.String("buyer_id", bid.BidderID),
	)
	return bid, nil
}

// Accept confirms a pending win. The buyer pays the seller, earns points
// and any VIP discount, and the item is sold, all in one unit of work.
func (m *Manager) Accept(ctx context.Context, buyerID, bidID string) (*store.Transaction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Accept",
		trace.WithAttributes(
			attribute.String("buyer_id", buyerID),
			attribute.String("bid_id", bidID),
		),
	)
	defer span.End()

	var (
		sale *store.Transaction
		msgs []notify.Message
	)
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		b, it, err := m.pendingWin(ctx, tx, buyerID, bidID)
		if err != nil {
			return err
		}
		parties, err := ledger.LockAccounts(ctx, tx, b.BidderID, it.SellerID)
		if err != nil {
			return err
		}
		buyer, seller := parties[0], parties[1]

		if err := ledger.Transfer(ctx, tx, seller.ID, buyer.ID, b.Price); err != nil {
			return err
		}
		if _, err := ledger.AddPoints(ctx, tx, buyer.ID, b.Price); err != nil {
			return err
		}
		discount, err := ledger.ApplyVIPDiscount(ctx, tx, buyer, b.Price, m.policy)
		if err != nil {
			return err
		}

		sale = &store.Transaction{
			SellerID: seller.ID,
			BuyerID:  buyer.ID,
			BidID:    b.ID,
			Amount:   b.Price,
			Status:   store.TxPending,
		}
		if err := tx.CreateTransaction(ctx, sale); err != nil {
			return err
		}
		it.Availability = store.Sold
		if err := tx.SaveItem(ctx, it); err != nil {
			return err
		}
		b.WinnerStatus = store.WinnerApproved
		if err := tx.SaveBidStatus(ctx, b); err != nil {
			return err
		}
		if err := tx.Append(ctx, event.New(it.ID, event.ItemSold, event.WinnerData{
			BidID:    b.ID,
			BuyerID:  buyer.ID,
			Amount:   b.Price,
			TxID:     sale.ID,
			Discount: discount,
		})); err != nil {
			return err
		}

		for _, a := range []*store.Account{buyer, seller} {
			change, err := ledger.ReviewVIP(ctx, tx, a.ID, m.policy)
			if err != nil {
				return err
			}
			msgs = append(msgs, change.Notice(a.Email)...)
		}
		paid, err := tx.GetAccount(ctx, buyer.ID)
		if err != nil {
			return err
		}
		if paid.Balance.IsNegative() {
			msgs = append(msgs, notify.Message{
				Kind:    notify.LowBalance,
				To:      buyer.Email,
				Context: map[string]string{"balance": paid.Balance.StringFixed(2)},
			})
		}
		msgs = append(msgs, notify.Message{
			Kind: notify.SaleConfirmed,
			To:   seller.Email,
			Context: map[string]string{
				"item":           it.Title,
				"item_id":        it.ID,
				"amount":         b.Price.StringFixed(2),
				"transaction_id": sale.ID,
			},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("accepting win: %w", err)
	}

	m.metrics.Settled(ctx, "accepted")
	notify.Deliver(ctx, m.notifier, m.logger, msgs...)
	m.logger.InfoContext(ctx, "sale confirmed",
		slog.String("transaction_id", sale.ID),
		slog.String("bid_id", bidID),
		slog.String("amount", sale.Amount.StringFixed(2)),
	)
	return sale, nil
}

// Reject declines a pending win. The item stays closed and unsold, and the
// seller may choose another of the top bids.
func (m *Manager) Reject(ctx context.Context, buyerID, bidID string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Reject",
		trace.WithAttributes(
			attribute.String("buyer_id", buyerID),
			attribute.String("bid_id", bidID),
		),
	)
	defer span.End()

	var msgs []notify.Message
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		b, it, err := m.pendingWin(ctx, tx, buyerID, bidID)
		if err != nil {
			return err
		}
		b.WinnerStatus = store.WinnerRejected
		if err := tx.SaveBidStatus(ctx, b); err != nil {
			return err
		}
		it.WinningBidID = nil
		if err := tx.SaveItem(ctx, it); err != nil {
			return err
		}
		if err := tx.Append(ctx, event.New(it.ID, event.WinnerRejected, event.WinnerData{
			BidID:   b.ID,
			BuyerID: b.BidderID,
			Amount:  b.Price,
		})); err != nil {
			return err
		}

		seller, err := tx.GetAccount(ctx, it.SellerID)
		if err != nil {
			return err
		}
		msgs = append(msgs, notify.Message{
			Kind:    notify.SaleRejected,
			To:      seller.Email,
			Context: map[string]string{"item": it.Title, "item_id": it.ID},
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("rejecting win: %w", err)
	}

	m.metrics.Settled(ctx, "rejected")
	notify.Deliver(ctx, m.notifier, m.logger, msgs...)
	m.logger.InfoContext(ctx, "sale rejected", slog.String("bid_id", bidID))
	return nil
}

// pendingWin locks and returns a bid that is the item's pending winner and
// belongs to buyerID.
func (m *Manager) pendingWin(ctx context.Context, tx store.Tx, buyerID, bidID string) (*store.Bid, *store.Item, error) {
	b, it, err := lockBid(ctx, tx, bidID)
	if err != nil {
		return nil, nil, err
	}
	if b.BidderID != buyerID {
		return nil, nil, ErrForbidden
	}
	if b.WinnerStatus != store.WinnerPending || it.WinningBidID == nil || *it.WinningBidID != b.ID {
		return nil, nil, ErrBidNotPending
	}
	if it.Availability != store.Available {
		return nil, nil, ErrItemUnavailable
	}
	return b, it, nil
}

// Ship quotes the parcel and marks the sale shipped. The quote is fetched
// outside the unit of work; if it fails the sale stays pending.
func (m *Manager) Ship(ctx context.Context, sellerID, txID string, parcel shipping.Parcel) (*store.Transaction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Ship",
		trace.WithAttributes(
			attribute.String("seller_id", sellerID),
			attribute.String("transaction_id", txID),
		),
	)
	defer span.End()

	if err := parcel.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParcel, err)
	}

	var from, to *store.Address
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sale, err := tx.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if sale.SellerID != sellerID {
			return ErrForbidden
		}
		if sale.Status != store.TxPending {
			return ErrTransactionState
		}
		if from, err = address(ctx, tx, sale.SellerID); err != nil {
			return err
		}
		to, err = address(ctx, tx, sale.BuyerID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("shipping: %w", err)
	}

	quoteCtx, cancel := context.WithTimeout(ctx, m.quoteTimeout)
	quote, err := m.rates.Quote(quoteCtx, parcel, *from, *to)
	cancel()
	if err != nil {
		m.logger.WarnContext(ctx, "shipping quote failed",
			slog.String("transaction_id", txID),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: %v", ErrShippingUnavailable, err)
	}

	var (
		sale *store.Transaction
		msgs []notify.Message
	)
	err = m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		s, it, err := lockSale(ctx, tx, txID)
		if err != nil {
			return err
		}
		if s.Status != store.TxPending {
			return ErrTransactionState
		}
		eta := quote.EstimatedDelivery.UTC()
		s.Status = store.TxShipped
		s.Carrier = &quote.Carrier
		s.ShippingCost = decimal.NewNullDecimal(quote.Cost.Round(2))
		s.EstimatedDelivery = &eta
		if err := tx.SaveTransaction(ctx, s); err != nil {
			return err
		}
		if err := tx.Append(ctx, event.New(it.ID, event.ItemShipped, event.WinnerData{
			BidID:   s.BidID,
			BuyerID: s.BuyerID,
			Amount:  s.Amount,
			TxID:    s.ID,
		})); err != nil {
			return err
		}

		buyer, err := tx.GetAccount(ctx, s.BuyerID)
		if err != nil {
			return err
		}
		msgs = append(msgs, notify.Message{
			Kind: notify.ItemShipped,
			To:   buyer.Email,
			Context: map[string]string{
				"item":               it.Title,
				"carrier":            quote.Carrier,
				"estimated_delivery": eta.Format(time.DateOnly),
			},
		})
		sale = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("shipping: %w", err)
	}

	notify.Deliver(ctx, m.notifier, m.logger, msgs...)
	m.logger.InfoContext(ctx, "item shipped",
		slog.String("transaction_id", txID),
		slog.String("carrier", quote.Carrier),
		slog.String("cost", quote.Cost.StringFixed(2)),
	)
	return sale, nil
}

// ConfirmReceived records that the buyer has the parcel.
func (m *Manager) ConfirmReceived(ctx context.Context, buyerID, txID string) (*store.Transaction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ConfirmReceived",
		trace.WithAttributes(
			attribute.String("buyer_id", buyerID),
			attribute.String("transaction_id", txID),
		),
	)
	defer span.End()

	var (
		sale *store.Transaction
		msgs []notify.Message
	)
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		s, it, err := lockSale(ctx, tx, txID)
		if err != nil {
			return err
		}
		if s.BuyerID != buyerID {
			return ErrForbidden
		}
		if s.Status != store.TxShipped {
			return ErrTransactionState
		}
		s.Status = store.TxReceived
		if err := tx.SaveTransaction(ctx, s); err != nil {
			return err
		}
		if err := tx.Append(ctx, event.New(it.ID, event.ItemReceived, event.WinnerData{
			BidID:   s.BidID,
			BuyerID: s.BuyerID,
			Amount:  s.Amount,
			TxID:    s.ID,
		})); err != nil {
			return err
		}

		seller, err := tx.GetAccount(ctx, s.SellerID)
		if err != nil {
			return err
		}
		msgs = append(msgs, notify.Message{
			Kind:    notify.ItemReceived,
			To:      seller.Email,
			Context: map[string]string{"item": it.Title, "transaction_id": s.ID},
		})
		sale = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("confirming receipt: %w", err)
	}

	notify.Deliver(ctx, m.notifier, m.logger, msgs...)
	m.logger.InfoContext(ctx, "item received", slog.String("transaction_id", txID))
	return sale, nil
}

// lockSale locks the item a transaction sold and returns both.
func lockSale(ctx context.Context, tx store.Tx, txID string) (*store.Transaction, *store.Item, error) {
	s, err := tx.GetTransaction(ctx, txID)
	if err != nil {
		return nil, nil, err
	}
	b, err := tx.GetBid(ctx, s.BidID)
	if err != nil {
		return nil, nil, err
	}
	it, err := tx.LockItem(ctx, b.ItemID)
	if err != nil {
		return nil, nil, err
	}
	if s, err = tx.GetTransaction(ctx, txID); err != nil {
		return nil, nil, err
	}
	return s, it, nil
}

func address(ctx context.Context, tx store.Tx, accountID string) (*store.Address, error) {
	a, err := tx.GetAddress(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: account %s", ErrAddressRequired, accountID)
	}
	return a, err
}
