// Package ledger is the only code that changes account balances. Its
// package-level functions run inside the caller's store transaction so
// that a sale, fine or redemption commits or fails as a whole.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bluepenguin/internal/auction"
	"github.com/jensholdgaard/bluepenguin/internal/config"
	"github.com/jensholdgaard/bluepenguin/internal/event"
	"github.com/jensholdgaard/bluepenguin/internal/notify"
	"github.com/jensholdgaard/bluepenguin/internal/store"
)

var (
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInsufficientPoints = errors.New("insufficient points")
)

// Policy holds the marketplace money rules.
type Policy struct {
	VIPBalanceThreshold decimal.Decimal
	VIPMinTransactions  int
	VIPDiscountRate     decimal.Decimal
	PointValue          decimal.Decimal
	SuspensionFine      decimal.Decimal
}

// PolicyFrom converts configured values to fixed-point.
func PolicyFrom(cfg config.MarketConfig) Policy {
	return Policy{
		VIPBalanceThreshold: decimal.NewFromFloat(cfg.VIPBalanceThreshold).Round(2),
		VIPMinTransactions:  cfg.VIPMinTransactions,
		VIPDiscountRate:     decimal.NewFromFloat(cfg.VIPDiscountRate),
		PointValue:          decimal.NewFromFloat(cfg.PointValue),
		SuspensionFine:      decimal.NewFromFloat(cfg.SuspensionFine).Round(2),
	}
}

// DefaultPolicy returns the policy for the default configuration.
func DefaultPolicy() Policy {
	return PolicyFrom(config.Defaults().Market)
}

// VIPChange is the outcome of a VIP review.
type VIPChange int

const (
	VIPUnchanged VIPChange = iota
	VIPEarned
	VIPRevoked
)

func (c VIPChange) String() string {
	switch c {
	case VIPEarned:
		return "earned"
	case VIPRevoked:
		return "revoked"
	default:
		return "unchanged"
	}
}

// Notice returns the message announcing c to email, if any.
func (c VIPChange) Notice(email string) []notify.Message {
	switch c {
	case VIPEarned:
		return []notify.Message{{Kind: notify.VIPEarned, To: email}}
	case VIPRevoked:
		return []notify.Message{{Kind: notify.VIPRevoked, To: email}}
	default:
		return nil
	}
}

// Transfer moves amount from buyer to seller. The buyer may be left with
// a negative balance.
func Transfer(ctx context.Context, tx store.Tx, sellerID, buyerID string, amount decimal.Decimal) error {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if _, err := tx.AdjustBalance(ctx, buyerID, amount.Neg()); err != nil {
		return fmt.Errorf("debiting buyer: %w", err)
	}
	if _, err := tx.AdjustBalance(ctx, sellerID, amount); err != nil {
		return fmt.Errorf("crediting seller: %w", err)
	}

	data := event.TransferData{From: buyerID, To: sellerID, Amount: amount, Reason: "sale"}
	if err := tx.Append(ctx,
		event.New(buyerID, event.FundsMoved, data),
		event.New(sellerID, event.FundsMoved, data),
	); err != nil {
		return fmt.Errorf("appending transfer events: %w", err)
	}
	return nil
}

// ApplyVIPDiscount credits a VIP buyer with the discount share of price
// and returns the credit. Non-VIP buyers get nothing.
func ApplyVIPDiscount(ctx context.Context, tx store.Tx, buyer *store.Account, price decimal.Decimal, p Policy) (decimal.Decimal, error) {
	if buyer.Status != store.StatusVIP {
		return decimal.Zero, nil
	}
	credit := price.Mul(p.VIPDiscountRate).Round(2)
	if !credit.IsPositive() {
		return decimal.Zero, nil
	}
	if _, err := tx.AdjustBalance(ctx, buyer.ID, credit); err != nil {
		return decimal.Zero, fmt.Errorf("crediting VIP discount: %w", err)
	}
	if err := tx.Append(ctx, event.New(buyer.ID, event.FundsMoved,
		event.TransferData{To: buyer.ID, Amount: credit, Reason: "vip_discount"})); err != nil {
		return decimal.Zero, fmt.Errorf("appending discount event: %w", err)
	}
	return credit, nil
}

// AddPoints adds the integer part of amount to the account's points and
// returns the new total.
func AddPoints(ctx context.Context, tx store.Tx, accountID string, amount decimal.Decimal) (int64, error) {
	a, err := tx.LockAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("loading account: %w", err)
	}
	if earned := amount.IntPart(); earned > 0 {
		a.Points += earned
		if err := tx.SaveStanding(ctx, a); err != nil {
			return 0, fmt.Errorf("saving points: %w", err)
		}
	}
	return a.Points, nil
}

// ChargeFine debits fine from the account and returns the new balance.
func ChargeFine(ctx context.Context, tx store.Tx, accountID string, fine decimal.Decimal) (decimal.Decimal, error) {
	fine = fine.Round(2)
	if fine.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	balance, err := tx.AdjustBalance(ctx, accountID, fine.Neg())
	if err != nil {
		return decimal.Zero, fmt.Errorf("debiting fine: %w", err)
	}
	if err := tx.Append(ctx, event.New(accountID, event.FinePaid,
		event.TransferData{From: accountID, Amount: fine, Reason: "suspension_fine"})); err != nil {
		return decimal.Zero, fmt.Errorf("appending fine event: %w", err)
	}
	return balance, nil
}

// ReviewVIP promotes a User that has more than the minimum number of
// transactions, no open reports and a balance above the threshold, and
// demotes a VIP that has open reports or a balance at or below it.
func ReviewVIP(ctx context.Context, tx store.Tx, accountID string, p Policy) (VIPChange, error) {
	a, err := tx.LockAccount(ctx, accountID)
	if err != nil {
		return VIPUnchanged, fmt.Errorf("loading account: %w", err)
	}
	if a.Status != store.StatusUser && a.Status != store.StatusVIP {
		return VIPUnchanged, nil
	}

	reports, err := tx.CountOpenReports(ctx, accountID)
	if err != nil {
		return VIPUnchanged, fmt.Errorf("counting reports: %w", err)
	}
	funded := a.Balance.GreaterThan(p.VIPBalanceThreshold)

	change := VIPUnchanged
	switch a.Status {
	case store.StatusUser:
		if reports > 0 || !funded {
			return VIPUnchanged, nil
		}
		count, err := tx.CountTransactions(ctx, accountID)
		if err != nil {
			return VIPUnchanged, fmt.Errorf("counting transactions: %w", err)
		}
		if count > p.VIPMinTransactions {
			change = VIPEarned
			a.Status = store.StatusVIP
		}
	case store.StatusVIP:
		if reports > 0 || !funded {
			change = VIPRevoked
			a.Status = store.StatusUser
		}
	}
	if change == VIPUnchanged {
		return change, nil
	}

	if err := tx.SaveStanding(ctx, a); err != nil {
		return VIPUnchanged, fmt.Errorf("saving status: %w", err)
	}
	from := store.StatusUser
	if change == VIPRevoked {
		from = store.StatusVIP
	}
	if err := tx.Append(ctx, event.New(accountID, event.StatusChanged, event.StatusData{
		From:   string(from),
		To:     string(a.Status),
		Reason: "vip_" + change.String(),
	})); err != nil {
		return VIPUnchanged, fmt.Errorf("appending status event: %w", err)
	}
	return change, nil
}

// LockAccounts locks the accounts in ID order and returns them in the
// order given.
func LockAccounts(ctx context.Context, tx store.Tx, ids ...string) ([]*store.Account, error) {
	order := slices.Compact(slices.Sorted(slices.Values(ids)))
	locked := make(map[string]*store.Account, len(order))
	for _, id := range order {
		a, err := tx.LockAccount(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("locking account: %w", err)
		}
		locked[id] = a
	}
	out := make([]*store.Account, len(ids))
	for i, id := range ids {
		out[i] = locked[id]
	}
	return out, nil
}

// LockParty locks every item the account sells or has bid on, in ID
// order, and then the account. It returns the locked account and the
// items it bid on but does not sell.
func LockParty(ctx context.Context, tx store.Tx, accountID string) (*store.Account, []string, error) {
	selling, err := tx.ListItemsBySeller(ctx, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing items: %w", err)
	}
	bids, err := tx.ListBidsByBidder(ctx, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing bids: %w", err)
	}

	own := make(map[string]bool, len(selling))
	for _, it := range selling {
		own[it.ID] = true
	}
	var biddedOn []string
	for _, b := range bids {
		if !own[b.ItemID] {
			biddedOn = append(biddedOn, b.ItemID)
		}
	}
	biddedOn = slices.Compact(slices.Sorted(slices.Values(biddedOn)))

	ids := slices.Collect(maps.Keys(own))
	ids = append(ids, biddedOn...)
	slices.Sort(ids)
	for _, id := range ids {
		if _, err := tx.LockItem(ctx, id); err != nil {
			return nil, nil, fmt.Errorf("locking item: %w", err)
		}
	}

	a, err := tx.LockAccount(ctx, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("locking account: %w", err)
	}
	return a, biddedOn, nil
}

// CloseAccount deletes the account along with its profile, items and bids
// and records reason. Open auctions the account bid on are recounted
// without its bids. The caller removes the identity after commit.
func CloseAccount(ctx context.Context, tx store.Tx, accountID, reason string) error {
	a, biddedOn, err := LockParty(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if err := tx.DeleteAccount(ctx, accountID); err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	for _, id := range biddedOn {
		it, err := tx.GetItem(ctx, id)
		if err != nil {
			return fmt.Errorf("loading item: %w", err)
		}
		if it.Availability != store.Available {
			continue
		}
		if err := auction.Recount(ctx, tx, it); err != nil {
			return fmt.Errorf("recounting item %s: %w", id, err)
		}
	}
	if err := tx.Append(ctx, event.New(accountID, event.AccountDeleted, event.StatusData{
		From:   string(a.Status),
		Reason: reason,
	})); err != nil {
		return fmt.Errorf("appending deletion event: %w", err)
	}
	return nil
}
