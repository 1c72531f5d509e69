// Package auction accepts bids and listings. Every bid is checked and
// written under the item's row lock, so the highest bid only grows until a
// bidder's account is deleted and the item is recounted.
package auction

import (
	"cmp"
	"errors"
	"io"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bluepenguin/internal/authz"
	"github.com/jensholdgaard/bluepenguin/internal/store"
)

// Errors returned by auction operations.
var (
	ErrAuctionClosed     = errors.New("auction is closed")
	ErrNotEligible       = authz.ErrNotEligible
	ErrBidOutOfRange     = errors.New("bid is outside the item's allowed range")
	ErrBidTooLow         = errors.New("bid must exceed the highest bid")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidItem       = errors.New("invalid item")
)

// Listing bounds used when a seller leaves them unset.
var (
	DefaultMinimumBid = decimal.RequireFromString("1.00")
	DefaultMaximumBid = decimal.RequireFromString("1000000.00")
)

// Image is an uploaded item picture.
type Image struct {
	Name string
	Body io.Reader
}

// NewItem holds what a seller supplies to list an item.
type NewItem struct {
	Title        string
	Description  string
	SellingPrice decimal.Decimal
	MinimumBid   decimal.Decimal
	MaximumBid   decimal.Decimal
	Deadline     time.Time
	Images       []Image
}

var podium = []store.BidRank{store.RankFirst, store.RankSecond, store.RankThird}

// Rank returns bids ordered highest price first, earliest first among
// equal prices, with Rank set by position. The input is not modified.
func Rank(bids []store.Bid) []store.Bid {
	ranked := slices.Clone(bids)
	slices.SortStableFunc(ranked, func(a, b store.Bid) int {
		return cmp.Or(b.Price.Cmp(a.Price), a.TimeOfBid.Compare(b.TimeOfBid))
	})
	for i := range ranked {
		if i < len(podium) {
			ranked[i].Rank = podium[i]
		} else {
			ranked[i].Rank = store.RankOther
		}
	}
	return ranked
}

// Highest returns the winning bid among bids, or nil if there are none.
func Highest(bids []store.Bid) *store.Bid {
	if len(bids) == 0 {
		return nil
	}
	top := Rank(bids)[0]
	return &top
}

// rejectReason labels a bid error for metrics.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrAuctionClosed):
		return "closed"
	case errors.Is(err, ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, ErrBidOutOfRange):
		return "out_of_range"
	case errors.Is(err, ErrBidTooLow):
		return "too_low"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
