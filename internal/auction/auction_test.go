package auction_test

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bluepenguin/internal/auction"
	"github.com/jensholdgaard/bluepenguin/internal/store"
)

func bidAt(id, price string, offset time.Duration) store.Bid {
	return store.Bid{
		ID:        id,
		Price:     decimal.RequireFromString(price),
		TimeOfBid: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset),
		Rank:      store.RankOther,
	}
}

func ids(bids []store.Bid) []string {
	out := make([]string, len(bids))
	for i, b := range bids {
		out[i] = b.ID
	}
	return out
}

func ranks(bids []store.Bid) []store.BidRank {
	out := make([]store.BidRank, len(bids))
	for i, b := range bids {
		out[i] = b.Rank
	}
	return out
}

func TestRank_OrdersByPriceDescending(t *testing.T) {
	bids := []store.Bid{
		bidAt("a", "10.00", 0),
		bidAt("b", "30.00", time.Minute),
		bidAt("c", "20.00", 2*time.Minute),
		bidAt("d", "5.00", 3*time.Minute),
		bidAt("e", "1.00", 4*time.Minute),
	}

	ranked := auction.Rank(bids)

	check.Equal(t, []string{"b", "c", "a", "d", "e"}, ids(ranked))
	check.Equal(t, []store.BidRank{store.RankFirst, store.RankSecond, store.RankThird, store.RankOther, store.RankOther}, ranks(ranked))
}

func TestRank_TiesGoToEarliestBid(t *testing.T) {
	bids := []store.Bid{
		bidAt("late", "50.00", time.Hour),
		bidAt("early", "50.00", 0),
	}

	ranked := auction.Rank(bids)

	check.Equal(t, []string{"early", "late"}, ids(ranked))
	check.Equal(t, store.RankFirst, ranked[0].Rank)
}

func TestRank_DoesNotModifyInput(t *testing.T) {
	bids := []store.Bid{bidAt("a", "1.00", 0), bidAt("b", "2.00", time.Second)}

	_ = auction.Rank(bids)

	check.Equal(t, "a", bids[0].ID)
	check.Equal(t, store.RankOther, bids[0].Rank)
}

func TestRank_Empty(t *testing.T) {
	check.Equal(t, 0, len(auction.Rank(nil)))
}

func TestHighest(t *testing.T) {
	check.True(t, auction.Highest(nil) == nil)

	top := auction.Highest([]store.Bid{
		bidAt("a", "7.50", 0),
		bidAt("b", "7.51", time.Second),
		bidAt("c", "7.51", 2*time.Second),
	})
	check.True(t, top != nil)
	check.Equal(t, "b", top.ID)
	check.Equal(t, store.RankFirst, top.Rank)
}
