package postgres_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/bluepenguin/internal/clock"
	"github.com/jensholdgaard/bluepenguin/internal/identity"
	"github.com/jensholdgaard/bluepenguin/internal/ledger"
	"github.com/jensholdgaard/bluepenguin/internal/notify"
	"github.com/jensholdgaard/bluepenguin/internal/store"
	"github.com/jensholdgaard/bluepenguin/internal/store/postgres"
)

func TestRedeemPoints_ConcurrentRedemptionsCreditOnce(t *testing.T) {
	clk := clock.Real{}
	db := postgres.NewDB(newTestDB(t), clk)
	ctx := context.Background()

	a := &store.Account{Email: "points@example.com", Status: store.StatusUser, Points: 1000}
	err := db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateAccount(ctx, a); err != nil {
			return err
		}
		return tx.CreateProfile(ctx, &store.Profile{AccountID: a.ID, DisplayName: "points"})
	})
	if err != nil {
		t.Fatalf("seeding account: %v", err)
	}

	mgr := ledger.NewManager(db, identity.NewLocal("secret", clk), &notify.Recorder{},
		ledger.DefaultPolicy(), slog.Default(), noop.NewTracerProvider())

	const redeemers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < redeemers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.RedeemPoints(ctx, a.ID, 1000)
			switch {
			case err == nil:
				mu.Lock()
				succeeded++
				mu.Unlock()
			case !errors.Is(err, ledger.ErrInsufficientPoints):
				t.Errorf("RedeemPoints: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("successful redemptions = %d, want 1", succeeded)
	}
	got, err := mgr.Account(ctx, a.ID)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if !got.Balance.Equal(decimal.RequireFromString("10.00")) || got.Points != 0 {
		t.Errorf("balance = %s, points = %d, want 10.00 and 0", got.Balance, got.Points)
	}
}

func TestTx_LockAccountSerializesStandingWriters(t *testing.T) {
	db := postgres.NewDB(newTestDB(t), clock.Real{})
	ctx := context.Background()
	a := seedAccount(t, db, "standing@example.com", 0)

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			err := db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
				_, err := ledger.AddPoints(ctx, tx, a.ID, decimal.NewFromInt(10))
				return err
			})
			if err != nil {
				t.Errorf("AddPoints: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			err := db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
				locked, err := tx.LockAccount(ctx, a.ID)
				if err != nil {
					return err
				}
				locked.SuspensionStrikes++
				return tx.SaveStanding(ctx, locked)
			})
			if err != nil {
				t.Errorf("striking: %v", err)
			}
		}()
	}
	wg.Wait()

	_ = db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.GetAccount(ctx, a.ID)
		if err != nil {
			t.Fatalf("GetAccount: %v", err)
		}
		if got.Points != writers*10 || got.SuspensionStrikes != writers {
			t.Errorf("points = %d, strikes = %d, want %d and %d", got.Points, got.SuspensionStrikes, writers*10, writers)
		}
		return nil
	})
}

func TestTx_ListBidsByBidder(t *testing.T) {
	db := postgres.NewDB(newTestDB(t), clock.NewMock(t0))
	ctx := context.Background()
	seller := seedAccount(t, db, "seller@example.com", 0)
	bidder := seedAccount(t, db, "bidder@example.com", 100)
	other := seedAccount(t, db, "other@example.com", 100)
	first, second := seedItem(t, db, seller.ID), seedItem(t, db, seller.ID)

	err := db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, b := range []*store.Bid{
			{ItemID: first.ID, BidderID: bidder.ID, Price: decimal.NewFromInt(5), TimeOfBid: t0},
			{ItemID: second.ID, BidderID: bidder.ID, Price: decimal.NewFromInt(6), TimeOfBid: t0},
			{ItemID: first.ID, BidderID: other.ID, Price: decimal.NewFromInt(7), TimeOfBid: t0},
		} {
			if err := tx.CreateBid(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("creating bids: %v", err)
	}

	_ = db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.ListBidsByBidder(ctx, bidder.ID)
		if err != nil {
			t.Fatalf("ListBidsByBidder: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("bids = %d, want 2", len(got))
		}
		for _, b := range got {
			if b.BidderID != bidder.ID {
				t.Errorf("bid from %s listed for %s", b.BidderID, bidder.ID)
			}
		}
		return nil
	})
}
