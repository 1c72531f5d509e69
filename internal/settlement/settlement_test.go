package settlement_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/bluepenguin/internal/auction"
	"github.com/jensholdgaard/bluepenguin/internal/clock"
	"github.com/jensholdgaard/bluepenguin/internal/ledger"
	"github.com/jensholdgaard/bluepenguin/internal/notify"
	"github.com/jensholdgaard/bluepenguin/internal/settlement"
	"github.com/jensholdgaard/bluepenguin/internal/shipping"
	"github.com/jensholdgaard/bluepenguin/internal/shipping/shippingmock"
	"github.com/jensholdgaard/bluepenguin/internal/store"
	"github.com/jensholdgaard/bluepenguin/internal/store/memstore"
	"github.com/jensholdgaard/bluepenguin/internal/telemetry"
)

var start = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	db      *memstore.Store
	clk     *clock.Mock
	rec     *notify.Recorder
	rates   *shippingmock.MockRateProvider
	mgr     *settlement.Manager
	seller  *store.Account
	bidders []*store.Account
	item    *store.Item
	// bids in placement order; the last is the highest.
	bids []*store.Bid
}

// newFixture lists an item, places one bid per price from distinct
// bidders and moves the clock past the deadline.
func newFixture(t *testing.T, prices ...string) *fixture {
	t.Helper()
	clk := clock.NewMock(start)
	db := memstore.New(clk)
	f := &fixture{
		db:    db,
		clk:   clk,
		rec:   &notify.Recorder{},
		rates: shippingmock.NewMockRateProvider(gomock.NewController(t)),
	}
	tp := noop.NewTracerProvider()
	f.mgr = settlement.NewManager(db, f.rates, f.rec, telemetry.NewNopMetrics(), ledger.DefaultPolicy(), time.Second, slog.Default(), tp, clk)
	auctions := auction.NewManager(db, nil, &notify.Recorder{}, telemetry.NewNopMetrics(), slog.Default(), tp, clk)

	f.seller = f.account(t, "seller@example.com", store.StatusUser, "100")
	it, err := auctions.ListItem(context.Background(), f.seller.ID, auction.NewItem{
		Title:    "Antique lamp",
		Deadline: start.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("ListItem: %v", err)
	}
	f.item = it

	for i, p := range prices {
		bidder := f.account(t, fmt.Sprintf("bidder%d@example.com", i), store.StatusUser, "1000")
		b, err := auctions.PlaceBid(context.Background(), it.ID, bidder.ID, dec(p))
		if err != nil {
			t.Fatalf("PlaceBid(%s): %v", p, err)
		}
		f.bidders = append(f.bidders, bidder)
		f.bids = append(f.bids, b)
	}
	clk.Set(it.Deadline.Add(time.Minute))
	return f
}

func (f *fixture) account(t *testing.T, email string, status store.AccountStatus, balance string) *store.Account {
	t.Helper()
	a := &store.Account{Email: email, Status: status, Balance: dec(balance)}
	err := f.db.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateAccount(ctx, a); err != nil {
			return err
		}
		if err := tx.CreateProfile(ctx, &store.Profile{AccountID: a.ID, DisplayName: email}); err != nil {
			return err
		}
		return tx.SetAddress(ctx, &store.Address{AccountID: a.ID, StreetAddress: "1 Main St", City: "Oslo", Country: "NO"})
	})
	if err != nil {
		t.Fatalf("creating account: %v", err)
	}
	return a
}

func (f *fixture) get(t *testing.T, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	if err := f.db.InTx(context.Background(), fn); err != nil {
		t.Fatalf("reading store: %v", err)
	}
}

func (f *fixture) accountNow(t *testing.T, id string) *store.Account {
	t.Helper()
	var a *store.Account
	f.get(t, func(ctx context.Context, tx store.Tx) (err error) {
		a, err = tx.GetAccount(ctx, id)
		return err
	})
	return a
}

func (f *fixture) itemNow(t *testing.T) *store.Item {
	t.Helper()
	var it *store.Item
	f.get(t, func(ctx context.Context, tx store.Tx) (err error) {
		it, err = tx.GetItem(ctx, f.item.ID)
		return err
	})
	return it
}

func (f *fixture) bidNow(t *testing.T, id string) *store.Bid {
	t.Helper()
	var b *store.Bid
	f.get(t, func(ctx context.Context, tx store.Tx) (err error) {
		b, err = tx.GetBid(ctx, id)
		return err
	})
	return b
}

func (f *fixture) selectTop(t *testing.T) *store.Bid {
	t.Helper()
	top := f.bids[len(f.bids)-1]
	if _, err := f.mgr.SelectWinner(context.Background(), f.seller.ID, top.ID); err != nil {
		t.Fatalf("SelectWinner: %v", err)
	}
	return top
}

func TestManager_SelectWinner(t *testing.T) {
	f := newFixture(t, "10", "20", "30")
	second := f.bids[1]

	b, err := f.mgr.SelectWinner(context.Background(), f.seller.ID, second.ID)
	if err != nil {
		t.Fatalf("SelectWinner() error = %v", err)
	}
	if b.WinnerStatus != store.WinnerPending {
		t.Errorf("WinnerStatus = %s, want P", b.WinnerStatus)
	}
	it := f.itemNow(t)
	if it.WinningBidID == nil || *it.WinningBidID != second.ID {
		t.Errorf("WinningBidID = %v, want %s", it.WinningBidID, second.ID)
	}
	if it.Availability != store.Available {
		t.Errorf("Availability = %s, want A until accepted", it.Availability)
	}
	won := f.rec.Of(notify.BidWon)
	if len(won) != 1 || won[0].To != "bidder1@example.com" {
		t.Errorf("bid_won notices = %+v", won)
	}
}

func TestManager_SelectWinner_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, f *fixture) (actorID, bidID string)
		wantErr error
	}{
		{
			name: "not the seller",
			prepare: func(t *testing.T, f *fixture) (string, string) {
				return f.bidders[0].ID, f.bids[3].ID
			},
			wantErr: settlement.ErrForbidden,
		},
		{
			name: "deadline not passed",
			prepare: func(t *testing.T, f *fixture) (string, string) {
				f.clk.Set(f.item.Deadline.Add(-time.Second))
				return f.seller.ID, f.bids[3].ID
			},
			wantErr: settlement.ErrAuctionOpen,
		},
		{
			name: "fourth ranked bid",
			prepare: func(t *testing.T, f *fixture) (string, string) {
				return f.seller.ID, f.bids[0].ID
			},
			wantErr: settlement.ErrNotTopBid,
		},
		{
			name: "winner pending",
			prepare: func(t *testing.T, f *fixture) (string, string) {
				f.selectTop(t)
				return f.seller.ID, f.bids[2].ID
			},
			wantErr: settlement.ErrWinnerAlreadyChosen,
		},
		{
			name: "suspended bidder",
			prepare: func(t *testing.T, f *fixture) (string, string) {
				a := f.bidders[3]
				a.IsSuspended = true
				f.get(t, func(ctx context.Context, tx store.Tx) error { return tx.SaveStanding(ctx, a) })
				return f.seller.ID, f.bids[3].ID
			},
			wantErr: settlement.ErrNotEligible,
		},
		{
			name: "unknown bid",
			prepare: func(t *testing.T, f *fixture) (string, string) {
				return f.seller.ID, "missing"
			},
			wantErr: store.ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "10", "20", "30", "40")
			actorID, bidID := tt.prepare(t, f)
			f.rec.Reset()

			if _, err := f.mgr.SelectWinner(context.Background(), actorID, bidID); !errors.Is(err, tt.wantErr) {
				t.Fatalf("SelectWinner() error = %v, want %v", err, tt.wantErr)
			}
			if n := len(f.rec.Of(notify.BidWon)); n != 0 {
				t.Errorf("sent %d bid_won notices on failure", n)
			}
		})
	}
}

func TestManager_Accept(t *testing.T) {
	f := newFixture(t, "50.00", "120.50")
	top := f.selectTop(t)
	buyer := f.bidders[1]

	sale, err := f.mgr.Accept(context.Background(), buyer.ID, top.ID)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if sale.Status != store.TxPending || !sale.Amount.Equal(dec("120.50")) || sale.BidID != top.ID {
		t.Errorf("transaction = %+v", sale)
	}

	if got := f.accountNow(t, f.seller.ID); !got.Balance.Equal(dec("220.50")) {
		t.Errorf("seller balance = %s, want 220.50", got.Balance)
	}
	b := f.accountNow(t, buyer.ID)
	if !b.Balance.Equal(dec("879.50")) {
		t.Errorf("buyer balance = %s, want 879.50", b.Balance)
	}
	if b.Points != 120 {
		t.Errorf("buyer points = %d, want 120", b.Points)
	}
	if it := f.itemNow(t); it.Availability != store.Sold {
		t.Errorf("Availability = %s, want S", it.Availability)
	}
	if bid := f.bidNow(t, top.ID); bid.WinnerStatus != store.WinnerApproved {
		t.Errorf("WinnerStatus = %s, want A", bid.WinnerStatus)
	}
	confirmed := f.rec.Of(notify.SaleConfirmed)
	if len(confirmed) != 1 || confirmed[0].To != f.seller.Email {
		t.Errorf("sale_confirmed notices = %+v", confirmed)
	}
	if low := f.rec.Of(notify.LowBalance); len(low) != 0 {
		t.Errorf("low_balance notices = %+v, want none", low)
	}

	// A second acceptance fails and moves no money.
	if _, err := f.mgr.Accept(context.Background(), buyer.ID, top.ID); !errors.Is(err, settlement.ErrBidNotPending) {
		t.Errorf("second Accept() error = %v, want ErrBidNotPending", err)
	}
	if got := f.accountNow(t, buyer.ID); !got.Balance.Equal(dec("879.50")) {
		t.Errorf("buyer balance after second accept = %s", got.Balance)
	}
}

func TestManager_Accept_VIPDiscount(t *testing.T) {
	f := newFixture(t, "200.00")
	buyer := f.bidders[0]
	buyer.Status = store.StatusVIP
	f.get(t, func(ctx context.Context, tx store.Tx) error { return tx.SaveStanding(ctx, buyer) })
	top := f.selectTop(t)

	if _, err := f.mgr.Accept(context.Background(), buyer.ID, top.ID); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	// 1000 - 200 + 20 discount; the VIP is revoked at or below 5000.
	got := f.accountNow(t, buyer.ID)
	if !got.Balance.Equal(dec("820.00")) {
		t.Errorf("buyer balance = %s, want 820.00", got.Balance)
	}
	if got.Status != store.StatusUser {
		t.Errorf("buyer status = %s, want U after review", got.Status)
	}
	if len(f.rec.Of(notify.VIPRevoked)) != 1 {
		t.Errorf("vip_revoked notices = %d, want 1", len(f.rec.Of(notify.VIPRevoked)))
	}
}

func TestManager_Accept_AllowsOverdraft(t *testing.T) {
	f := newFixture(t, "300")
	buyer := f.bidders[0]
	f.get(t, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.AdjustBalance(ctx, buyer.ID, dec("-900"))
		return err
	})
	top := f.selectTop(t)

	if _, err := f.mgr.Accept(context.Background(), buyer.ID, top.ID); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if got := f.accountNow(t, buyer.ID); !got.Balance.Equal(dec("-200")) {
		t.Errorf("buyer balance = %s, want -200", got.Balance)
	}
	low := f.rec.Of(notify.LowBalance)
	if len(low) != 1 || low[0].To != buyer.Email || low[0].Context["balance"] != "-200.00" {
		t.Errorf("low_balance notices = %+v", low)
	}
}

func TestManager_Accept_WrongBuyer(t *testing.T) {
	f := newFixture(t, "10", "20")
	top := f.selectTop(t)

	if _, err := f.mgr.Accept(context.Background(), f.bidders[0].ID, top.ID); !errors.Is(err, settlement.ErrForbidden) {
		t.Errorf("Accept() error = %v, want ErrForbidden", err)
	}
	if _, err := f.mgr.Accept(context.Background(), f.bidders[0].ID, f.bids[0].ID); !errors.Is(err, settlement.ErrBidNotPending) {
		t.Errorf("Accept(unselected) error = %v, want ErrBidNotPending", err)
	}
}

func TestManager_Reject(t *testing.T) {
	f := newFixture(t, "10", "20")
	top := f.selectTop(t)

	if err := f.mgr.Reject(context.Background(), f.bidders[1].ID, top.ID); err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if b := f.bidNow(t, top.ID); b.WinnerStatus != store.WinnerRejected {
		t.Errorf("WinnerStatus = %s, want R", b.WinnerStatus)
	}
	it := f.itemNow(t)
	if it.WinningBidID != nil || it.Availability != store.Available {
		t.Errorf("item after reject = %v/%s", it.WinningBidID, it.Availability)
	}
	if n := len(f.rec.Of(notify.SaleRejected)); n != 1 {
		t.Errorf("sale_rejected notices = %d, want 1", n)
	}
	if got := f.accountNow(t, f.bidders[1].ID); !got.Balance.Equal(dec("1000")) {
		t.Errorf("buyer balance = %s, want untouched", got.Balance)
	}

	// The rejected bid cannot be chosen again; the runner-up can.
	if _, err := f.mgr.SelectWinner(context.Background(), f.seller.ID, top.ID); !errors.Is(err, settlement.ErrNotTopBid) {
		t.Errorf("reselecting rejected bid error = %v, want ErrNotTopBid", err)
	}
	if _, err := f.mgr.SelectWinner(context.Background(), f.seller.ID, f.bids[0].ID); err != nil {
		t.Errorf("selecting runner-up error = %v", err)
	}
}

func acceptedSale(t *testing.T, f *fixture) *store.Transaction {
	t.Helper()
	top := f.selectTop(t)
	sale, err := f.mgr.Accept(context.Background(), f.bidders[len(f.bidders)-1].ID, top.ID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	return sale
}

var parcel = shipping.Parcel{
	Length: dec("10"), Width: dec("8"), Height: dec("4"), Weight: dec("2"),
}

func TestManager_Ship(t *testing.T) {
	f := newFixture(t, "75")
	sale := acceptedSale(t, f)
	eta := start.Add(96 * time.Hour)

	f.rates.EXPECT().
		Quote(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, p shipping.Parcel, from, to store.Address) (shipping.Quote, error) {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("quote context has no deadline")
			}
			if p.DistanceUnit != "in" || p.WeightUnit != "lb" {
				t.Errorf("parcel units = %s/%s, want defaults", p.DistanceUnit, p.WeightUnit)
			}
			if from.AccountID != f.seller.ID {
				t.Errorf("from = %s, want seller", from.AccountID)
			}
			return shipping.Quote{Carrier: "USPS", Cost: dec("8.456"), EstimatedDelivery: eta}, nil
		})

	shipped, err := f.mgr.Ship(context.Background(), f.seller.ID, sale.ID, parcel)
	if err != nil {
		t.Fatalf("Ship() error = %v", err)
	}
	if shipped.Status != store.TxShipped || shipped.Carrier == nil || *shipped.Carrier != "USPS" {
		t.Errorf("shipped transaction = %+v", shipped)
	}
	if !shipped.ShippingCost.Valid || !shipped.ShippingCost.Decimal.Equal(dec("8.46")) {
		t.Errorf("ShippingCost = %+v, want 8.46", shipped.ShippingCost)
	}
	if shipped.EstimatedDelivery == nil || !shipped.EstimatedDelivery.Equal(eta) {
		t.Errorf("EstimatedDelivery = %v, want %v", shipped.EstimatedDelivery, eta)
	}
	notices := f.rec.Of(notify.ItemShipped)
	if len(notices) != 1 || notices[0].Context["carrier"] != "USPS" {
		t.Errorf("item_shipped notices = %+v", notices)
	}

	// Shipping twice is refused before a quote is requested.
	if _, err := f.mgr.Ship(context.Background(), f.seller.ID, sale.ID, parcel); !errors.Is(err, settlement.ErrTransactionState) {
		t.Errorf("second Ship() error = %v, want ErrTransactionState", err)
	}
}

func TestManager_Ship_QuoteFailureLeavesPending(t *testing.T) {
	f := newFixture(t, "75")
	sale := acceptedSale(t, f)

	f.rates.EXPECT().
		Quote(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(shipping.Quote{}, shipping.ErrUnavailable)

	_, err := f.mgr.Ship(context.Background(), f.seller.ID, sale.ID, parcel)
	if !errors.Is(err, settlement.ErrShippingUnavailable) {
		t.Fatalf("Ship() error = %v, want ErrShippingUnavailable", err)
	}
	f.get(t, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.GetTransaction(ctx, sale.ID)
		if err != nil {
			return err
		}
		if got.Status != store.TxPending || got.Carrier != nil {
			t.Errorf("transaction after failed quote = %+v", got)
		}
		return nil
	})
	if n := len(f.rec.Of(notify.ItemShipped)); n != 0 {
		t.Errorf("item_shipped notices = %d, want 0", n)
	}
}

func TestManager_Ship_Preconditions(t *testing.T) {
	f := newFixture(t, "75")
	sale := acceptedSale(t, f)
	ctx := context.Background()

	if _, err := f.mgr.Ship(ctx, f.bidders[0].ID, sale.ID, parcel); !errors.Is(err, settlement.ErrForbidden) {
		t.Errorf("Ship(by buyer) error = %v, want ErrForbidden", err)
	}
	if _, err := f.mgr.Ship(ctx, f.seller.ID, sale.ID, shipping.Parcel{}); !errors.Is(err, settlement.ErrInvalidParcel) {
		t.Errorf("Ship(empty parcel) error = %v, want ErrInvalidParcel", err)
	}
}

func TestManager_Ship_RequiresAddresses(t *testing.T) {
	f := newFixture(t, "75")
	nomad := &store.Account{Email: "nomad@example.com", Status: store.StatusUser, Balance: dec("100")}
	sale := &store.Transaction{SellerID: f.seller.ID, Amount: dec("75")}
	f.get(t, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateAccount(ctx, nomad); err != nil {
			return err
		}
		b := &store.Bid{ItemID: f.item.ID, BidderID: nomad.ID, Price: dec("75")}
		if err := tx.CreateBid(ctx, b); err != nil {
			return err
		}
		sale.BuyerID = nomad.ID
		sale.BidID = b.ID
		return tx.CreateTransaction(ctx, sale)
	})

	_, err := f.mgr.Ship(context.Background(), f.seller.ID, sale.ID, parcel)
	if !errors.Is(err, settlement.ErrAddressRequired) {
		t.Errorf("Ship() error = %v, want ErrAddressRequired", err)
	}
}

func TestManager_ConfirmReceived(t *testing.T) {
	f := newFixture(t, "75")
	sale := acceptedSale(t, f)
	buyer := f.bidders[0]
	ctx := context.Background()

	if _, err := f.mgr.ConfirmReceived(ctx, buyer.ID, sale.ID); !errors.Is(err, settlement.ErrTransactionState) {
		t.Errorf("ConfirmReceived(pending) error = %v, want ErrTransactionState", err)
	}

	f.rates.EXPECT().
		Quote(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(shipping.Quote{Carrier: "UPS", Cost: dec("5"), EstimatedDelivery: start.Add(72 * time.Hour)}, nil)
	if _, err := f.mgr.Ship(ctx, f.seller.ID, sale.ID, parcel); err != nil {
		t.Fatalf("Ship: %v", err)
	}

	if _, err := f.mgr.ConfirmReceived(ctx, f.seller.ID, sale.ID); !errors.Is(err, settlement.ErrForbidden) {
		t.Errorf("ConfirmReceived(by seller) error = %v, want ErrForbidden", err)
	}
	got, err := f.mgr.ConfirmReceived(ctx, buyer.ID, sale.ID)
	if err != nil {
		t.Fatalf("ConfirmReceived() error = %v", err)
	}
	if got.Status != store.TxReceived {
		t.Errorf("Status = %s, want R", got.Status)
	}
	received := f.rec.Of(notify.ItemReceived)
	if len(received) != 1 || received[0].To != f.seller.Email {
		t.Errorf("item_received notices = %+v", received)
	}
}
