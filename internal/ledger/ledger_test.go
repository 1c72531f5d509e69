package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bluepenguin/internal/clock"
	"github.com/jensholdgaard/bluepenguin/internal/event"
	"github.com/jensholdgaard/bluepenguin/internal/ledger"
	"github.com/jensholdgaard/bluepenguin/internal/store"
	"github.com/jensholdgaard/bluepenguin/internal/store/memstore"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newAccount(t *testing.T, ctx context.Context, tx store.Tx, email string, status store.AccountStatus, balance string) *store.Account {
	t.Helper()
	a := &store.Account{Email: email, Status: status, Balance: dec(balance)}
	if err := tx.CreateAccount(ctx, a); err != nil {
		t.Fatalf("CreateAccount(%s): %v", email, err)
	}
	if err := tx.CreateProfile(ctx, &store.Profile{AccountID: a.ID, DisplayName: email}); err != nil {
		t.Fatalf("CreateProfile(%s): %v", email, err)
	}
	return a
}

// addSales records n completed sales with a fresh counterparty selling to accountID.
func addSales(t *testing.T, ctx context.Context, tx store.Tx, accountID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		seller := newAccount(t, ctx, tx, fmt.Sprintf("seller-%s-%d@example.com", accountID, i), store.StatusUser, "0")
		it := &store.Item{SellerID: seller.ID, Title: "thing", Deadline: t0, Availability: store.Sold}
		if err := tx.CreateItem(ctx, it); err != nil {
			t.Fatalf("CreateItem: %v", err)
		}
		b := &store.Bid{ItemID: it.ID, BidderID: accountID, Price: dec("1")}
		if err := tx.CreateBid(ctx, b); err != nil {
			t.Fatalf("CreateBid: %v", err)
		}
		if err := tx.CreateTransaction(ctx, &store.Transaction{SellerID: seller.ID, BuyerID: accountID, BidID: b.ID, Amount: b.Price}); err != nil {
			t.Fatalf("CreateTransaction: %v", err)
		}
	}
}

func balance(t *testing.T, ctx context.Context, tx store.Tx, id string) decimal.Decimal {
	t.Helper()
	a, err := tx.GetAccount(ctx, id)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	return a.Balance
}

func TestTransfer(t *testing.T) {
	db := memstore.New(clock.NewMock(t0))
	ctx := context.Background()

	_ = db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		seller := newAccount(t, ctx, tx, "s@example.com", store.StatusUser, "10")
		buyer := newAccount(t, ctx, tx, "b@example.com", store.StatusUser, "25.50")

		if err := ledger.Transfer(ctx, tx, seller.ID, buyer.ID, dec("40.00")); err != nil {
			t.Fatalf("Transfer: %v", err)
		}
		if got := balance(t, ctx, tx, seller.ID); !got.Equal(dec("50")) {
			t.Errorf("seller balance = %s, want 50", got)
		}
		if got := balance(t, ctx, tx, buyer.ID); !got.Equal(dec("-14.50")) {
			t.Errorf("buyer balance = %s, want -14.50 (overdraft allowed)", got)
		}

		events, _ := tx.LoadByType(ctx, event.FundsMoved)
		if len(events) != 2 {
			t.Errorf("FundsMoved events = %d, want 2", len(events))
		}

		for _, amt := range []string{"0", "-1", "0.001"} {
			if err := ledger.Transfer(ctx, tx, seller.ID, buyer.ID, dec(amt)); !errors.Is(err, ledger.ErrInvalidAmount) {
				t.Errorf("Transfer(%s) error = %v, want ErrInvalidAmount", amt, err)
			}
		}
		return nil
	})
}

func TestTransfer_MissingSellerRollsBack(t *testing.T) {
	db := memstore.New(clock.NewMock(t0))
	ctx := context.Background()

	var buyerID string
	_ = db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		buyerID = newAccount(t, ctx, tx, "b@example.com", store.StatusUser, "100").ID
		return nil
	})

	err := db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return ledger.Transfer(ctx, tx, "nobody", buyerID, dec("30"))
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Transfer error = %v, want ErrNotFound", err)
	}

	_ = db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if got := balance(t, ctx, tx, buyerID); !got.Equal(dec("100")) {
			t.Errorf("buyer balance = %s, want 100", got)
		}
		return nil
	})
}

func TestApplyVIPDiscount(t *testing.T) {
	tests := []struct {
		name   string
		status store.AccountStatus
		price  string
		want   string
	}{
		{"vip gets ten percent", store.StatusVIP, "200.00", "20.00"},
		{"vip discount rounds", store.StatusVIP, "33.33", "3.33"},
		{"user gets nothing", store.StatusUser, "200.00", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := memstore.New(clock.NewMock(t0))
			ctx := context.Background()
			_ = db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
				buyer := newAccount(t, ctx, tx, "b@example.com", tt.status, "0")
				credit, err := ledger.ApplyVIPDiscount(ctx, tx, buyer, dec(tt.price), ledger.DefaultPolicy())
				if err != nil {
					t.Fatalf("ApplyVIPDiscount: %v", err)
				}
				if !credit.Equal(dec(tt.want)) {
					t.Errorf("credit = %s, want %s", credit, tt.want)
				}
				if got := balance(t, ctx, tx, buyer.ID); !got.Equal(dec(tt.want)) {
					t.Errorf("balance = %s, want %s", got, tt.want)
				}
				return nil
			})
		})
	}
}

func TestAddPoints_IntegerPart(t *testing.T) {
	db := memstore.New(clock.NewMock(t0))
	ctx := context.Background()
	_ = db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a := newAccount(t, ctx, tx, "p@example.com", store.StatusUser, "0")
		if _, err := ledger.AddPoints(ctx, tx, a.ID, dec("12.99")); err != nil {
			t.Fatalf("AddPoints: %v", err)
		}
		total, err := ledger.AddPoints(ctx, tx, a.ID, dec("0.50"))
		if err != nil {
			t.Fatalf("AddPoints: %v", err)
		}
		if total != 12 {
			t.Errorf("points = %d, want 12", total)
		}
		return nil
	})
}

func TestChargeFine(t *testing.T) {
	db := memstore.New(clock.NewMock(t0))
	ctx := context.Background()
	_ = db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a := newAccount(t, ctx, tx, "f@example.com", store.StatusUser, "20")
		bal, err := ledger.ChargeFine(ctx, tx, a.ID, dec("50"))
		if err != nil {
			t.Fatalf("ChargeFine: %v", err)
		}
		if !bal.Equal(dec("-30")) {
			t.Errorf("balance = %s, want -30", bal)
		}
		return nil
	})
}

func TestReviewVIP(t *testing.T) {
	tests := []struct {
		name       string
		status     store.AccountStatus
		balance    string
		sales      int
		report     store.RequestStatus
		want       ledger.VIPChange
		wantStatus store.AccountStatus
	}{
		{"user qualifies", store.StatusUser, "5000.01", 6, "", ledger.VIPEarned, store.StatusVIP},
		{"user with five sales", store.StatusUser, "6000", 5, "", ledger.VIPUnchanged, store.StatusUser},
		{"user at threshold", store.StatusUser, "5000.00", 6, "", ledger.VIPUnchanged, store.StatusUser},
		{"user with pending report", store.StatusUser, "6000", 6, store.RequestPending, ledger.VIPUnchanged, store.StatusUser},
		{"user with rejected report", store.StatusUser, "6000", 6, store.RequestRejected, ledger.VIPEarned, store.StatusVIP},
		{"vip keeps status", store.StatusVIP, "6000", 0, "", ledger.VIPUnchanged, store.StatusVIP},
		{"vip at threshold", store.StatusVIP, "5000", 10, "", ledger.VIPRevoked, store.StatusUser},
		{"vip with approved report", store.StatusVIP, "9000", 10, store.RequestApproved, ledger.VIPRevoked, store.StatusUser},
		{"visitor ignored", store.StatusVisitor, "9000", 10, "", ledger.VIPUnchanged, store.StatusVisitor},
		{"superuser ignored", store.StatusSuperuser, "0", 0, "", ledger.VIPUnchanged, store.StatusSuperuser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := memstore.New(clock.NewMock(t0))
			ctx := context.Background()
			_ = db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
				a := newAccount(t, ctx, tx, "v@example.com", tt.status, tt.balance)
				addSales(t, ctx, tx, a.ID, tt.sales)
				if tt.report != "" {
					reporter := newAccount(t, ctx, tx, "r@example.com", store.StatusUser, "0")
					if err := tx.CreateReport(ctx, &store.Report{ReporterID: reporter.ID, ReporteeID: a.ID, Text: "x", Status: tt.report}); err != nil {
						t.Fatalf("CreateReport: %v", err)
					}
				}

				got, err := ledger.ReviewVIP(ctx, tx, a.ID, ledger.DefaultPolicy())
				if err != nil {
					t.Fatalf("ReviewVIP: %v", err)
				}
				if got != tt.want {
					t.Errorf("ReviewVIP() = %s, want %s", got, tt.want)
				}
				after, _ := tx.GetAccount(ctx, a.ID)
				if after.Status != tt.wantStatus {
					t.Errorf("status = %s, want %s", after.Status, tt.wantStatus)
				}
				return nil
			})
		})
	}
}

func TestVIPChange_Notice(t *testing.T) {
	if n := ledger.VIPUnchanged.Notice("a@example.com"); len(n) != 0 {
		t.Errorf("unchanged produced %d notices", len(n))
	}
	if n := ledger.VIPEarned.Notice("a@example.com"); len(n) != 1 || n[0].To != "a@example.com" {
		t.Errorf("earned notice = %+v", n)
	}
}

func TestCloseAccount(t *testing.T) {
	db := memstore.New(clock.NewMock(t0))
	ctx := context.Background()
	_ = db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a := newAccount(t, ctx, tx, "gone@example.com", store.StatusUser, "10")
		if err := tx.CreateItem(ctx, &store.Item{SellerID: a.ID, Title: "x", Deadline: t0}); err != nil {
			t.Fatalf("CreateItem: %v", err)
		}

		if err := ledger.CloseAccount(ctx, tx, a.ID, "quit"); err != nil {
			t.Fatalf("CloseAccount: %v", err)
		}
		if _, err := tx.GetAccount(ctx, a.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("GetAccount after close = %v, want ErrNotFound", err)
		}
		if _, err := tx.GetProfile(ctx, a.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("GetProfile after close = %v, want ErrNotFound", err)
		}
		if items, _ := tx.ListItemsBySeller(ctx, a.ID); len(items) != 0 {
			t.Errorf("items after close = %d", len(items))
		}
		events, _ := tx.LoadByType(ctx, event.AccountDeleted)
		if len(events) != 1 {
			t.Errorf("AccountDeleted events = %d, want 1", len(events))
		}

		if err := ledger.CloseAccount(ctx, tx, a.ID, "quit"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("second CloseAccount = %v, want ErrNotFound", err)
		}
		return nil
	})
}

func TestLockAccounts_ReturnsArgumentOrder(t *testing.T) {
	db := memstore.New(clock.NewMock(t0))
	ctx := context.Background()
	_ = db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a := newAccount(t, ctx, tx, "a@example.com", store.StatusUser, "1")
		b := newAccount(t, ctx, tx, "b@example.com", store.StatusUser, "2")

		got, err := ledger.LockAccounts(ctx, tx, b.ID, a.ID)
		if err != nil {
			t.Fatalf("LockAccounts: %v", err)
		}
		if len(got) != 2 || got[0].ID != b.ID || got[1].ID != a.ID {
			t.Errorf("LockAccounts returned %v, want [%s %s]", got, b.ID, a.ID)
		}
		if _, err := ledger.LockAccounts(ctx, tx, a.ID, "missing"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("LockAccounts(missing) = %v, want ErrNotFound", err)
		}
		return nil
	})
}
