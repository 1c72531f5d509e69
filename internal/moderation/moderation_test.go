package moderation_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/bluepenguin/internal/authz"
	"github.com/jensholdgaard/bluepenguin/internal/clock"
	"github.com/jensholdgaard/bluepenguin/internal/identity"
	"github.com/jensholdgaard/bluepenguin/internal/ledger"
	"github.com/jensholdgaard/bluepenguin/internal/moderation"
	"github.com/jensholdgaard/bluepenguin/internal/notify"
	"github.com/jensholdgaard/bluepenguin/internal/store"
	"github.com/jensholdgaard/bluepenguin/internal/store/memstore"
)

type fixture struct {
	db    *memstore.Store
	idp   *identity.Local
	rec   *notify.Recorder
	mgr   *moderation.Manager
	admin authz.Actor
	n     int
}

func newFixture(t *testing.T) *fixture {
	clk := clock.NewMock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	f := &fixture{
		db:  memstore.New(clk),
		idp: identity.NewLocal("secret", clk),
		rec: &notify.Recorder{},
	}
	f.mgr = moderation.NewManager(f.db, f.idp, f.rec, ledger.DefaultPolicy(), slog.Default(), noop.NewTracerProvider())
	f.admin = authz.ActorFor(f.account(t, store.StatusSuperuser, "0"))
	return f
}

func (f *fixture) account(t *testing.T, status store.AccountStatus, balance string) *store.Account {
	t.Helper()
	f.n++
	email := fmt.Sprintf("member%d@example.com", f.n)
	id, err := f.idp.CreateIdentity(context.Background(), email, "password1")
	if err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	a := &store.Account{ID: id, Email: email, Status: status, Balance: decimal.RequireFromString(balance)}
	err = f.db.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateAccount(ctx, a); err != nil {
			return err
		}
		return tx.CreateProfile(ctx, &store.Profile{AccountID: id, DisplayName: email})
	})
	if err != nil {
		t.Fatalf("creating account: %v", err)
	}
	return a
}

func (f *fixture) get(t *testing.T, id string) (*store.Account, error) {
	t.Helper()
	var a *store.Account
	err := f.db.InTx(context.Background(), func(ctx context.Context, tx store.Tx) (err error) {
		a, err = tx.GetAccount(ctx, id)
		return err
	})
	return a, err
}

func TestManager_Apply(t *testing.T) {
	f := newFixture(t)
	visitor := f.account(t, store.StatusVisitor, "0")
	user := f.account(t, store.StatusUser, "0")

	if _, err := f.mgr.Apply(context.Background(), visitor.ID, false); !errors.Is(err, moderation.ErrCaptchaRequired) {
		t.Errorf("without captcha error = %v, want ErrCaptchaRequired", err)
	}
	if _, err := f.mgr.Apply(context.Background(), user.ID, true); !errors.Is(err, moderation.ErrNotVisitor) {
		t.Errorf("user applying error = %v, want ErrNotVisitor", err)
	}

	app, err := f.mgr.Apply(context.Background(), visitor.ID, true)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if app.Status != store.RequestPending || !app.CaptchaCompleted {
		t.Errorf("application = %+v", app)
	}
	if _, err := f.mgr.Apply(context.Background(), visitor.ID, true); !errors.Is(err, moderation.ErrDuplicateRequest) {
		t.Errorf("second Apply error = %v, want ErrDuplicateRequest", err)
	}
}

func TestManager_ReviewApplication(t *testing.T) {
	tests := []struct {
		name       string
		approve    bool
		wantStatus store.AccountStatus
		wantNotice notify.Kind
	}{
		{"approve", true, store.StatusUser, notify.ApplicationApproved},
		{"reject", false, store.StatusVisitor, notify.ApplicationRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			visitor := f.account(t, store.StatusVisitor, "0")
			app, err := f.mgr.Apply(context.Background(), visitor.ID, true)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}

			if err := f.mgr.ReviewApplication(context.Background(), f.admin, app.ID, tt.approve); err != nil {
				t.Fatalf("ReviewApplication: %v", err)
			}
			got, err := f.get(t, visitor.ID)
			if err != nil {
				t.Fatalf("GetAccount: %v", err)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", got.Status, tt.wantStatus)
			}
			notices := f.rec.Of(tt.wantNotice)
			if len(notices) != 1 || notices[0].To != visitor.Email {
				t.Errorf("%s notices = %+v", tt.wantNotice, notices)
			}

			err = f.mgr.ReviewApplication(context.Background(), f.admin, app.ID, tt.approve)
			if !errors.Is(err, moderation.ErrAlreadyReviewed) {
				t.Errorf("second review error = %v, want ErrAlreadyReviewed", err)
			}
		})
	}
}

func TestManager_ReviewRequiresSuperuser(t *testing.T) {
	f := newFixture(t)
	user := authz.ActorFor(f.account(t, store.StatusUser, "0"))

	if err := f.mgr.ReviewApplication(context.Background(), user, "any", true); !errors.Is(err, moderation.ErrForbidden) {
		t.Errorf("ReviewApplication error = %v", err)
	}
	if err := f.mgr.ReviewQuit(context.Background(), user, "any", true); !errors.Is(err, moderation.ErrForbidden) {
		t.Errorf("ReviewQuit error = %v", err)
	}
	if err := f.mgr.ReviewReport(context.Background(), user, "any", true); !errors.Is(err, moderation.ErrForbidden) {
		t.Errorf("ReviewReport error = %v", err)
	}
	if err := f.mgr.ReviewReport(context.Background(), f.admin, "missing", true); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown report error = %v, want ErrNotFound", err)
	}
}

func TestManager_Quit(t *testing.T) {
	f := newFixture(t)
	user := f.account(t, store.StatusUser, "0")

	q, err := f.mgr.RequestQuit(context.Background(), user.ID, " moving abroad ")
	if err != nil {
		t.Fatalf("RequestQuit: %v", err)
	}
	if q.Reason != "moving abroad" {
		t.Errorf("Reason = %q", q.Reason)
	}
	if _, err := f.mgr.RequestQuit(context.Background(), user.ID, "again"); !errors.Is(err, moderation.ErrDuplicateRequest) {
		t.Errorf("second RequestQuit error = %v, want ErrDuplicateRequest", err)
	}

	if err := f.mgr.ReviewQuit(context.Background(), f.admin, q.ID, true); err != nil {
		t.Fatalf("ReviewQuit: %v", err)
	}
	if _, err := f.get(t, user.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetAccount after quit error = %v, want ErrNotFound", err)
	}
	if _, err := f.idp.SignIn(context.Background(), user.Email, "password1"); !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Errorf("SignIn after quit error = %v, want ErrInvalidCredentials", err)
	}
	if n := len(f.rec.Of(notify.PermanentlySuspended)); n != 0 {
		t.Errorf("quitting sent %d suspension notices", n)
	}
}

func TestManager_QuitRejected(t *testing.T) {
	f := newFixture(t)
	user := f.account(t, store.StatusUser, "0")
	q, err := f.mgr.RequestQuit(context.Background(), user.ID, "")
	if err != nil {
		t.Fatalf("RequestQuit: %v", err)
	}

	if err := f.mgr.ReviewQuit(context.Background(), f.admin, q.ID, false); err != nil {
		t.Fatalf("ReviewQuit: %v", err)
	}
	if _, err := f.get(t, user.ID); err != nil {
		t.Errorf("account gone after rejected quit: %v", err)
	}
	if _, err := f.mgr.RequestQuit(context.Background(), user.ID, "second try"); err != nil {
		t.Errorf("RequestQuit after rejection: %v", err)
	}
}

func TestManager_ReviewReport(t *testing.T) {
	tests := []struct {
		name         string
		approve      bool
		wantStatus   store.AccountStatus
		wantRejected int
		wantEarned   int
	}{
		{"upheld report keeps VIP revoked", true, store.StatusUser, 0, 0},
		{"rejected report restores VIP", false, store.StatusVIP, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			reporter := f.account(t, store.StatusUser, "0")
			// A user with enough money and sales for VIP, held back by one report.
			reportee := f.account(t, store.StatusUser, "9000")
			var reportID string
			err := f.db.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
				for i := 0; i < 6; i++ {
					seller := &store.Account{Email: fmt.Sprintf("s%d@example.com", i), Status: store.StatusUser}
					if err := tx.CreateAccount(ctx, seller); err != nil {
						return err
					}
					it := &store.Item{SellerID: seller.ID, Title: "thing", Availability: store.Sold}
					if err := tx.CreateItem(ctx, it); err != nil {
						return err
					}
					b := &store.Bid{ItemID: it.ID, BidderID: reportee.ID, Price: decimal.NewFromInt(1)}
					if err := tx.CreateBid(ctx, b); err != nil {
						return err
					}
					if err := tx.CreateTransaction(ctx, &store.Transaction{SellerID: seller.ID, BuyerID: reportee.ID, BidID: b.ID, Amount: b.Price}); err != nil {
						return err
					}
				}
				r := &store.Report{ReporterID: reporter.ID, ReporteeID: reportee.ID, Text: "rude"}
				if err := tx.CreateReport(ctx, r); err != nil {
					return err
				}
				reportID = r.ID
				return nil
			})
			if err != nil {
				t.Fatalf("seeding: %v", err)
			}

			if err := f.mgr.ReviewReport(context.Background(), f.admin, reportID, tt.approve); err != nil {
				t.Fatalf("ReviewReport: %v", err)
			}
			got, err := f.get(t, reportee.ID)
			if err != nil {
				t.Fatalf("GetAccount: %v", err)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", got.Status, tt.wantStatus)
			}
			if n := len(f.rec.Of(notify.ReportRejected)); n != tt.wantRejected {
				t.Errorf("got %d report_rejected notices, want %d", n, tt.wantRejected)
			}
			if n := len(f.rec.Of(notify.VIPEarned)); n != tt.wantEarned {
				t.Errorf("got %d vip_earned notices, want %d", n, tt.wantEarned)
			}
		})
	}
}
