package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bluepenguin/internal/event"
	"github.com/jensholdgaard/bluepenguin/internal/identity"
	"github.com/jensholdgaard/bluepenguin/internal/notify"
	"github.com/jensholdgaard/bluepenguin/internal/store"
)

// ErrInvalidRegistration is returned for malformed sign-up details.
var ErrInvalidRegistration = errors.New("invalid registration")

// Manager handles account registration and self-service balance operations.
type Manager struct {
	db       store.DB
	identity identity.Provider
	notifier notify.Notifier
	policy   Policy
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewManager returns a new ledger Manager.
func NewManager(db store.DB, idp identity.Provider, notifier notify.Notifier, policy Policy, logger *slog.Logger, tp trace.TracerProvider) *Manager {
	return &Manager{
		db:       db,
		identity: idp,
		notifier: notifier,
		policy:   policy,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/bluepenguin/internal/ledger"),
	}
}

// Register creates the identity first and then a Visitor account with its
// profile. If the account cannot be stored the identity is removed again.
func (m *Manager) Register(ctx context.Context, email, password, displayName string) (*store.Account, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Register",
		trace.WithAttributes(attribute.String("email", email)),
	)
	defer span.End()

	email = strings.TrimSpace(strings.ToLower(email))
	displayName = strings.TrimSpace(displayName)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: email: %v", ErrInvalidRegistration, err)
	}
	if displayName == "" {
		return nil, fmt.Errorf("%w: display name is required", ErrInvalidRegistration)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidRegistration)
	}

	id, err := m.identity.CreateIdentity(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("creating identity: %w", err)
	}

	a := &store.Account{ID: id, Email: email, Status: store.StatusVisitor}
	err = m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateAccount(ctx, a); err != nil {
			return err
		}
		if err := tx.CreateProfile(ctx, &store.Profile{AccountID: id, DisplayName: displayName}); err != nil {
			return err
		}
		return tx.Append(ctx, event.New(id, event.AccountCreated, event.StatusData{To: string(a.Status), Reason: "registered"}))
	})
	if err != nil {
		if derr := m.identity.DeleteIdentity(ctx, id); derr != nil {
			m.logger.ErrorContext(ctx, "failed to remove orphaned identity",
				slog.String("account_id", id), slog.Any("error", derr))
		}
		return nil, fmt.Errorf("creating account: %w", err)
	}

	m.logger.InfoContext(ctx, "account registered", slog.String("account_id", id))
	return a, nil
}

// Account returns an account by ID.
func (m *Manager) Account(ctx context.Context, id string) (*store.Account, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Account")
	defer span.End()

	var a *store.Account
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		a, err = tx.GetAccount(ctx, id)
		return err
	})
	return a, err
}

// AccountByEmail returns the account registered under email.
func (m *Manager) AccountByEmail(ctx context.Context, email string) (*store.Account, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.AccountByEmail")
	defer span.End()

	var a *store.Account
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		a, err = tx.GetAccountByEmail(ctx, strings.ToLower(email))
		return err
	})
	return a, err
}

// Profile returns the public profile of an account.
func (m *Manager) Profile(ctx context.Context, accountID string) (*store.Profile, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Profile")
	defer span.End()

	var p *store.Profile
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = tx.GetProfile(ctx, accountID)
		return err
	})
	return p, err
}

// SetAddress replaces the account's shipping address.
func (m *Manager) SetAddress(ctx context.Context, accountID string, addr store.Address) error {
	ctx, span := m.tracer.Start(ctx, "Manager.SetAddress",
		trace.WithAttributes(attribute.String("account_id", accountID)),
	)
	defer span.End()

	addr.AccountID = accountID
	if strings.TrimSpace(addr.StreetAddress) == "" || strings.TrimSpace(addr.City) == "" || strings.TrimSpace(addr.Country) == "" {
		return fmt.Errorf("%w: street address, city and country are required", ErrInvalidRegistration)
	}
	return m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetAccount(ctx, accountID); err != nil {
			return err
		}
		return tx.SetAddress(ctx, &addr)
	})
}

// Address returns the account's shipping address.
func (m *Manager) Address(ctx context.Context, accountID string) (*store.Address, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Address")
	defer span.End()

	var a *store.Address
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		a, err = tx.GetAddress(ctx, accountID)
		return err
	})
	return a, err
}

// RedeemPoints converts points into balance at the policy's point value
// and returns the amount credited. The balance change can earn VIP.
func (m *Manager) RedeemPoints(ctx context.Context, accountID string, points int64) (decimal.Decimal, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.RedeemPoints",
		trace.WithAttributes(
			attribute.String("account_id", accountID),
			attribute.Int64("points", points),
		),
	)
	defer span.End()

	if points <= 0 {
		return decimal.Zero, ErrInvalidAmount
	}

	var (
		credit decimal.Decimal
		msgs   []notify.Message
	)
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if a.Points < points {
			return fmt.Errorf("%w: have %d, want %d", ErrInsufficientPoints, a.Points, points)
		}
		a.Points -= points
		if err := tx.SaveStanding(ctx, a); err != nil {
			return err
		}

		credit = decimal.NewFromInt(points).Mul(m.policy.PointValue).Round(2)
		if credit.IsPositive() {
			if _, err := tx.AdjustBalance(ctx, accountID, credit); err != nil {
				return err
			}
		}
		if err := tx.Append(ctx, event.New(accountID, event.PointsRedeemed,
			event.TransferData{To: accountID, Amount: credit, Reason: fmt.Sprintf("%d points", points)})); err != nil {
			return err
		}

		change, err := ReviewVIP(ctx, tx, accountID, m.policy)
		if err != nil {
			return err
		}
		msgs = change.Notice(a.Email)
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("redeeming points: %w", err)
	}

	notify.Deliver(ctx, m.notifier, m.logger, msgs...)
	m.logger.InfoContext(ctx, "points redeemed",
		slog.String("account_id", accountID),
		slog.Int64("points", points),
		slog.String("credit", credit.StringFixed(2)),
	)
	return credit, nil
}
