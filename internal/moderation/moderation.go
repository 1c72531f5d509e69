// Package moderation handles the requests a superuser reviews: visitor
// applications, quit requests and reports.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bluepenguin/internal/authz"
	"github.com/jensholdgaard/bluepenguin/internal/event"
	"github.com/jensholdgaard/bluepenguin/internal/identity"
	"github.com/jensholdgaard/bluepenguin/internal/ledger"
	"github.com/jensholdgaard/bluepenguin/internal/notify"
	"github.com/jensholdgaard/bluepenguin/internal/store"
)

var (
	ErrForbidden        = authz.ErrForbidden
	ErrNotVisitor       = errors.New("only visitors may apply")
	ErrCaptchaRequired  = errors.New("captcha must be completed")
	ErrDuplicateRequest = errors.New("a request is already pending")
	ErrAlreadyReviewed  = errors.New("request was already reviewed")
)

// Manager files and reviews moderation requests.
type Manager struct {
	db       store.DB
	identity identity.Provider
	notifier notify.Notifier
	money    ledger.Policy
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewManager creates a new moderation Manager.
func NewManager(db store.DB, idp identity.Provider, notifier notify.Notifier, money ledger.Policy, logger *slog.Logger, tp trace.TracerProvider) *Manager {
	return &Manager{
		db:       db,
		identity: idp,
		notifier: notifier,
		money:    money,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/bluepenguin/internal/moderation"),
	}
}

// Apply asks for a visitor to be promoted to user.
func (m *Manager) Apply(ctx context.Context, accountID string, captchaCompleted bool) (*store.UserApplication, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Apply",
		trace.WithAttributes(attribute.String("account_id", accountID)),
	)
	defer span.End()

	if !captchaCompleted {
		return nil, ErrCaptchaRequired
	}

	var app *store.UserApplication
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if a.Status != store.StatusVisitor {
			return ErrNotVisitor
		}
		if err := noPending(tx.PendingApplication(ctx, accountID)); err != nil {
			return err
		}
		app = &store.UserApplication{AccountID: accountID, Status: store.RequestPending, CaptchaCompleted: true}
		return tx.CreateApplication(ctx, app)
	})
	if err != nil {
		return nil, fmt.Errorf("applying: %w", err)
	}
	m.logger.InfoContext(ctx, "application filed", slog.String("application_id", app.ID))
	return app, nil
}

// ReviewApplication approves or rejects a pending application. Approval
// makes the applicant a user.
func (m *Manager) ReviewApplication(ctx context.Context, actor authz.Actor, id string, approve bool) error {
	ctx, span := m.tracer.Start(ctx, "Manager.ReviewApplication",
		trace.WithAttributes(
			attribute.String("application_id", id),
			attribute.Bool("approve", approve),
		),
	)
	defer span.End()

	if !authz.IsSuperuser(actor) {
		return ErrForbidden
	}

	var msgs []notify.Message
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		app, err := tx.GetApplication(ctx, id)
		if err != nil {
			return err
		}
		if app.Status != store.RequestPending {
			return ErrAlreadyReviewed
		}
		a, err := tx.LockAccount(ctx, app.AccountID)
		if err != nil {
			return err
		}
		if err := tx.SetApplicationStatus(ctx, id, verdict(approve)); err != nil {
			return err
		}
		if err := m.reviewed(ctx, tx, id, "application", approve, actor); err != nil {
			return err
		}

		if !approve {
			msgs = append(msgs, notify.Message{Kind: notify.ApplicationRejected, To: a.Email})
			return nil
		}
		from := a.Status
		a.Status = store.StatusUser
		if err := tx.SaveStanding(ctx, a); err != nil {
			return err
		}
		if err := tx.Append(ctx, event.New(a.ID, event.StatusChanged, event.StatusData{
			From:   string(from),
			To:     string(a.Status),
			Reason: "application_approved",
		})); err != nil {
			return err
		}
		msgs = append(msgs, notify.Message{Kind: notify.ApplicationApproved, To: a.Email})
		return nil
	})
	if err != nil {
		return fmt.Errorf("reviewing application: %w", err)
	}

	notify.Deliver(ctx, m.notifier, m.logger, msgs...)
	m.logger.InfoContext(ctx, "application reviewed",
		slog.String("application_id", id),
		slog.Bool("approved", approve),
	)
	return nil
}

// RequestQuit asks for the account to be closed.
func (m *Manager) RequestQuit(ctx context.Context, accountID, reason string) (*store.QuitRequest, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.RequestQuit",
		trace.WithAttributes(attribute.String("account_id", accountID)),
	)
	defer span.End()

	var q *store.QuitRequest
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetAccount(ctx, accountID); err != nil {
			return err
		}
		if err := noPending(tx.PendingQuitRequest(ctx, accountID)); err != nil {
			return err
		}
		q = &store.QuitRequest{AccountID: accountID, Reason: strings.TrimSpace(reason), Status: store.RequestPending}
		return tx.CreateQuitRequest(ctx, q)
	})
	if err != nil {
		return nil, fmt.Errorf("requesting quit: %w", err)
	}
	m.logger.InfoContext(ctx, "quit requested", slog.String("request_id", q.ID))
	return q, nil
}

// ReviewQuit approves or rejects a pending quit request. Approval deletes
// the account and its identity.
func (m *Manager) ReviewQuit(ctx context.Context, actor authz.Actor, id string, approve bool) error {
	ctx, span := m.tracer.Start(ctx, "Manager.ReviewQuit",
		trace.WithAttributes(
			attribute.String("request_id", id),
			attribute.Bool("approve", approve),
		),
	)
	defer span.End()

	if !authz.IsSuperuser(actor) {
		return ErrForbidden
	}

	var accountID string
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		q, err := tx.GetQuitRequest(ctx, id)
		if err != nil {
			return err
		}
		if q.Status != store.RequestPending {
			return ErrAlreadyReviewed
		}
		if err := tx.SetQuitRequestStatus(ctx, id, verdict(approve)); err != nil {
			return err
		}
		if err := m.reviewed(ctx, tx, id, "quit", approve, actor); err != nil {
			return err
		}
		if !approve {
			return nil
		}
		accountID = q.AccountID
		return ledger.CloseAccount(ctx, tx, q.AccountID, "quit")
	})
	if err != nil {
		return fmt.Errorf("reviewing quit request: %w", err)
	}

	if accountID != "" {
		if err := m.identity.DeleteIdentity(ctx, accountID); err != nil {
			m.logger.ErrorContext(ctx, "failed to delete identity",
				slog.String("account_id", accountID),
				slog.Any("error", err),
			)
		}
	}
	m.logger.InfoContext(ctx, "quit request reviewed",
		slog.String("request_id", id),
		slog.Bool("approved", approve),
	)
	return nil
}

// ReviewReport upholds or rejects a pending report. A rejected report no
// longer counts against the reportee's VIP standing.
func (m *Manager) ReviewReport(ctx context.Context, actor authz.Actor, id string, approve bool) error {
	ctx, span := m.tracer.Start(ctx, "Manager.ReviewReport",
		trace.WithAttributes(
			attribute.String("report_id", id),
			attribute.Bool("approve", approve),
		),
	)
	defer span.End()

	if !authz.IsSuperuser(actor) {
		return ErrForbidden
	}

	var msgs []notify.Message
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.GetReport(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != store.RequestPending {
			return ErrAlreadyReviewed
		}
		if err := tx.SetReportStatus(ctx, id, verdict(approve)); err != nil {
			return err
		}
		if err := m.reviewed(ctx, tx, id, "report", approve, actor); err != nil {
			return err
		}
		if approve {
			return nil
		}

		reporter, err := tx.GetAccount(ctx, r.ReporterID)
		if err != nil {
			return err
		}
		msgs = append(msgs, notify.Message{
			Kind:    notify.ReportRejected,
			To:      reporter.Email,
			Context: map[string]string{"report_id": id},
		})
		reportee, err := tx.GetAccount(ctx, r.ReporteeID)
		if err != nil {
			return err
		}
		change, err := ledger.ReviewVIP(ctx, tx, reportee.ID, m.money)
		if err != nil {
			return err
		}
		msgs = append(msgs, change.Notice(reportee.Email)...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("reviewing report: %w", err)
	}

	notify.Deliver(ctx, m.notifier, m.logger, msgs...)
	m.logger.InfoContext(ctx, "report reviewed",
		slog.String("report_id", id),
		slog.Bool("approved", approve),
	)
	return nil
}

func (m *Manager) reviewed(ctx context.Context, tx store.Tx, id, kind string, approve bool, actor authz.Actor) error {
	return tx.Append(ctx, event.New(id, event.RequestReviewed, event.ReviewData{
		Kind:     kind,
		Approved: approve,
		Reviewer: actor.AccountID,
	}))
}

func verdict(approve bool) store.RequestStatus {
	if approve {
		return store.RequestApproved
	}
	return store.RequestRejected
}

// noPending turns a pending-request lookup into ErrDuplicateRequest when
// one exists.
func noPending(_ any, err error) error {
	switch {
	case err == nil:
		return ErrDuplicateRequest
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return err
	}
}
