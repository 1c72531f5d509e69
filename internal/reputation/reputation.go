// Package reputation turns ratings and reports into account standing.
// An average rating outside the accepted band costs a strike, and enough
// strikes delete the account.
package reputation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bluepenguin/internal/config"
	"github.com/jensholdgaard/bluepenguin/internal/event"
	"github.com/jensholdgaard/bluepenguin/internal/identity"
	"github.com/jensholdgaard/bluepenguin/internal/ledger"
	"github.com/jensholdgaard/bluepenguin/internal/notify"
	"github.com/jensholdgaard/bluepenguin/internal/store"
	"github.com/jensholdgaard/bluepenguin/internal/telemetry"
)

// Errors returned by reputation operations.
var (
	ErrInvalidScore  = errors.New("score must be between 1 and 5")
	ErrSelfRating    = errors.New("accounts cannot rate or report themselves")
	ErrInvalidReport = errors.New("report text is required")
	ErrNotSuspended  = errors.New("account is not suspended")
)

// Policy holds the rating thresholds.
type Policy struct {
	StrikeLimit int
	MinRatings  int
	Floor       decimal.Decimal
	Ceiling     decimal.Decimal
}

// PolicyFrom converts configured values.
func PolicyFrom(cfg config.MarketConfig) Policy {
	return Policy{
		StrikeLimit: cfg.StrikeLimit,
		MinRatings:  cfg.MinRatings,
		Floor:       decimal.NewFromFloat(cfg.RatingFloor),
		Ceiling:     decimal.NewFromFloat(cfg.RatingCeiling),
	}
}

// DefaultPolicy returns the policy for the default configuration.
func DefaultPolicy() Policy {
	return PolicyFrom(config.Defaults().Market)
}

// Manager records ratings and reports and applies their consequences.
type Manager struct {
	db       store.DB
	identity identity.Provider
	notifier notify.Notifier
	metrics  *telemetry.Metrics
	policy   Policy
	money    ledger.Policy
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewManager creates a new reputation Manager.
func NewManager(db store.DB, idp identity.Provider, notifier notify.Notifier, metrics *telemetry.Metrics, policy Policy, money ledger.Policy, logger *slog.Logger, tp trace.TracerProvider) *Manager {
	return &Manager{
		db:       db,
		identity: idp,
		notifier: notifier,
		metrics:  metrics,
		policy:   policy,
		money:    money,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/bluepenguin/internal/reputation"),
	}
}

// strike is the outcome of a rating that pushed an average out of band.
type strike struct {
	action  string
	deleted bool
}

// Rate records raterID's score for rateeID. Once the ratee has enough
// ratings, an average outside the band strikes the account.
func (m *Manager) Rate(ctx context.Context, raterID, rateeID string, score int) (*store.Rating, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Rate",
		trace.WithAttributes(
			attribute.String("rater_id", raterID),
			attribute.String("ratee_id", rateeID),
			attribute.Int("score", score),
		),
	)
	defer span.End()

	if score < 1 || score > 5 {
		return nil, ErrInvalidScore
	}
	if raterID == rateeID {
		return nil, ErrSelfRating
	}

	var (
		rating *store.Rating
		struck *strike
		msgs   []notify.Message
	)
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetAccount(ctx, raterID); err != nil {
			return err
		}
		ratee, err := tx.GetAccount(ctx, rateeID)
		if err != nil {
			return err
		}

		r := &store.Rating{RaterID: raterID, RateeID: rateeID, Score: score}
		if err := tx.CreateRating(ctx, r); err != nil {
			return err
		}
		if err := tx.Append(ctx, event.New(rateeID, event.RatingRecorded, event.RatingData{
			RaterID: raterID,
			Score:   score,
		})); err != nil {
			return err
		}
		rating = r

		ratings, err := tx.ListRatingsFor(ctx, rateeID)
		if err != nil {
			return err
		}
		if len(ratings) < m.policy.MinRatings {
			return nil
		}
		sum := 0
		for _, r := range ratings {
			sum += r.Score
		}
		avg := decimal.NewFromInt(int64(sum)).Div(decimal.NewFromInt(int64(len(ratings)))).Round(2)

		p, err := tx.GetProfile(ctx, rateeID)
		if err != nil {
			return err
		}
		p.AverageRating = avg
		if err := tx.SaveProfile(ctx, p); err != nil {
			return err
		}

		if !avg.LessThan(m.policy.Floor) && !avg.GreaterThan(m.policy.Ceiling) {
			return nil
		}
		locked, _, err := ledger.LockParty(ctx, tx, ratee.ID)
		if err != nil {
			return err
		}
		struck, msgs, err = m.strike(ctx, tx, locked, avg)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rating account: %w", err)
	}

	if struck != nil {
		m.metrics.Struck(ctx, struck.action)
		if struck.deleted {
			m.removeIdentity(ctx, rateeID)
		}
		m.logger.InfoContext(ctx, "account struck",
			slog.String("account_id", rateeID),
			slog.String("action", struck.action),
		)
	}
	notify.Deliver(ctx, m.notifier, m.logger, msgs...)
	return rating, nil
}

// strike demotes a VIP or suspends anyone else, deletes the ratee's
// listings and, at the strike limit, deletes the account.
func (m *Manager) strike(ctx context.Context, tx store.Tx, ratee *store.Account, avg decimal.Decimal) (*strike, []notify.Message, error) {
	wasVIP := ratee.Status == store.StatusVIP
	action := "suspended"
	if wasVIP {
		ratee.Status = store.StatusUser
		action = "vip_revoked"
	} else {
		ratee.IsSuspended = true
		ratee.SuspensionFinePaid = false
	}
	ratee.SuspensionStrikes++
	if err := tx.SaveStanding(ctx, ratee); err != nil {
		return nil, nil, err
	}

	deleted, affected, err := deleteListings(ctx, tx, ratee.ID)
	if err != nil {
		return nil, nil, err
	}

	var msgs []notify.Message
	for _, accountID := range slices.Sorted(maps.Keys(affected)) {
		a, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return nil, nil, err
		}
		msgs = append(msgs, notify.Message{
			Kind:    notify.ItemsDeleted,
			To:      a.Email,
			Context: map[string]string{"items": strings.Join(affected[accountID], ", ")},
		})
	}

	reason := "too generous"
	if avg.LessThan(m.policy.Floor) {
		reason = "too mean"
	}
	if err := tx.Append(ctx, event.New(ratee.ID, event.AccountStruck, event.StrikeData{
		Average: avg,
		Strikes: ratee.SuspensionStrikes,
		WasVIP:  wasVIP,
		Deleted: deleted,
	})); err != nil {
		return nil, nil, err
	}
	msgs = append(msgs, notify.Message{
		Kind: notify.AccountSuspended,
		To:   ratee.Email,
		Context: map[string]string{
			"reason":  reason,
			"average": avg.StringFixed(2),
			"strikes": strconv.Itoa(ratee.SuspensionStrikes),
			"was_vip": strconv.FormatBool(wasVIP),
		},
	})

	s := &strike{action: action}
	if ratee.SuspensionStrikes >= m.policy.StrikeLimit {
		if err := ledger.CloseAccount(ctx, tx, ratee.ID, "strike_limit"); err != nil {
			return nil, nil, err
		}
		msgs = append(msgs, notify.Message{Kind: notify.PermanentlySuspended, To: ratee.Email})
		s.action = "deleted"
		s.deleted = true
	}
	return s, msgs, nil
}

// deleteListings removes every item the seller listed and returns the
// deleted IDs plus, per affected account, the titles it lost. Bidders on
// open items and buyers of sales not yet received are affected.
func deleteListings(ctx context.Context, tx store.Tx, sellerID string) ([]string, map[string][]string, error) {
	items, err := tx.ListItemsBySeller(ctx, sellerID)
	if err != nil {
		return nil, nil, err
	}
	sales, err := tx.ListTransactionsBySeller(ctx, sellerID)
	if err != nil {
		return nil, nil, err
	}
	saleByBid := make(map[string]store.Transaction, len(sales))
	for _, s := range sales {
		saleByBid[s.BidID] = s
	}

	var deleted []string
	affected := map[string][]string{}
	for _, it := range items {
		switch it.Availability {
		case store.Available:
			bids, err := tx.ListBidsByItem(ctx, it.ID)
			if err != nil {
				return nil, nil, err
			}
			for _, bidder := range distinctBidders(bids) {
				affected[bidder] = append(affected[bidder], it.Title)
			}
		case store.Sold:
			if it.WinningBidID == nil {
				break
			}
			if s, ok := saleByBid[*it.WinningBidID]; ok && s.Status != store.TxReceived {
				affected[s.BuyerID] = append(affected[s.BuyerID], it.Title)
			}
		}
		if err := tx.DeleteItem(ctx, it.ID); err != nil {
			return nil, nil, err
		}
		if err := tx.Append(ctx, event.New(it.ID, event.ItemsDeleted, event.StatusData{
			From:   string(it.Availability),
			Reason: "seller_struck",
		})); err != nil {
			return nil, nil, err
		}
		deleted = append(deleted, it.ID)
	}
	return deleted, affected, nil
}

func distinctBidders(bids []store.Bid) []string {
	var out []string
	for _, b := range bids {
		if !slices.Contains(out, b.BidderID) {
			out = append(out, b.BidderID)
		}
	}
	return out
}

func (m *Manager) removeIdentity(ctx context.Context, accountID string) {
	if err := m.identity.DeleteIdentity(ctx, accountID); err != nil {
		m.logger.ErrorContext(ctx, "failed to delete identity",
			slog.String("account_id", accountID),
			slog.Any("error", err),
		)
	}
}

// Report files a complaint against reporteeID. An open report costs a VIP
// their status straight away.
func (m *Manager) Report(ctx context.Context, reporterID, reporteeID, text string) (*store.Report, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Report",
		trace.WithAttributes(
			attribute.String("reporter_id", reporterID),
			attribute.String("reportee_id", reporteeID),
		),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrInvalidReport
	}
	if reporterID == reporteeID {
		return nil, ErrSelfRating
	}

	var (
		report *store.Report
		msgs   []notify.Message
	)
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		reporter, err := tx.GetAccount(ctx, reporterID)
		if err != nil {
			return err
		}
		reportee, err := tx.GetAccount(ctx, reporteeID)
		if err != nil {
			return err
		}

		r := &store.Report{ReporterID: reporterID, ReporteeID: reporteeID, Text: text, Status: store.RequestPending}
		if err := tx.CreateReport(ctx, r); err != nil {
			return err
		}
		if err := tx.Append(ctx, event.New(reporteeID, event.ReportFiled, event.ReportData{
			ReportID:   r.ID,
			ReporterID: reporterID,
		})); err != nil {
			return err
		}

		change, err := ledger.ReviewVIP(ctx, tx, reporteeID, m.money)
		if err != nil {
			return err
		}
		msgs = append(msgs, change.Notice(reportee.Email)...)
		msgs = append(msgs, notify.Message{
			Kind:    notify.ReportReceived,
			To:      reporter.Email,
			Context: map[string]string{"report_id": r.ID},
		})
		report = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("filing report: %w", err)
	}

	notify.Deliver(ctx, m.notifier, m.logger, msgs...)
	m.logger.InfoContext(ctx, "report filed",
		slog.String("report_id", report.ID),
		slog.String("reportee_id", reporteeID),
	)
	return report, nil
}

// PayFine charges the suspension fine and reactivates the account. The
// balance may go negative.
func (m *Manager) PayFine(ctx context.Context, accountID string) (decimal.Decimal, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.PayFine",
		trace.WithAttributes(attribute.String("account_id", accountID)),
	)
	defer span.End()

	var (
		balance decimal.Decimal
		msgs    []notify.Message
	)
	err := m.db.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if !a.IsSuspended {
			return ErrNotSuspended
		}
		if balance, err = ledger.ChargeFine(ctx, tx, accountID, m.money.SuspensionFine); err != nil {
			return err
		}
		a.IsSuspended = false
		a.SuspensionFinePaid = true
		if err := tx.SaveStanding(ctx, a); err != nil {
			return err
		}
		if err := tx.Append(ctx, event.New(accountID, event.StatusChanged, event.StatusData{
			From:   "suspended",
			To:     string(a.Status),
			Reason: "fine_paid",
		})); err != nil {
			return err
		}

		if balance.IsNegative() {
			msgs = append(msgs, notify.Message{
				Kind:    notify.LowBalance,
				To:      a.Email,
				Context: map[string]string{"balance": balance.StringFixed(2)},
			})
		}
		msgs = append(msgs, notify.Message{Kind: notify.AccountReactivated, To: a.Email})
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("paying fine: %w", err)
	}

	notify.Deliver(ctx, m.notifier, m.logger, msgs...)
	m.logger.InfoContext(ctx, "suspension fine paid",
		slog.String("account_id", accountID),
		slog.String("balance", balance.StringFixed(2)),
	)
	return balance, nil
}
