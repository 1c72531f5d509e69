// Package notify delivers user-facing notices. Delivery is best effort:
// callers dispatch after their unit of work commits and only log failures.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Kind identifies a notice template.
type Kind string

const (
	Outbid               Kind = "outbid"
	DeadlineApproaching  Kind = "deadline_24h"
	AuctionEnded         Kind = "auction_ended"
	BidWon               Kind = "bid_won"
	SaleConfirmed        Kind = "sale_confirmed"
	SaleRejected         Kind = "sale_rejected"
	ItemShipped          Kind = "item_shipped"
	ItemArrived          Kind = "item_arrived"
	ItemReceived         Kind = "item_received"
	AccountSuspended     Kind = "account_suspended"
	AccountReactivated   Kind = "account_reactivated"
	PermanentlySuspended Kind = "account_permanently_suspended"
	VIPEarned            Kind = "vip_earned"
	VIPRevoked           Kind = "vip_revoked"
	ReportReceived       Kind = "report_received"
	ReportRejected       Kind = "report_rejected"
	ItemsDeleted         Kind = "items_deleted"
	ApplicationApproved  Kind = "application_approved"
	ApplicationRejected  Kind = "application_rejected"
	LowBalance           Kind = "low_balance"
)

var subjects = map[Kind]string{
	Outbid:               "You have been outbid",
	DeadlineApproaching:  "An auction ends within 24 hours",
	AuctionEnded:         "Your auction has ended",
	BidWon:               "You won an auction",
	SaleConfirmed:        "The buyer confirmed your sale",
	SaleRejected:         "The buyer rejected your sale",
	ItemShipped:          "Your item has shipped",
	ItemArrived:          "Your item should have arrived",
	ItemReceived:         "The buyer received your item",
	AccountSuspended:     "Your account has been suspended",
	AccountReactivated:   "Your account has been reactivated",
	PermanentlySuspended: "Your account has been permanently suspended",
	VIPEarned:            "You are now a VIP",
	VIPRevoked:           "Your VIP status was revoked",
	ReportReceived:       "We received your report",
	ReportRejected:       "Your report was rejected",
	ItemsDeleted:         "Items you were involved with were removed",
	ApplicationApproved:  "Your application was approved",
	ApplicationRejected:  "Your application was rejected",
	LowBalance:           "Your balance is negative",
}

// Subject returns the one-line summary for k.
func (k Kind) Subject() string {
	if s, ok := subjects[k]; ok {
		return s
	}
	return string(k)
}

// Message is a single notice for one recipient.
type Message struct {
	Kind Kind
	// To is the recipient's email address.
	To      string
	Context map[string]string
}

// Text renders the message as plain text with context keys sorted.
func (m Message) Text() string {
	var b strings.Builder
	b.WriteString(m.Kind.Subject())
	for _, k := range slices.Sorted(maps.Keys(m.Context)) {
		fmt.Fprintf(&b, "\n%s: %s", k, m.Context[k])
	}
	return b.String()
}

// Notifier delivers messages.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Deliver sends each message through n, logging failures.
func Deliver(ctx context.Context, n Notifier, logger *slog.Logger, msgs ...Message) {
	for _, msg := range msgs {
		if err := n.Notify(ctx, msg); err != nil {
			logger.WarnContext(ctx, "notification failed",
				slog.String("kind", string(msg.Kind)),
				slog.String("to", msg.To),
				slog.Any("error", err),
			)
		}
	}
}

// Log writes notices to a structured logger.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a Log notifier.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, msg Message) error {
	attrs := []any{slog.String("kind", string(msg.Kind)), slog.String("to", msg.To)}
	for _, k := range slices.Sorted(maps.Keys(msg.Context)) {
		attrs = append(attrs, slog.String(k, msg.Context[k]))
	}
	l.logger.InfoContext(ctx, msg.Kind.Subject(), attrs...)
	return nil
}

// Recorder keeps every message it is given. It is safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	// Err, when set, is returned from Notify after recording.
	Err error
}

func (r *Recorder) Notify(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.Err
}

// Messages returns a copy of everything recorded.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.msgs)
}

// Of returns the recorded messages of kind k.
func (r *Recorder) Of(k Kind) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Kind == k {
			out = append(out, m)
		}
	}
	return out
}

// Reset forgets everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}
