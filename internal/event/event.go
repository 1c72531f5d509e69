// Package event defines the append-only audit log written alongside every
// settlement state change.
package event

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Type identifies an event kind.
type Type string

const (
	ItemListed      Type = "item.listed"
	ItemExpired     Type = "item.expired"
	ItemSold        Type = "item.sold"
	ItemsDeleted    Type = "item.deleted"
	BidPlaced       Type = "bid.placed"
	WinnerSelected  Type = "bid.winner_selected"
	WinnerRejected  Type = "bid.winner_rejected"
	ItemShipped     Type = "transaction.shipped"
	ItemReceived    Type = "transaction.received"
	FundsMoved      Type = "ledger.transferred"
	PointsRedeemed  Type = "ledger.points_redeemed"
	FinePaid        Type = "ledger.fine_paid"
	AccountCreated  Type = "account.created"
	AccountStruck   Type = "account.struck"
	AccountDeleted  Type = "account.deleted"
	StatusChanged   Type = "account.status_changed"
	RatingRecorded  Type = "rating.recorded"
	ReportFiled     Type = "report.filed"
	RequestReviewed Type = "request.reviewed"
)

// Event represents a single domain event.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// New builds an event for aggregateID with data marshalled as JSON.
// Version is left zero; stores assign the next version on append.
func New(aggregateID string, t Type, data any) Event {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	return Event{AggregateID: aggregateID, Type: t, Data: raw}
}

// BidPlacedData is the payload for BidPlaced events.
type BidPlacedData struct {
	BidID    string          `json:"bid_id"`
	BidderID string          `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// ItemListedData is the payload for ItemListed events.
type ItemListedData struct {
	SellerID string    `json:"seller_id"`
	Title    string    `json:"title"`
	Deadline time.Time `json:"deadline"`
}

// WinnerData is the payload for winner selection, rejection and sale events.
type WinnerData struct {
	BidID    string          `json:"bid_id"`
	BuyerID  string          `json:"buyer_id"`
	Amount   decimal.Decimal `json:"amount"`
	TxID     string          `json:"transaction_id,omitempty"`
	Discount decimal.Decimal `json:"discount"`
}

// TransferData is the payload for ledger events.
type TransferData struct {
	From   string          `json:"from,omitempty"`
	To     string          `json:"to,omitempty"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// StrikeData is the payload for AccountStruck events.
type StrikeData struct {
	Average decimal.Decimal `json:"average"`
	Strikes int             `json:"strikes"`
	WasVIP  bool            `json:"was_vip"`
	Deleted []string        `json:"deleted_items,omitempty"`
}

// RatingData is the payload for RatingRecorded events.
type RatingData struct {
	RaterID string `json:"rater_id"`
	Score   int    `json:"score"`
}

// ReportData is the payload for ReportFiled events.
type ReportData struct {
	ReportID   string `json:"report_id"`
	ReporterID string `json:"reporter_id"`
}

// StatusData is the payload for StatusChanged events.
type StatusData struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// ReviewData is the payload for RequestReviewed events.
type ReviewData struct {
	Kind     string `json:"kind"`
	Approved bool   `json:"approved"`
	Reviewer string `json:"reviewer"`
}
