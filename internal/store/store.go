package store

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bluepenguin/internal/event"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness rule.
	ErrConflict = errors.New("conflict")
)

// AccountStatus is the role of an account.
type AccountStatus string

const (
	StatusVisitor   AccountStatus = "V"
	StatusUser      AccountStatus = "U"
	StatusVIP       AccountStatus = "VIP"
	StatusSuperuser AccountStatus = "S"
)

// CanTrade reports whether the status allows bidding and listing.
func (s AccountStatus) CanTrade() bool {
	return s == StatusUser || s == StatusVIP
}

// Availability is the sale state of an item.
type Availability string

const (
	Available Availability = "A"
	Sold      Availability = "S"
	Expired   Availability = "E"
)

// BidRank is a bid's position among the item's bids.
type BidRank string

const (
	RankFirst  BidRank = "1st"
	RankSecond BidRank = "2nd"
	RankThird  BidRank = "3rd"
	RankOther  BidRank = "F"
)

// WinnerStatus tracks a bid through winner selection.
type WinnerStatus string

const (
	WinnerIneligible WinnerStatus = "I"
	WinnerPending    WinnerStatus = "P"
	WinnerApproved   WinnerStatus = "A"
	WinnerRejected   WinnerStatus = "R"
)

// TransactionStatus is the shipping state of a settled sale.
type TransactionStatus string

const (
	TxPending  TransactionStatus = "P"
	TxShipped  TransactionStatus = "C"
	TxReceived TransactionStatus = "R"
)

// RequestStatus is the review state of a moderation request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "P"
	RequestApproved RequestStatus = "A"
	RequestRejected RequestStatus = "R"
)

// Account is the identity wrapper holding balance and standing.
type Account struct {
	ID                 string          `db:"id" json:"id"`
	Email              string          `db:"email" json:"email"`
	Status             AccountStatus   `db:"status" json:"status"`
	Balance            decimal.Decimal `db:"balance" json:"balance"`
	IsSuspended        bool            `db:"is_suspended" json:"is_suspended"`
	SuspensionFinePaid bool            `db:"suspension_fine_paid" json:"suspension_fine_paid"`
	SuspensionStrikes  int             `db:"suspension_strikes" json:"suspension_strikes"`
	Points             int64           `db:"points" json:"points"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// Address is an account's shipping address.
type Address struct {
	AccountID     string `db:"account_id" json:"-"`
	StreetAddress string `db:"street_address" json:"street_address"`
	AddressLine2  string `db:"address_line_2" json:"address_line_2"`
	City          string `db:"city" json:"city"`
	State         string `db:"state" json:"state"`
	Zip           string `db:"zip" json:"zip"`
	Country       string `db:"country" json:"country"`
}

// Profile is the public face of an account. It shares the account's ID.
type Profile struct {
	AccountID     string          `db:"account_id" json:"account_id"`
	DisplayName   string          `db:"display_name" json:"display_name"`
	AvatarURL     string          `db:"avatar_url" json:"avatar_url"`
	Description   string          `db:"description" json:"description"`
	AverageRating decimal.Decimal `db:"average_rating" json:"average_rating"`
	ItemCount     int             `db:"item_count" json:"item_count"`
}

// Item is a listed good up for auction.
type Item struct {
	ID               string          `db:"id" json:"id"`
	SellerID         string          `db:"seller_id" json:"seller_id"`
	Title            string          `db:"title" json:"title"`
	Description      string          `db:"description" json:"description"`
	ImageURLs        pq.StringArray  `db:"image_urls" json:"image_urls"`
	SellingPrice     decimal.Decimal `db:"selling_price" json:"selling_price"`
	HighestBid       decimal.Decimal `db:"highest_bid" json:"highest_bid"`
	MinimumBid       decimal.Decimal `db:"minimum_bid" json:"minimum_bid"`
	MaximumBid       decimal.Decimal `db:"maximum_bid" json:"maximum_bid"`
	Deadline         time.Time       `db:"deadline" json:"deadline"`
	Availability     Availability    `db:"availability" json:"availability"`
	TotalBids        int             `db:"total_bids" json:"total_bids"`
	WinningBidID     *string         `db:"winning_bid_id" json:"winning_bid_id"`
	DeadlineNoticeAt *time.Time      `db:"deadline_notice_at" json:"deadline_notice_at"`
	EndNoticeAt      *time.Time      `db:"end_notice_at" json:"end_notice_at"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// Bid is an offer on an item. Only Rank and WinnerStatus change after creation.
type Bid struct {
	ID           string          `db:"id" json:"id"`
	ItemID       string          `db:"item_id" json:"item_id"`
	BidderID     string          `db:"bidder_id" json:"bidder_id"`
	Price        decimal.Decimal `db:"price" json:"price"`
	TimeOfBid    time.Time       `db:"time_of_bid" json:"time_of_bid"`
	Rank         BidRank         `db:"rank" json:"rank"`
	WinnerStatus WinnerStatus    `db:"winner_status" json:"winner_status"`
}

// Transaction records a settled sale and its shipment.
type Transaction struct {
	ID                string              `db:"id" json:"id"`
	SellerID          string              `db:"seller_id" json:"seller_id"`
	BuyerID           string              `db:"buyer_id" json:"buyer_id"`
	BidID             string              `db:"bid_id" json:"bid_id"`
	Amount            decimal.Decimal     `db:"amount" json:"amount"`
	Status            TransactionStatus   `db:"status" json:"status"`
	Carrier           *string             `db:"carrier" json:"carrier"`
	ShippingCost      decimal.NullDecimal `db:"shipping_cost" json:"shipping_cost"`
	EstimatedDelivery *time.Time          `db:"estimated_delivery" json:"estimated_delivery"`
	ArrivalNoticeAt   *time.Time          `db:"arrival_notice_at" json:"arrival_notice_at"`
	CreatedAt         time.Time           `db:"created_at" json:"created_at"`
}

// Rating is one account's 1-5 score of another.
type Rating struct {
	ID        string    `db:"id" json:"id"`
	RaterID   string    `db:"rater_id" json:"rater_id"`
	RateeID   string    `db:"ratee_id" json:"ratee_id"`
	Score     int       `db:"score" json:"score"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Report is a complaint filed against an account.
type Report struct {
	ID         string        `db:"id" json:"id"`
	ReporterID string        `db:"reporter_id" json:"reporter_id"`
	ReporteeID string        `db:"reportee_id" json:"reportee_id"`
	Text       string        `db:"text" json:"text"`
	Status     RequestStatus `db:"status" json:"status"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}

// QuitRequest asks a superuser to close an account.
type QuitRequest struct {
	ID        string        `db:"id" json:"id"`
	AccountID string        `db:"account_id" json:"account_id"`
	Reason    string        `db:"reason" json:"reason"`
	Status    RequestStatus `db:"status" json:"status"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// UserApplication asks a superuser to promote a visitor to user.
type UserApplication struct {
	ID               string        `db:"id" json:"id"`
	AccountID        string        `db:"account_id" json:"account_id"`
	Status           RequestStatus `db:"status" json:"status"`
	CaptchaCompleted bool          `db:"captcha_completed" json:"captcha_completed"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
}

// AccountRepository defines account persistence operations.
type AccountRepository interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	// LockAccount returns the account and holds a lock on its row until
	// the surrounding transaction ends. Callers that also lock items take
	// the item locks first.
	LockAccount(ctx context.Context, id string) (*Account, error)
	// SaveStanding persists status, suspension fields and points.
	// It never writes the balance.
	SaveStanding(ctx context.Context, a *Account) error
	// AdjustBalance adds delta to the balance and returns the new balance.
	AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error)
	// DeleteAccount removes the account and everything it owns.
	DeleteAccount(ctx context.Context, id string) error
	GetAddress(ctx context.Context, accountID string) (*Address, error)
	SetAddress(ctx context.Context, a *Address) error
}

// ProfileRepository defines profile persistence operations.
type ProfileRepository interface {
	CreateProfile(ctx context.Context, p *Profile) error
	GetProfile(ctx context.Context, accountID string) (*Profile, error)
	SaveProfile(ctx context.Context, p *Profile) error
}

// ItemRepository defines item persistence operations.
type ItemRepository interface {
	CreateItem(ctx context.Context, it *Item) error
	GetItem(ctx context.Context, id string) (*Item, error)
	// LockItem returns the item and holds an exclusive lock on its row
	// until the surrounding transaction ends.
	LockItem(ctx context.Context, id string) (*Item, error)
	SaveItem(ctx context.Context, it *Item) error
	// DeleteItem removes the item and its bids.
	DeleteItem(ctx context.Context, id string) error
	ListItemsBySeller(ctx context.Context, sellerID string) ([]Item, error)
	// ListAvailableDueBy returns Available items with a deadline at or
	// before t, earliest deadline first.
	ListAvailableDueBy(ctx context.Context, t time.Time) ([]Item, error)
}

// BidRepository defines bid persistence operations.
type BidRepository interface {
	CreateBid(ctx context.Context, b *Bid) error
	GetBid(ctx context.Context, id string) (*Bid, error)
	// ListBidsByItem returns bids highest price first, earliest first
	// among equal prices.
	ListBidsByItem(ctx context.Context, itemID string) ([]Bid, error)
	ListBidsByBidder(ctx context.Context, bidderID string) ([]Bid, error)
	// SaveBidStatus persists Rank and WinnerStatus.
	SaveBidStatus(ctx context.Context, b *Bid) error
}

// TransactionRepository defines settled-sale persistence operations.
type TransactionRepository interface {
	CreateTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	SaveTransaction(ctx context.Context, t *Transaction) error
	// CountTransactions counts sales where the account is seller or buyer.
	CountTransactions(ctx context.Context, accountID string) (int, error)
	ListTransactionsBySeller(ctx context.Context, sellerID string) ([]Transaction, error)
	// ListShippedDueBy returns shipped transactions whose estimated
	// delivery is at or before t and whose arrival was not yet announced.
	ListShippedDueBy(ctx context.Context, t time.Time) ([]Transaction, error)
}

// RatingRepository defines rating persistence operations.
type RatingRepository interface {
	CreateRating(ctx context.Context, r *Rating) error
	ListRatingsFor(ctx context.Context, rateeID string) ([]Rating, error)
}

// RequestRepository defines moderation request persistence operations.
type RequestRepository interface {
	CreateReport(ctx context.Context, r *Report) error
	GetReport(ctx context.Context, id string) (*Report, error)
	SetReportStatus(ctx context.Context, id string, s RequestStatus) error
	// CountOpenReports counts reports against the account that were not rejected.
	CountOpenReports(ctx context.Context, reporteeID string) (int, error)

	CreateQuitRequest(ctx context.Context, q *QuitRequest) error
	GetQuitRequest(ctx context.Context, id string) (*QuitRequest, error)
	SetQuitRequestStatus(ctx context.Context, id string, s RequestStatus) error
	// PendingQuitRequest returns ErrNotFound when the account has none.
	PendingQuitRequest(ctx context.Context, accountID string) (*QuitRequest, error)

	CreateApplication(ctx context.Context, a *UserApplication) error
	GetApplication(ctx context.Context, id string) (*UserApplication, error)
	SetApplicationStatus(ctx context.Context, id string, s RequestStatus) error
	// PendingApplication returns ErrNotFound when the account has none.
	PendingApplication(ctx context.Context, accountID string) (*UserApplication, error)
}

// Tx is a unit of work. Everything written through it commits or rolls
// back together, including appended events.
type Tx interface {
	AccountRepository
	ProfileRepository
	ItemRepository
	BidRepository
	TransactionRepository
	RatingRepository
	RequestRepository
	event.Store
}

// DB runs units of work.
type DB interface {
	// InTx runs fn in a transaction. A non-nil error from fn rolls back.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
