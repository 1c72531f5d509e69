package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bluepenguin/internal/clock"
	"github.com/jensholdgaard/bluepenguin/internal/event"
	"github.com/jensholdgaard/bluepenguin/internal/store"
)

// ErrConflict is returned when a write violates a uniqueness rule.
var ErrConflict = store.ErrConflict

// Tx implements store.Tx over a private copy of the data.
type Tx struct {
	data  *state
	clock clock.Clock
}

var _ store.Tx = (*Tx)(nil)

func notFound(what, id string) error {
	return fmt.Errorf("getting %s %s: %w", what, id, store.ErrNotFound)
}

// Accounts

func (t *Tx) CreateAccount(_ context.Context, a *store.Account) error {
	for _, existing := range t.data.accounts {
		if existing.Email == a.Email {
			return fmt.Errorf("creating account: email %q: %w", a.Email, ErrConflict)
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = store.StatusVisitor
	}
	now := t.clock.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Balance = a.Balance.Round(2)
	t.data.accounts[a.ID] = *a
	return nil
}

func (t *Tx) GetAccount(_ context.Context, id string) (*store.Account, error) {
	a, ok := t.data.accounts[id]
	if !ok {
		return nil, notFound("account", id)
	}
	return &a, nil
}

// LockAccount is GetAccount; the whole unit of work already holds the store lock.
func (t *Tx) LockAccount(ctx context.Context, id string) (*store.Account, error) {
	return t.GetAccount(ctx, id)
}

func (t *Tx) GetAccountByEmail(_ context.Context, email string) (*store.Account, error) {
	for _, a := range t.data.accounts {
		if a.Email == email {
			return &a, nil
		}
	}
	return nil, notFound("account by email", email)
}

func (t *Tx) SaveStanding(_ context.Context, a *store.Account) error {
	cur, ok := t.data.accounts[a.ID]
	if !ok {
		return notFound("account", a.ID)
	}
	cur.Status = a.Status
	cur.IsSuspended = a.IsSuspended
	cur.SuspensionFinePaid = a.SuspensionFinePaid
	cur.SuspensionStrikes = a.SuspensionStrikes
	cur.Points = a.Points
	cur.UpdatedAt = t.clock.Now().UTC()
	a.UpdatedAt = cur.UpdatedAt
	t.data.accounts[a.ID] = cur
	return nil
}

func (t *Tx) AdjustBalance(_ context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error) {
	cur, ok := t.data.accounts[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("adjusting balance: %w", notFound("account", id))
	}
	cur.Balance = cur.Balance.Add(delta).Round(2)
	cur.UpdatedAt = t.clock.Now().UTC()
	t.data.accounts[id] = cur
	return cur.Balance, nil
}

func (t *Tx) DeleteAccount(_ context.Context, id string) error {
	if _, ok := t.data.accounts[id]; !ok {
		return fmt.Errorf("deleting account: %w", notFound("account", id))
	}
	t.data.deleteAccount(id)
	return nil
}

func (t *Tx) GetAddress(_ context.Context, accountID string) (*store.Address, error) {
	a, ok := t.data.addresses[accountID]
	if !ok {
		return nil, notFound("address", accountID)
	}
	return &a, nil
}

func (t *Tx) SetAddress(_ context.Context, a *store.Address) error {
	if _, ok := t.data.accounts[a.AccountID]; !ok {
		return fmt.Errorf("setting address: %w", notFound("account", a.AccountID))
	}
	t.data.addresses[a.AccountID] = *a
	return nil
}

// Profiles

func (t *Tx) CreateProfile(_ context.Context, p *store.Profile) error {
	if _, ok := t.data.accounts[p.AccountID]; !ok {
		return fmt.Errorf("creating profile: %w", notFound("account", p.AccountID))
	}
	if _, ok := t.data.profiles[p.AccountID]; ok {
		return fmt.Errorf("creating profile %s: %w", p.AccountID, ErrConflict)
	}
	t.data.profiles[p.AccountID] = *p
	return nil
}

func (t *Tx) GetProfile(_ context.Context, accountID string) (*store.Profile, error) {
	p, ok := t.data.profiles[accountID]
	if !ok {
		return nil, notFound("profile", accountID)
	}
	return &p, nil
}

func (t *Tx) SaveProfile(_ context.Context, p *store.Profile) error {
	if _, ok := t.data.profiles[p.AccountID]; !ok {
		return fmt.Errorf("saving profile: %w", notFound("profile", p.AccountID))
	}
	cp := *p
	cp.AverageRating = cp.AverageRating.Round(2)
	t.data.profiles[p.AccountID] = cp
	return nil
}

// Items

func (t *Tx) CreateItem(_ context.Context, it *store.Item) error {
	if _, ok := t.data.accounts[it.SellerID]; !ok {
		return fmt.Errorf("creating item: %w", notFound("account", it.SellerID))
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.Availability == "" {
		it.Availability = store.Available
	}
	if it.ImageURLs == nil {
		it.ImageURLs = []string{}
	}
	it.CreatedAt = t.clock.Now().UTC()
	t.data.items[it.ID] = copyItem(*it)
	return nil
}

func (t *Tx) GetItem(_ context.Context, id string) (*store.Item, error) {
	it, ok := t.data.items[id]
	if !ok {
		return nil, notFound("item", id)
	}
	cp := copyItem(it)
	return &cp, nil
}

// LockItem is GetItem; the whole unit of work already holds the store lock.
func (t *Tx) LockItem(ctx context.Context, id string) (*store.Item, error) {
	return t.GetItem(ctx, id)
}

func (t *Tx) SaveItem(_ context.Context, it *store.Item) error {
	if _, ok := t.data.items[it.ID]; !ok {
		return fmt.Errorf("saving item: %w", notFound("item", it.ID))
	}
	if it.WinningBidID != nil {
		if _, ok := t.data.bids[*it.WinningBidID]; !ok {
			return fmt.Errorf("saving item: winning %w", notFound("bid", *it.WinningBidID))
		}
	}
	t.data.items[it.ID] = copyItem(*it)
	return nil
}

func (t *Tx) DeleteItem(_ context.Context, id string) error {
	if _, ok := t.data.items[id]; !ok {
		return fmt.Errorf("deleting item: %w", notFound("item", id))
	}
	t.data.deleteItem(id)
	return nil
}

func (t *Tx) ListItemsBySeller(_ context.Context, sellerID string) ([]store.Item, error) {
	var out []store.Item
	for _, it := range t.data.items {
		if it.SellerID == sellerID {
			out = append(out, copyItem(it))
		}
	}
	slices.SortFunc(out, func(a, b store.Item) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (t *Tx) ListAvailableDueBy(_ context.Context, before time.Time) ([]store.Item, error) {
	var out []store.Item
	for _, it := range t.data.items {
		if it.Availability == store.Available && !it.Deadline.After(before) {
			out = append(out, copyItem(it))
		}
	}
	slices.SortFunc(out, func(a, b store.Item) int {
		return cmp.Or(a.Deadline.Compare(b.Deadline), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// Bids

func (t *Tx) CreateBid(_ context.Context, b *store.Bid) error {
	if _, ok := t.data.items[b.ItemID]; !ok {
		return fmt.Errorf("creating bid: %w", notFound("item", b.ItemID))
	}
	if _, ok := t.data.accounts[b.BidderID]; !ok {
		return fmt.Errorf("creating bid: %w", notFound("account", b.BidderID))
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Rank == "" {
		b.Rank = store.RankOther
	}
	if b.WinnerStatus == "" {
		b.WinnerStatus = store.WinnerIneligible
	}
	if b.TimeOfBid.IsZero() {
		b.TimeOfBid = t.clock.Now().UTC()
	}
	b.Price = b.Price.Round(2)
	t.data.bids[b.ID] = *b
	return nil
}

func (t *Tx) GetBid(_ context.Context, id string) (*store.Bid, error) {
	b, ok := t.data.bids[id]
	if !ok {
		return nil, notFound("bid", id)
	}
	return &b, nil
}

func (t *Tx) ListBidsByItem(_ context.Context, itemID string) ([]store.Bid, error) {
	var out []store.Bid
	for _, b := range t.data.bids {
		if b.ItemID == itemID {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b store.Bid) int {
		return cmp.Or(
			b.Price.Cmp(a.Price),
			a.TimeOfBid.Compare(b.TimeOfBid),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return out, nil
}

func (t *Tx) ListBidsByBidder(_ context.Context, bidderID string) ([]store.Bid, error) {
	var out []store.Bid
	for _, b := range t.data.bids {
		if b.BidderID == bidderID {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b store.Bid) int {
		return cmp.Or(cmp.Compare(a.ItemID, b.ItemID), a.TimeOfBid.Compare(b.TimeOfBid))
	})
	return out, nil
}

func (t *Tx) SaveBidStatus(_ context.Context, b *store.Bid) error {
	cur, ok := t.data.bids[b.ID]
	if !ok {
		return fmt.Errorf("saving bid status: %w", notFound("bid", b.ID))
	}
	cur.Rank = b.Rank
	cur.WinnerStatus = b.WinnerStatus
	t.data.bids[b.ID] = cur
	return nil
}

// Transactions

func (t *Tx) CreateTransaction(_ context.Context, tr *store.Transaction) error {
	if _, ok := t.data.bids[tr.BidID]; !ok {
		return fmt.Errorf("creating transaction: %w", notFound("bid", tr.BidID))
	}
	for _, existing := range t.data.transactions {
		if existing.BidID == tr.BidID {
			return fmt.Errorf("creating transaction: bid %s: %w", tr.BidID, ErrConflict)
		}
	}
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	if tr.Status == "" {
		tr.Status = store.TxPending
	}
	tr.CreatedAt = t.clock.Now().UTC()
	t.data.transactions[tr.ID] = *tr
	return nil
}

func (t *Tx) GetTransaction(_ context.Context, id string) (*store.Transaction, error) {
	tr, ok := t.data.transactions[id]
	if !ok {
		return nil, notFound("transaction", id)
	}
	return &tr, nil
}

func (t *Tx) SaveTransaction(_ context.Context, tr *store.Transaction) error {
	cur, ok := t.data.transactions[tr.ID]
	if !ok {
		return fmt.Errorf("saving transaction: %w", notFound("transaction", tr.ID))
	}
	cur.Status = tr.Status
	cur.Carrier = tr.Carrier
	cur.ShippingCost = tr.ShippingCost
	cur.EstimatedDelivery = tr.EstimatedDelivery
	cur.ArrivalNoticeAt = tr.ArrivalNoticeAt
	t.data.transactions[tr.ID] = cur
	return nil
}

func (t *Tx) CountTransactions(_ context.Context, accountID string) (int, error) {
	n := 0
	for _, tr := range t.data.transactions {
		if tr.SellerID == accountID || tr.BuyerID == accountID {
			n++
		}
	}
	return n, nil
}

func (t *Tx) ListTransactionsBySeller(_ context.Context, sellerID string) ([]store.Transaction, error) {
	var out []store.Transaction
	for _, tr := range t.data.transactions {
		if tr.SellerID == sellerID {
			out = append(out, tr)
		}
	}
	slices.SortFunc(out, func(a, b store.Transaction) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (t *Tx) ListShippedDueBy(_ context.Context, before time.Time) ([]store.Transaction, error) {
	var out []store.Transaction
	for _, tr := range t.data.transactions {
		if tr.Status == store.TxShipped && tr.ArrivalNoticeAt == nil &&
			tr.EstimatedDelivery != nil && !tr.EstimatedDelivery.After(before) {
			out = append(out, tr)
		}
	}
	slices.SortFunc(out, func(a, b store.Transaction) int {
		return cmp.Or(a.EstimatedDelivery.Compare(*b.EstimatedDelivery), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// Ratings

func (t *Tx) CreateRating(_ context.Context, r *store.Rating) error {
	if r.RaterID == r.RateeID {
		return fmt.Errorf("creating rating: rater is ratee: %w", ErrConflict)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = t.clock.Now().UTC()
	t.data.ratings[r.ID] = *r
	return nil
}

func (t *Tx) ListRatingsFor(_ context.Context, rateeID string) ([]store.Rating, error) {
	var out []store.Rating
	for _, r := range t.data.ratings {
		if r.RateeID == rateeID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b store.Rating) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// Requests

func (t *Tx) CreateReport(_ context.Context, r *store.Report) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = store.RequestPending
	}
	r.CreatedAt = t.clock.Now().UTC()
	t.data.reports[r.ID] = *r
	return nil
}

func (t *Tx) GetReport(_ context.Context, id string) (*store.Report, error) {
	r, ok := t.data.reports[id]
	if !ok {
		return nil, notFound("report", id)
	}
	return &r, nil
}

func (t *Tx) SetReportStatus(_ context.Context, id string, s store.RequestStatus) error {
	r, ok := t.data.reports[id]
	if !ok {
		return fmt.Errorf("setting report status: %w", notFound("report", id))
	}
	r.Status = s
	t.data.reports[id] = r
	return nil
}

func (t *Tx) CountOpenReports(_ context.Context, reporteeID string) (int, error) {
	n := 0
	for _, r := range t.data.reports {
		if r.ReporteeID == reporteeID && r.Status != store.RequestRejected {
			n++
		}
	}
	return n, nil
}

func (t *Tx) CreateQuitRequest(_ context.Context, q *store.QuitRequest) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.Status == "" {
		q.Status = store.RequestPending
	}
	q.CreatedAt = t.clock.Now().UTC()
	t.data.quits[q.ID] = *q
	return nil
}

func (t *Tx) GetQuitRequest(_ context.Context, id string) (*store.QuitRequest, error) {
	q, ok := t.data.quits[id]
	if !ok {
		return nil, notFound("quit request", id)
	}
	return &q, nil
}

func (t *Tx) SetQuitRequestStatus(_ context.Context, id string, s store.RequestStatus) error {
	q, ok := t.data.quits[id]
	if !ok {
		return fmt.Errorf("setting quit request status: %w", notFound("quit request", id))
	}
	q.Status = s
	t.data.quits[id] = q
	return nil
}

func (t *Tx) PendingQuitRequest(_ context.Context, accountID string) (*store.QuitRequest, error) {
	for _, q := range t.data.quits {
		if q.AccountID == accountID && q.Status == store.RequestPending {
			return &q, nil
		}
	}
	return nil, notFound("pending quit request for", accountID)
}

func (t *Tx) CreateApplication(_ context.Context, a *store.UserApplication) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = store.RequestPending
	}
	a.CreatedAt = t.clock.Now().UTC()
	t.data.applications[a.ID] = *a
	return nil
}

func (t *Tx) GetApplication(_ context.Context, id string) (*store.UserApplication, error) {
	a, ok := t.data.applications[id]
	if !ok {
		return nil, notFound("application", id)
	}
	return &a, nil
}

func (t *Tx) SetApplicationStatus(_ context.Context, id string, s store.RequestStatus) error {
	a, ok := t.data.applications[id]
	if !ok {
		return fmt.Errorf("setting application status: %w", notFound("application", id))
	}
	a.Status = s
	t.data.applications[id] = a
	return nil
}

func (t *Tx) PendingApplication(_ context.Context, accountID string) (*store.UserApplication, error) {
	for _, a := range t.data.applications {
		if a.AccountID == accountID && a.Status == store.RequestPending {
			return &a, nil
		}
	}
	return nil, notFound("pending application for", accountID)
}

// Events

func (t *Tx) Append(_ context.Context, events ...event.Event) error {
	now := t.clock.Now().UTC()
	for _, e := range events {
		if e.Version == 0 {
			e.Version = t.data.nextVersion(e.AggregateID)
		} else {
			for _, existing := range t.data.events {
				if existing.AggregateID == e.AggregateID && existing.Version == e.Version {
					return fmt.Errorf("appending event (aggregate=%s, version=%d): %w", e.AggregateID, e.Version, ErrConflict)
				}
			}
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if len(e.Data) == 0 {
			e.Data = []byte(`{}`)
		}
		e.CreatedAt = now
		t.data.events = append(t.data.events, e)
	}
	return nil
}

func (t *Tx) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	return t.data.loadEvents(aggregateID), nil
}

func (t *Tx) LoadByType(_ context.Context, eventType event.Type) ([]event.Event, error) {
	return t.data.loadEventsByType(eventType), nil
}
