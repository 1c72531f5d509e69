package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jensholdgaard/bluepenguin/internal/store"
)

func (t *Tx) CreateItem(ctx context.Context, it *store.Item) error {
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
	_, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO items (id, seller_id, title, description, image_urls, selling_price, highest_bid,
		                    minimum_bid, maximum_bid, deadline, availability, total_bids, created_at)
		 VALUES (:id, :seller_id, :title, :description, :image_urls, :selling_price, :highest_bid,
		         :minimum_bid, :maximum_bid, :deadline, :availability, :total_bids, :created_at)`, it)
	if err != nil {
		return fmt.Errorf("creating item: %w", err)
	}
	return nil
}

func (t *Tx) GetItem(ctx context.Context, id string) (*store.Item, error) {
	var it store.Item
	if err := t.get(ctx, &it, "item "+id, `SELECT * FROM items WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &it, nil
}

func (t *Tx) LockItem(ctx context.Context, id string) (*store.Item, error) {
	var it store.Item
	if err := t.get(ctx, &it, "item "+id, `SELECT * FROM items WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &it, nil
}

func (t *Tx) SaveItem(ctx context.Context, it *store.Item) error {
	return t.exec(ctx, "saving item",
		`UPDATE items SET title = $1, description = $2, image_urls = $3, selling_price = $4,
		        highest_bid = $5, minimum_bid = $6, maximum_bid = $7, deadline = $8,
		        availability = $9, total_bids = $10, winning_bid_id = $11,
		        deadline_notice_at = $12, end_notice_at = $13
		 WHERE id = $14`,
		it.Title, it.Description, it.ImageURLs, it.SellingPrice, it.HighestBid, it.MinimumBid,
		it.MaximumBid, it.Deadline, it.Availability, it.TotalBids, it.WinningBidID,
		it.DeadlineNoticeAt, it.EndNoticeAt, it.ID)
}

func (t *Tx) DeleteItem(ctx context.Context, id string) error {
	return t.exec(ctx, "deleting item", `DELETE FROM items WHERE id = $1`, id)
}

func (t *Tx) ListItemsBySeller(ctx context.Context, sellerID string) ([]store.Item, error) {
	var items []store.Item
	err := t.tx.SelectContext(ctx, &items,
		`SELECT * FROM items WHERE seller_id = $1 ORDER BY created_at ASC`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("listing items by seller: %w", err)
	}
	return items, nil
}

func (t *Tx) ListAvailableDueBy(ctx context.Context, before time.Time) ([]store.Item, error) {
	var items []store.Item
	err := t.tx.SelectContext(ctx, &items,
		`SELECT * FROM items WHERE availability = 'A' AND deadline <= $1 ORDER BY deadline ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("listing items due: %w", err)
	}
	return items, nil
}

func (t *Tx) CreateBid(ctx context.Context, b *store.Bid) error {
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
	_, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO bids (id, item_id, bidder_id, price, time_of_bid, rank, winner_status)
		 VALUES (:id, :item_id, :bidder_id, :price, :time_of_bid, :rank, :winner_status)`, b)
	if err != nil {
		return fmt.Errorf("creating bid: %w", err)
	}
	return nil
}

func (t *Tx) GetBid(ctx context.Context, id string) (*store.Bid, error) {
	var b store.Bid
	if err := t.get(ctx, &b, "bid "+id, `SELECT * FROM bids WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &b, nil
}

func (t *Tx) ListBidsByItem(ctx context.Context, itemID string) ([]store.Bid, error) {
	var bids []store.Bid
	err := t.tx.SelectContext(ctx, &bids,
		`SELECT * FROM bids WHERE item_id = $1 ORDER BY price DESC, time_of_bid ASC, id ASC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("listing bids: %w", err)
	}
	return bids, nil
}

func (t *Tx) ListBidsByBidder(ctx context.Context, bidderID string) ([]store.Bid, error) {
	var bids []store.Bid
	err := t.tx.SelectContext(ctx, &bids,
		`SELECT * FROM bids WHERE bidder_id = $1 ORDER BY item_id, time_of_bid`, bidderID)
	if err != nil {
		return nil, fmt.Errorf("listing bids by bidder: %w", err)
	}
	return bids, nil
}

func (t *Tx) SaveBidStatus(ctx context.Context, b *store.Bid) error {
	return t.exec(ctx, "saving bid status",
		`UPDATE bids SET rank = $1, winner_status = $2 WHERE id = $3`, b.Rank, b.WinnerStatus, b.ID)
}
