package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jensholdgaard/bluepenguin/internal/store"
)

func (t *Tx) CreateTransaction(ctx context.Context, tr *store.Transaction) error {
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	if tr.Status == "" {
		tr.Status = store.TxPending
	}
	tr.CreatedAt = t.clock.Now().UTC()
	_, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO transactions (id, seller_id, buyer_id, bid_id, amount, status, created_at)
		 VALUES (:id, :seller_id, :buyer_id, :bid_id, :amount, :status, :created_at)`, tr)
	if err != nil {
		return insertErr("creating transaction", err)
	}
	return nil
}

func (t *Tx) GetTransaction(ctx context.Context, id string) (*store.Transaction, error) {
	var tr store.Transaction
	if err := t.get(ctx, &tr, "transaction "+id,
		`SELECT * FROM transactions WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &tr, nil
}

func (t *Tx) SaveTransaction(ctx context.Context, tr *store.Transaction) error {
	return t.exec(ctx, "saving transaction",
		`UPDATE transactions SET status = $1, carrier = $2, shipping_cost = $3,
		        estimated_delivery = $4, arrival_notice_at = $5
		 WHERE id = $6`,
		tr.Status, tr.Carrier, tr.ShippingCost, tr.EstimatedDelivery, tr.ArrivalNoticeAt, tr.ID)
}

func (t *Tx) CountTransactions(ctx context.Context, accountID string) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM transactions WHERE seller_id = $1 OR buyer_id = $1`, accountID)
	if err != nil {
		return 0, fmt.Errorf("counting transactions: %w", err)
	}
	return n, nil
}

func (t *Tx) ListTransactionsBySeller(ctx context.Context, sellerID string) ([]store.Transaction, error) {
	var txs []store.Transaction
	err := t.tx.SelectContext(ctx, &txs,
		`SELECT * FROM transactions WHERE seller_id = $1 ORDER BY created_at ASC`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("listing transactions by seller: %w", err)
	}
	return txs, nil
}

func (t *Tx) ListShippedDueBy(ctx context.Context, before time.Time) ([]store.Transaction, error) {
	var txs []store.Transaction
	err := t.tx.SelectContext(ctx, &txs,
		`SELECT * FROM transactions
		 WHERE status = 'C' AND estimated_delivery <= $1 AND arrival_notice_at IS NULL
		 ORDER BY estimated_delivery ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("listing shipped transactions: %w", err)
	}
	return txs, nil
}
