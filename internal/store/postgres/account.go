package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/bluepenguin/internal/store"
)

func (t *Tx) CreateAccount(ctx context.Context, a *store.Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = store.StatusVisitor
	}
	now := t.clock.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO accounts (id, email, status, balance, is_suspended, suspension_fine_paid,
		                       suspension_strikes, points, created_at, updated_at)
		 VALUES (:id, :email, :status, :balance, :is_suspended, :suspension_fine_paid,
		         :suspension_strikes, :points, :created_at, :updated_at)`, a)
	if err != nil {
		return insertErr("creating account", err)
	}
	return nil
}

func (t *Tx) GetAccount(ctx context.Context, id string) (*store.Account, error) {
	var a store.Account
	if err := t.get(ctx, &a, "account "+id, `SELECT * FROM accounts WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *Tx) GetAccountByEmail(ctx context.Context, email string) (*store.Account, error) {
	var a store.Account
	if err := t.get(ctx, &a, "account by email", `SELECT * FROM accounts WHERE email = $1`, email); err != nil {
		return nil, err
	}
	return &a, nil
}

// LockAccount takes FOR NO KEY UPDATE so inserts referencing the account
// are not blocked.
func (t *Tx) LockAccount(ctx context.Context, id string) (*store.Account, error) {
	var a store.Account
	if err := t.get(ctx, &a, "account "+id, `SELECT * FROM accounts WHERE id = $1 FOR NO KEY UPDATE`, id); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *Tx) SaveStanding(ctx context.Context, a *store.Account) error {
	a.UpdatedAt = t.clock.Now().UTC()
	return t.exec(ctx, "saving account standing",
		`UPDATE accounts SET status = $1, is_suspended = $2, suspension_fine_paid = $3,
		        suspension_strikes = $4, points = $5, updated_at = $6
		 WHERE id = $7`,
		a.Status, a.IsSuspended, a.SuspensionFinePaid, a.SuspensionStrikes, a.Points, a.UpdatedAt, a.ID)
}

func (t *Tx) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.get(ctx, &balance, "account "+id,
		`UPDATE accounts SET balance = balance + $1, updated_at = $2 WHERE id = $3 RETURNING balance`,
		delta.Round(2), t.clock.Now().UTC(), id)
	if err != nil {
		return decimal.Zero, fmt.Errorf("adjusting balance: %w", err)
	}
	return balance, nil
}

// DeleteAccount relies on ON DELETE CASCADE for owned rows.
func (t *Tx) DeleteAccount(ctx context.Context, id string) error {
	return t.exec(ctx, "deleting account", `DELETE FROM accounts WHERE id = $1`, id)
}

func (t *Tx) GetAddress(ctx context.Context, accountID string) (*store.Address, error) {
	var a store.Address
	if err := t.get(ctx, &a, "address", `SELECT * FROM addresses WHERE account_id = $1`, accountID); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *Tx) SetAddress(ctx context.Context, a *store.Address) error {
	_, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO addresses (account_id, street_address, address_line_2, city, state, zip, country)
		 VALUES (:account_id, :street_address, :address_line_2, :city, :state, :zip, :country)
		 ON CONFLICT (account_id) DO UPDATE SET
		     street_address = EXCLUDED.street_address,
		     address_line_2 = EXCLUDED.address_line_2,
		     city = EXCLUDED.city,
		     state = EXCLUDED.state,
		     zip = EXCLUDED.zip,
		     country = EXCLUDED.country`, a)
	if err != nil {
		return fmt.Errorf("setting address: %w", err)
	}
	return nil
}

func (t *Tx) CreateProfile(ctx context.Context, p *store.Profile) error {
	_, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO profiles (account_id, display_name, avatar_url, description, average_rating, item_count)
		 VALUES (:account_id, :display_name, :avatar_url, :description, :average_rating, :item_count)`, p)
	if err != nil {
		return insertErr("creating profile", err)
	}
	return nil
}

func (t *Tx) GetProfile(ctx context.Context, accountID string) (*store.Profile, error) {
	var p store.Profile
	if err := t.get(ctx, &p, "profile "+accountID, `SELECT * FROM profiles WHERE account_id = $1`, accountID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *Tx) SaveProfile(ctx context.Context, p *store.Profile) error {
	return t.exec(ctx, "saving profile",
		`UPDATE profiles SET display_name = $1, avatar_url = $2, description = $3,
		        average_rating = $4, item_count = $5
		 WHERE account_id = $6`,
		p.DisplayName, p.AvatarURL, p.Description, p.AverageRating.Round(2), p.ItemCount, p.AccountID)
}
