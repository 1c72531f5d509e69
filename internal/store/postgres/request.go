package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jensholdgaard/bluepenguin/internal/store"
)

func (t *Tx) CreateRating(ctx context.Context, r *store.Rating) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = t.clock.Now().UTC()
	_, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO ratings (id, rater_id, ratee_id, score, created_at)
		 VALUES (:id, :rater_id, :ratee_id, :score, :created_at)`, r)
	if err != nil {
		return fmt.Errorf("creating rating: %w", err)
	}
	return nil
}

func (t *Tx) ListRatingsFor(ctx context.Context, rateeID string) ([]store.Rating, error) {
	var ratings []store.Rating
	err := t.tx.SelectContext(ctx, &ratings,
		`SELECT * FROM ratings WHERE ratee_id = $1 ORDER BY created_at ASC`, rateeID)
	if err != nil {
		return nil, fmt.Errorf("listing ratings: %w", err)
	}
	return ratings, nil
}

func (t *Tx) CreateReport(ctx context.Context, r *store.Report) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = store.RequestPending
	}
	r.CreatedAt = t.clock.Now().UTC()
	_, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO reports (id, reporter_id, reportee_id, text, status, created_at)
		 VALUES (:id, :reporter_id, :reportee_id, :text, :status, :created_at)`, r)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	return nil
}

func (t *Tx) GetReport(ctx context.Context, id string) (*store.Report, error) {
	var r store.Report
	if err := t.get(ctx, &r, "report "+id, `SELECT * FROM reports WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *Tx) SetReportStatus(ctx context.Context, id string, s store.RequestStatus) error {
	return t.exec(ctx, "setting report status", `UPDATE reports SET status = $1 WHERE id = $2`, s, id)
}

func (t *Tx) CountOpenReports(ctx context.Context, reporteeID string) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM reports WHERE reportee_id = $1 AND status <> 'R'`, reporteeID)
	if err != nil {
		return 0, fmt.Errorf("counting open reports: %w", err)
	}
	return n, nil
}

func (t *Tx) CreateQuitRequest(ctx context.Context, q *store.QuitRequest) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.Status == "" {
		q.Status = store.RequestPending
	}
	q.CreatedAt = t.clock.Now().UTC()
	_, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO quit_requests (id, account_id, reason, status, created_at)
		 VALUES (:id, :account_id, :reason, :status, :created_at)`, q)
	if err != nil {
		return fmt.Errorf("creating quit request: %w", err)
	}
	return nil
}

func (t *Tx) GetQuitRequest(ctx context.Context, id string) (*store.QuitRequest, error) {
	var q store.QuitRequest
	if err := t.get(ctx, &q, "quit request "+id, `SELECT * FROM quit_requests WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &q, nil
}

func (t *Tx) SetQuitRequestStatus(ctx context.Context, id string, s store.RequestStatus) error {
	return t.exec(ctx, "setting quit request status", `UPDATE quit_requests SET status = $1 WHERE id = $2`, s, id)
}

func (t *Tx) PendingQuitRequest(ctx context.Context, accountID string) (*store.QuitRequest, error) {
	var q store.QuitRequest
	if err := t.get(ctx, &q, "pending quit request",
		`SELECT * FROM quit_requests WHERE account_id = $1 AND status = 'P' LIMIT 1`, accountID); err != nil {
		return nil, err
	}
	return &q, nil
}

func (t *Tx) CreateApplication(ctx context.Context, a *store.UserApplication) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = store.RequestPending
	}
	a.CreatedAt = t.clock.Now().UTC()
	_, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO user_applications (id, account_id, status, captcha_completed, created_at)
		 VALUES (:id, :account_id, :status, :captcha_completed, :created_at)`, a)
	if err != nil {
		return fmt.Errorf("creating application: %w", err)
	}
	return nil
}

func (t *Tx) GetApplication(ctx context.Context, id string) (*store.UserApplication, error) {
	var a store.UserApplication
	if err := t.get(ctx, &a, "application "+id, `SELECT * FROM user_applications WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *Tx) SetApplicationStatus(ctx context.Context, id string, s store.RequestStatus) error {
	return t.exec(ctx, "setting application status", `UPDATE user_applications SET status = $1 WHERE id = $2`, s, id)
}

func (t *Tx) PendingApplication(ctx context.Context, accountID string) (*store.UserApplication, error) {
	var a store.UserApplication
	if err := t.get(ctx, &a, "pending application",
		`SELECT * FROM user_applications WHERE account_id = $1 AND status = 'P' LIMIT 1`, accountID); err != nil {
		return nil, err
	}
	return &a, nil
}
