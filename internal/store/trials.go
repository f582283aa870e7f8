package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"spdropbot/internal/domain"
)

// TrialDuration is the length of a free trial.
const TrialDuration = 7 * 24 * time.Hour

const trialColumns = `id, customer_id, full_name, cpf, phone, email, status, notes, converted_to_plan,
	trial_start_date, trial_end_date, converted_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrial(row rowScanner) (*domain.Trial, error) {
	var (
		t           domain.Trial
		status      string
		convertedAt sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.CustomerID, &t.FullName, &t.CPF, &t.Phone, &t.Email,
		&status, &t.Notes, &t.ConvertedToPlan, &t.StartedAt, &t.EndsAt, &convertedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = domain.TrialStatus(status)
	if convertedAt.Valid {
		ts := convertedAt.Time
		t.ConvertedAt = &ts
	}
	return &t, nil
}

// CreateTrial inserts an active trial ending TrialDuration after its start.
func (s *Store) CreateTrial(ctx context.Context, t domain.Trial) (*domain.Trial, error) {
	now := s.now()
	if t.StartedAt.IsZero() {
		t.StartedAt = now
	}
	if t.EndsAt.IsZero() {
		t.EndsAt = t.StartedAt.Add(TrialDuration)
	}
	if t.Status == "" {
		t.Status = domain.TrialActive
	}

	var id int64
	err := s.queryRow(ctx,
		`INSERT INTO trial_users (customer_id, full_name, cpf, phone, email, status, notes,
			trial_start_date, trial_end_date, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`,
		t.CustomerID, t.FullName, t.CPF, t.Phone, t.Email, string(t.Status), t.Notes,
		t.StartedAt, t.EndsAt, now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("create trial for customer %d: %w", t.CustomerID, err)
	}
	return s.GetTrial(ctx, id)
}

// GetTrial returns nil, nil when no trial has the id.
func (s *Store) GetTrial(ctx context.Context, id int64) (*domain.Trial, error) {
	t, err := scanTrial(s.queryRow(ctx, `SELECT `+trialColumns+` FROM trial_users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// ListTrials returns trials matching f, newest first.
func (s *Store) ListTrials(ctx context.Context, f domain.TrialFilter) ([]domain.Trial, error) {
	var (
		where []string
		args  []any
	)
	if f.CustomerID > 0 {
		where = append(where, "customer_id = ?")
		args = append(args, f.CustomerID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	q := `SELECT ` + trialColumns + ` FROM trial_users`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY trial_start_date DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Trial
	for rows.Next() {
		t, err := scanTrial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateTrialStatus sets the status and, when notes is non-empty, the notes.
// It returns ErrNotFound for an unknown id.
func (s *Store) UpdateTrialStatus(ctx context.Context, id int64, status domain.TrialStatus, notes string) (*domain.Trial, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid trial status %q", status)
	}
	res, err := s.exec(ctx,
		`UPDATE trial_users
		 SET status = ?, notes = CASE WHEN ? = '' THEN notes ELSE ? END, updated_at = ?
		 WHERE id = ?`,
		string(status), notes, notes, s.now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update trial %d: %w", id, err)
	}
	return s.updatedTrial(ctx, id, res)
}

// ConvertTrial marks the trial as converted to a paid plan.
func (s *Store) ConvertTrial(ctx context.Context, id int64, plan string) (*domain.Trial, error) {
	plan = strings.TrimSpace(plan)
	if plan == "" {
		return nil, errors.New("plan is required")
	}
	now := s.now()
	res, err := s.exec(ctx,
		`UPDATE trial_users
		 SET status = ?, converted_to_plan = ?, converted_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(domain.TrialConverted), plan, now, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("convert trial %d: %w", id, err)
	}
	return s.updatedTrial(ctx, id, res)
}

func (s *Store) updatedTrial(ctx context.Context, id int64, res sql.Result) (*domain.Trial, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("trial %d: %w", id, ErrNotFound)
	}
	return s.GetTrial(ctx, id)
}

// ExpireTrials marks active trials whose end date has passed as expired and
// returns how many changed.
func (s *Store) ExpireTrials(ctx context.Context) (int64, error) {
	now := s.now()
	res, err := s.exec(ctx,
		`UPDATE trial_users SET status = ?, updated_at = ? WHERE status = ? AND trial_end_date < ?`,
		string(domain.TrialExpired), now, string(domain.TrialActive), now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire trials: %w", err)
	}
	return res.RowsAffected()
}
