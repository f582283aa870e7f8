package store

import (
	"context"
	"fmt"
	"time"

	"spdropbot/internal/domain"
)

// Stats summarizes activity for the admin dashboard. "Today" starts at midnight UTC.
func (s *Store) Stats(ctx context.Context) (domain.Stats, error) {
	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var st domain.Stats
	counts := []struct {
		dst   *int
		query string
		args  []any
	}{
		{&st.Customers, `SELECT COUNT(*) FROM customers`, nil},
		{&st.CustomersToday, `SELECT COUNT(*) FROM customers WHERE created_at >= ?`, []any{midnight}},
		{&st.Sessions, `SELECT COUNT(*) FROM sessions`, nil},
		{&st.Messages, `SELECT COUNT(*) FROM conversation_history`, nil},
		{&st.MessagesToday, `SELECT COUNT(*) FROM conversation_history WHERE created_at >= ?`, []any{midnight}},
		{&st.ActiveTrials, `SELECT COUNT(*) FROM trial_users WHERE status = ?`, []any{string(domain.TrialActive)}},
		{&st.ConvertedTrials, `SELECT COUNT(*) FROM trial_users WHERE status = ?`, []any{string(domain.TrialConverted)}},
	}
	for _, c := range counts {
		if err := s.queryRow(ctx, c.query, c.args...).Scan(c.dst); err != nil {
			return st, fmt.Errorf("stats: %w", err)
		}
	}
	return st, nil
}
