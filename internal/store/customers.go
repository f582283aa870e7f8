package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"spdropbot/internal/domain"
)

// GetOrCreateCustomer returns the id for phone, creating the customer on first
// contact. Concurrent first contacts from the same phone resolve to one row.
func (s *Store) GetOrCreateCustomer(ctx context.Context, phone string) (int64, error) {
	if phone == "" {
		return 0, errors.New("empty phone")
	}
	now := s.now()
	var id int64
	err := s.queryRow(ctx,
		`INSERT INTO customers (phone, name, created_at, last_seen) VALUES (?, ?, ?, ?)
		 ON CONFLICT (phone) DO UPDATE SET last_seen = excluded.last_seen
		 RETURNING id`,
		phone, defaultCustomerName(phone), now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert customer %s: %w", phone, err)
	}
	return id, nil
}

// defaultCustomerName labels a new customer by the tail of the phone until a
// real name is known.
func defaultCustomerName(phone string) string {
	if len(phone) > 4 {
		phone = phone[len(phone)-4:]
	}
	return "Cliente " + phone
}

// GetCustomer returns nil, nil when no customer has the id.
func (s *Store) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	var c domain.Customer
	err := s.queryRow(ctx,
		`SELECT id, phone, name, created_at, last_seen FROM customers WHERE id = ?`, id,
	).Scan(&c.ID, &c.Phone, &c.Name, &c.CreatedAt, &c.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCustomers returns customers ordered by most recent contact.
func (s *Store) ListCustomers(ctx context.Context, limit, offset int) ([]domain.Customer, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.query(ctx,
		`SELECT id, phone, name, created_at, last_seen
		 FROM customers ORDER BY last_seen DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Customer
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Phone, &c.Name, &c.CreatedAt, &c.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// EnsureSession creates the session row if it does not exist yet.
func (s *Store) EnsureSession(ctx context.Context, sessionKey string, customerID int64) error {
	_, err := s.exec(ctx,
		`INSERT INTO sessions (session_id, customer_id, status, started_at) VALUES (?, ?, 'active', ?)
		 ON CONFLICT (session_id) DO NOTHING`,
		sessionKey, customerID, s.now(),
	)
	if err != nil {
		return fmt.Errorf("ensure session %s: %w", sessionKey, err)
	}
	return nil
}
