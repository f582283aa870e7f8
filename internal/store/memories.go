package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"spdropbot/internal/domain"
)

// SaveMemory upserts key for the customer.
func (s *Store) SaveMemory(ctx context.Context, customerID int64, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("memory key is empty")
	}
	_, err := s.exec(ctx,
		`INSERT INTO customer_memories (customer_id, memory_key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (customer_id, memory_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		customerID, key, value, s.now(),
	)
	if err != nil {
		return fmt.Errorf("save memory %s for customer %d: %w", key, customerID, err)
	}
	return nil
}

// Memories returns every saved fact for the customer, ordered by key.
func (s *Store) Memories(ctx context.Context, customerID int64) ([]domain.Memory, error) {
	rows, err := s.query(ctx,
		`SELECT customer_id, memory_key, value, updated_at
		 FROM customer_memories WHERE customer_id = ? ORDER BY memory_key`, customerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Memory
	for rows.Next() {
		var m domain.Memory
		if err := rows.Scan(&m.CustomerID, &m.Key, &m.Value, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
