package store

import (
	"context"
	"fmt"

	"spdropbot/internal/domain"
)

const messageTypeChat = "chat"

// AppendHistory records one user message and the reply that answered it.
func (s *Store) AppendHistory(ctx context.Context, sessionKey string, customerID int64, userText, replyText string) error {
	_, err := s.exec(ctx,
		`INSERT INTO conversation_history (session_id, customer_id, user_message, agent_response, message_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionKey, customerID, userText, replyText, messageTypeChat, s.now(),
	)
	if err != nil {
		return fmt.Errorf("append history for %s: %w", sessionKey, err)
	}
	return nil
}

// RecentHistory returns the last limit exchanges of a customer, oldest first.
func (s *Store) RecentHistory(ctx context.Context, customerID int64, limit int) ([]domain.HistoryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.query(ctx,
		`SELECT id, session_id, customer_id, user_message, agent_response, message_type, created_at
		 FROM conversation_history WHERE customer_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`, customerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.HistoryRecord
	for rows.Next() {
		var r domain.HistoryRecord
		if err := rows.Scan(&r.ID, &r.SessionKey, &r.CustomerID, &r.UserMessage,
			&r.AgentResponse, &r.MessageType, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}
