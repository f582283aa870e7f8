package domain

import (
	"context"
	"time"
)

type OutcomeStatus string

const (
	OutcomeReplied      OutcomeStatus = "replied"
	OutcomeIgnoredGroup OutcomeStatus = "ignored_group"
	OutcomeIgnoredEmpty OutcomeStatus = "ignored_empty"
	OutcomeFailed       OutcomeStatus = "failed"
)

// Outcome records what happened to one unified message.
type Outcome struct {
	ID          string        `json:"id"`
	SenderID    string        `json:"sender_id"`
	CustomerID  int64         `json:"customer_id,omitempty"`
	SessionKey  string        `json:"session_key,omitempty"`
	Status      OutcomeStatus `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	Fragments   int           `json:"fragments"`
	FailedSends int           `json:"failed_sends"`
	Apologized  bool          `json:"apologized"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// OutcomeSink observes processing outcomes (event bus, metrics, broker).
type OutcomeSink interface {
	Record(ctx context.Context, o Outcome)
}
