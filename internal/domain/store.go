package domain

import (
	"context"
	"time"
)

// CustomerStore is the narrow persistence contract the message processor needs.
type CustomerStore interface {
	GetOrCreateCustomer(ctx context.Context, phone string) (int64, error)
	EnsureSession(ctx context.Context, sessionKey string, customerID int64) error
	AppendHistory(ctx context.Context, sessionKey string, customerID int64, userText, replyText string) error
}

// HistoryStore reads past exchanges.
type HistoryStore interface {
	RecentHistory(ctx context.Context, customerID int64, limit int) ([]HistoryRecord, error)
}

// MemoryStore keeps facts about a customer that outlive any conversation.
type MemoryStore interface {
	SaveMemory(ctx context.Context, customerID int64, key, value string) error
	Memories(ctx context.Context, customerID int64) ([]Memory, error)
}

// TrialStore manages free-trial sign-ups.
type TrialStore interface {
	CreateTrial(ctx context.Context, t Trial) (*Trial, error)
	ListTrials(ctx context.Context, f TrialFilter) ([]Trial, error)
	UpdateTrialStatus(ctx context.Context, id int64, status TrialStatus, notes string) (*Trial, error)
	ConvertTrial(ctx context.Context, id int64, plan string) (*Trial, error)
}

type Customer struct {
	ID        int64     `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
}

type HistoryRecord struct {
	ID            int64     `json:"id"`
	SessionKey    string    `json:"session_key"`
	CustomerID    int64     `json:"customer_id"`
	UserMessage   string    `json:"user_message"`
	AgentResponse string    `json:"agent_response"`
	MessageType   string    `json:"message_type"`
	CreatedAt     time.Time `json:"created_at"`
}

type Memory struct {
	CustomerID int64     `json:"customer_id"`
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type TrialStatus string

const (
	TrialActive    TrialStatus = "active"
	TrialExpired   TrialStatus = "expired"
	TrialConverted TrialStatus = "converted"
	TrialCancelled TrialStatus = "cancelled"
)

// Valid reports whether s is a known trial status.
func (s TrialStatus) Valid() bool {
	switch s {
	case TrialActive, TrialExpired, TrialConverted, TrialCancelled:
		return true
	}
	return false
}

type Trial struct {
	ID              int64       `json:"id"`
	CustomerID      int64       `json:"customer_id"`
	FullName        string      `json:"full_name"`
	CPF             string      `json:"cpf"`
	Phone           string      `json:"phone"`
	Email           string      `json:"email"`
	Status          TrialStatus `json:"status"`
	Notes           string      `json:"notes,omitempty"`
	ConvertedToPlan string      `json:"converted_to_plan,omitempty"`
	StartedAt       time.Time   `json:"trial_start"`
	EndsAt          time.Time   `json:"trial_end"`
	ConvertedAt     *time.Time  `json:"converted_at,omitempty"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

type TrialFilter struct {
	CustomerID int64       // 0 = any
	Status     TrialStatus // "" = any
	Limit      int
}

// Stats is the dashboard summary.
type Stats struct {
	Customers       int `json:"customers"`
	CustomersToday  int `json:"customers_today"`
	Sessions        int `json:"sessions"`
	Messages        int `json:"messages"`
	MessagesToday   int `json:"messages_today"`
	ActiveTrials    int `json:"active_trials"`
	ConvertedTrials int `json:"converted_trials"`
}
