package tool

import (
	"context"
	"fmt"
	"time"

	"spdropbot/internal/domain"
)

const (
	defaultHistoryExchanges = 10
	maxHistoryExchanges     = 50
)

// GetHistoryTool reads the customer's past exchanges across sessions.
type GetHistoryTool struct {
	store domain.HistoryStore
}

func NewGetHistoryTool(store domain.HistoryStore) *GetHistoryTool {
	return &GetHistoryTool{store: store}
}

func (t *GetHistoryTool) Name() string { return "get_history" }
func (t *GetHistoryTool) Description() string {
	return "Fetch the customer's most recent conversation exchanges, oldest first."
}
func (t *GetHistoryTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"customer_id": {Type: "integer", Description: "Customer id from the [CONTEXT] line"},
			"limit":       {Type: "integer", Description: "How many exchanges to return (default 10, max 50)"},
		},
		[]string{"customer_id"},
	)
}

func (t *GetHistoryTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	customerID, err := requireCustomerID(args)
	if err != nil {
		return "", err
	}
	limit, ok := ArgsInt64(args, "limit")
	if !ok || limit <= 0 {
		limit = defaultHistoryExchanges
	}
	limit = min(limit, maxHistoryExchanges)

	records, err := t.store.RecentHistory(ctx, customerID, int(limit))
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	type exchange struct {
		User  string `json:"user"`
		Agent string `json:"agent"`
		At    string `json:"at"`
	}
	out := make([]exchange, 0, len(records))
	for _, r := range records {
		out = append(out, exchange{User: r.UserMessage, Agent: r.AgentResponse, At: r.CreatedAt.Format(time.RFC3339)})
	}
	return jsonResult(map[string]any{"customer_id": customerID, "total": len(out), "exchanges": out})
}
