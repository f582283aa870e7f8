package tool

import (
	"context"
	"fmt"
	"strings"

	"spdropbot/internal/domain"
)

// SaveMemoryTool stores a durable fact about a customer (name, niche, store URL...).
type SaveMemoryTool struct {
	store domain.MemoryStore
}

func NewSaveMemoryTool(store domain.MemoryStore) *SaveMemoryTool {
	return &SaveMemoryTool{store: store}
}

func (t *SaveMemoryTool) Name() string { return "save_memory" }
func (t *SaveMemoryTool) Description() string {
	return "Remember an important fact about the customer for future conversations. " +
		"Saving an existing key replaces its value."
}
func (t *SaveMemoryTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"customer_id":  {Type: "integer", Description: "Customer id from the [CONTEXT] line"},
			"memory_key":   {Type: "string", Description: "Short snake_case key, e.g. nome_completo, nicho, loja_url"},
			"memory_value": {Type: "string", Description: "The value to remember"},
		},
		[]string{"customer_id", "memory_key", "memory_value"},
	)
}

func (t *SaveMemoryTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	customerID, err := requireCustomerID(args)
	if err != nil {
		return "", err
	}
	key := strings.TrimSpace(ArgsString(args, "memory_key"))
	value := strings.TrimSpace(ArgsString(args, "memory_value"))
	if key == "" || value == "" {
		return "", fmt.Errorf("%w: memory_key and memory_value are required", ErrInvalidArgs)
	}

	if err := t.store.SaveMemory(ctx, customerID, key, value); err != nil {
		return "", fmt.Errorf("save memory: %w", err)
	}
	return jsonResult(map[string]any{"success": true, "memory_key": key, "memory_value": value})
}

// GetMemoriesTool returns everything remembered about a customer.
type GetMemoriesTool struct {
	store domain.MemoryStore
}

func NewGetMemoriesTool(store domain.MemoryStore) *GetMemoriesTool {
	return &GetMemoriesTool{store: store}
}

func (t *GetMemoriesTool) Name() string { return "get_memories" }
func (t *GetMemoriesTool) Description() string {
	return "Retrieve all facts previously saved about the customer."
}
func (t *GetMemoriesTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"customer_id": {Type: "integer", Description: "Customer id from the [CONTEXT] line"},
		},
		[]string{"customer_id"},
	)
}

func (t *GetMemoriesTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	customerID, err := requireCustomerID(args)
	if err != nil {
		return "", err
	}
	mems, err := t.store.Memories(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("load memories: %w", err)
	}
	out := make(map[string]string, len(mems))
	for _, m := range mems {
		out[m.Key] = m.Value
	}
	return jsonResult(map[string]any{"customer_id": customerID, "total": len(mems), "memories": out})
}
