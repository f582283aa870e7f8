package domain

import "context"

// Tool is a named operation the sales agent may call (FAQ lookup, memories, trials).
// Execute returns a JSON document the model reads back.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}
