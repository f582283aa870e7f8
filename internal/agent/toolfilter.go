package agent

import "spdropbot/internal/domain"

// ToolFilter hides disabled tools from the model and refuses to run them if the
// model calls them anyway.
type ToolFilter struct {
	disabled map[string]bool
}

// NewToolFilter builds a filter from the configured deny list.
func NewToolFilter(disabled []string) *ToolFilter {
	tf := &ToolFilter{disabled: make(map[string]bool, len(disabled))}
	for _, name := range disabled {
		tf.disabled[name] = true
	}
	return tf
}

// FilterDefinitions returns only the tool definitions the model may see.
func (tf *ToolFilter) FilterDefinitions(defs []domain.ToolDefinition) []domain.ToolDefinition {
	if tf.IsEmpty() {
		return defs
	}
	filtered := make([]domain.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		if tf.IsAllowed(d.Name) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

func (tf *ToolFilter) IsAllowed(name string) bool {
	return tf == nil || !tf.disabled[name]
}

func (tf *ToolFilter) IsEmpty() bool {
	return tf == nil || len(tf.disabled) == 0
}
