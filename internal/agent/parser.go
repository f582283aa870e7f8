package agent

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"spdropbot/internal/domain"
)

// rawToolCall is the shape models use when they write a tool call as text.
// Some emit "parameters", others "arguments".
type rawToolCall struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
	Arguments  map[string]any `json:"arguments"`
}

// extractToolCallsFromContent recovers tool calls that a model wrote into its
// content instead of the structured tool_calls field. Accepted forms:
//   - bare JSON: {"name":"faq_search","arguments":{...}}
//   - a JSON array of such objects
//   - either of the above inside a ```json fence
//   - JSON embedded in prose: "Vou verificar.\n{...}\nUm momento."
func extractToolCallsFromContent(content string) []domain.ToolCall {
	content = unfence(strings.TrimSpace(content))
	if content == "" {
		return nil
	}
	if calls := tryParseToolJSON(content); len(calls) > 0 {
		return calls
	}
	start, end := findJSONBounds(content)
	if start < 0 {
		return nil
	}
	return tryParseToolJSON(content[start:end])
}

// unfence removes a surrounding markdown code fence and its language tag.
func unfence(s string) string {
	body, ok := strings.CutPrefix(s, "```")
	if !ok {
		return s
	}
	nl := strings.IndexByte(body, '\n')
	if nl < 0 {
		return s
	}
	body, ok = strings.CutSuffix(strings.TrimRight(body[nl+1:], " \t\r\n"), "```")
	if !ok {
		return s
	}
	return strings.TrimSpace(body)
}

// findJSONBounds returns [start, end) of the first balanced JSON object or
// array in s, or (-1, -1).
func findJSONBounds(s string) (int, int) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return -1, -1
	}
	openCh, closeCh := s[start], byte('}')
	if openCh == '[' {
		closeCh = ']'
	}

	depth, quoted := 0, false
	for i := start; i < len(s); i++ {
		switch c := s[i]; {
		case quoted && c == '\\':
			i++
		case c == '"':
			quoted = !quoted
		case quoted:
		case c == openCh:
			depth++
		case c == closeCh:
			if depth--; depth == 0 {
				return start, i + 1
			}
		}
	}
	return -1, -1
}

// tryParseToolJSON decodes raw as one call or a list of calls. Invalid escape
// sequences get one repair attempt.
func tryParseToolJSON(raw string) []domain.ToolCall {
	raws, ok := decodeRawCalls(raw)
	if !ok {
		raws, _ = decodeRawCalls(sanitizeJSONEscapes(raw))
	}

	var calls []domain.ToolCall
	for _, rc := range raws {
		if rc.Name == "" {
			continue
		}
		calls = append(calls, domain.ToolCall{
			ID:        "extracted_" + uuid.NewString(),
			Name:      normalizeToolName(rc.Name),
			Arguments: coalesce(rc.Parameters, rc.Arguments),
		})
	}
	return calls
}

func decodeRawCalls(raw string) ([]rawToolCall, bool) {
	if strings.HasPrefix(raw, "[") {
		var list []rawToolCall
		err := json.Unmarshal([]byte(raw), &list)
		return list, err == nil
	}
	var one rawToolCall
	if err := json.Unmarshal([]byte(raw), &one); err != nil {
		return nil, false
	}
	return []rawToolCall{one}, true
}

// toolAliases maps spellings models invent to registered tool names. Keys are
// lower case.
var toolAliases = func() map[string]string {
	m := make(map[string]string)
	for _, name := range []string{
		"faq_search", "faq_list", "faq_keyword",
		"save_memory", "get_memories", "get_history",
		"create_trial", "list_trials", "demo_account", "script_search",
	} {
		m[strings.ReplaceAll(name, "_", "")] = name
		m[strings.ReplaceAll(name, "_", "-")] = name
	}
	m["buscar_faq"] = "faq_search"
	return m
}()

func normalizeToolName(name string) string {
	if mapped, ok := toolAliases[strings.ToLower(name)]; ok {
		return mapped
	}
	return name
}

// stripRolePrefix drops a leaked "assistant" label ("assistant\n", "Assistant: ")
// from the start of a reply.
func stripRolePrefix(content string) string {
	const role = "assistant"
	if len(content) <= len(role) || !strings.EqualFold(content[:len(role)], role) {
		return content
	}
	rest := strings.TrimPrefix(content[len(role):], ":")
	if rest == "" || !strings.ContainsRune(" \t\r\n", rune(rest[0])) {
		return content
	}
	return strings.TrimSpace(rest)
}

// coalesce returns the first non-nil map, or an empty one.
func coalesce(a, b map[string]any) map[string]any {
	switch {
	case a != nil:
		return a
	case b != nil:
		return b
	}
	return map[string]any{}
}

// sanitizeJSONEscapes drops the backslash from escape sequences JSON does not
// define (\% or \Y). Valid escapes are copied through untouched.
func sanitizeJSONEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	quoted := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !quoted || c != '\\' || i+1 == len(s) {
			if c == '"' {
				quoted = !quoted
			}
			b.WriteByte(c)
			continue
		}
		if strings.IndexByte(`"\/bfnrtu`, s[i+1]) >= 0 {
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			i++
		}
	}
	return b.String()
}
