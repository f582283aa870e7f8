package agent

import (
	"testing"
)

// --- extractToolCallsFromContent ---

func TestExtractToolCalls_SingleObject(t *testing.T) {
	input := `{"name": "faq_search", "arguments": {"question": "quanto custa?"}}`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "faq_search" {
		t.Fatalf("expected 'faq_search', got %q", calls[0].Name)
	}
	if calls[0].Arguments["question"] != "quanto custa?" {
		t.Fatalf("expected question, got %v", calls[0].Arguments["question"])
	}
}

func TestExtractToolCalls_ParametersField(t *testing.T) {
	input := `{"name": "get_memories", "parameters": {"customer_id": 7}}`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Arguments["customer_id"] != float64(7) {
		t.Fatalf("expected path, got %v", calls[0].Arguments)
	}
}

func TestExtractToolCalls_Array(t *testing.T) {
	input := `[{"name": "faq_list", "arguments": {}}, {"name": "demo_account", "arguments": {}}]`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
}

func TestExtractToolCalls_CodeFenceWrapped(t *testing.T) {
	input := "```json\n{\"name\": \"faq_keyword\", \"arguments\": {\"keyword\": \"pix\"}}\n```"
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call from code fence, got %d", len(calls))
	}
	if calls[0].Name != "faq_keyword" {
		t.Fatalf("expected 'faq_keyword', got %q", calls[0].Name)
	}
}

func TestExtractToolCalls_PlainText(t *testing.T) {
	input := "Claro! O plano custa R$ 97 por mês."
	calls := extractToolCallsFromContent(input)
	if len(calls) != 0 {
		t.Fatalf("expected 0 calls for plain text, got %d", len(calls))
	}
}

func TestExtractToolCalls_EmptyName(t *testing.T) {
	input := `{"name": "", "arguments": {}}`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 0 {
		t.Fatalf("expected 0 calls for empty name, got %d", len(calls))
	}
}

func TestExtractToolCalls_EmptyString(t *testing.T) {
	calls := extractToolCallsFromContent("")
	if len(calls) != 0 {
		t.Fatalf("expected 0 calls for empty input, got %d", len(calls))
	}
}

func TestExtractToolCalls_NilArguments(t *testing.T) {
	input := `{"name": "faq_list"}`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Arguments == nil {
		t.Fatal("arguments should be initialized to empty map")
	}
}

// --- sanitizeJSONEscapes ---

func TestSanitizeJSONEscapes_ValidJSON(t *testing.T) {
	input := `{"key": "value with \"quotes\" and \\backslash"}`
	result := sanitizeJSONEscapes(input)
	if result != input {
		t.Fatalf("valid JSON should not change:\n  got:  %q\n  want: %q", result, input)
	}
}

func TestSanitizeJSONEscapes_InvalidEscape(t *testing.T) {
	// \% is invalid JSON escape, backslash should be dropped
	input := `{"key": "100\% done"}`
	result := sanitizeJSONEscapes(input)
	expected := `{"key": "100% done"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestSanitizeJSONEscapes_MultipleInvalid(t *testing.T) {
	input := `{"msg": "Hello \World \! \?"}`
	result := sanitizeJSONEscapes(input)
	expected := `{"msg": "Hello World ! ?"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestSanitizeJSONEscapes_PreservesValidEscapes(t *testing.T) {
	input := `{"text": "line1\nline2\ttab"}`
	result := sanitizeJSONEscapes(input)
	if result != input {
		t.Fatalf("valid escapes should be preserved: got %q", result)
	}
}

func TestSanitizeJSONEscapes_EmptyString(t *testing.T) {
	result := sanitizeJSONEscapes("")
	if result != "" {
		t.Fatalf("expected empty, got %q", result)
	}
}

func TestSanitizeJSONEscapes_NoStrings(t *testing.T) {
	input := `{}`
	result := sanitizeJSONEscapes(input)
	if result != input {
		t.Fatalf("expected unchanged, got %q", result)
	}
}

// --- extractToolCallsFromContent with invalid escapes ---

func TestExtractToolCalls_WithInvalidEscapes(t *testing.T) {
	// Simulates LLM returning JSON with \% inside
	input := `{"name": "faq_search", "arguments": {"question": "desconto de 10\%?"}}`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call after sanitization, got %d", len(calls))
	}
	if calls[0].Name != "faq_search" {
		t.Fatalf("expected 'faq_search', got %q", calls[0].Name)
	}
}

func TestExtractToolCalls_SurroundingText(t *testing.T) {
	input := "Vou verificar.\n{\"name\": \"faq-search\", \"arguments\": {\"question\": \"tem pix?\"}}\nUm momento."
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 || calls[0].Name != "faq_search" {
		t.Fatalf("expected normalized faq_search, got %+v", calls)
	}
}

func TestExtractToolCalls_UniqueIDs(t *testing.T) {
	calls := extractToolCallsFromContent(`[{"name": "faq_list"}, {"name": "faq_list"}]`)
	if len(calls) != 2 || calls[0].ID == calls[1].ID {
		t.Fatalf("expected two distinct ids, got %+v", calls)
	}
}

func TestStripRolePrefix(t *testing.T) {
	if got := stripRolePrefix("Assistant: Oi!"); got != "Oi!" {
		t.Fatalf("got %q", got)
	}
	if got := stripRolePrefix("Oi!"); got != "Oi!" {
		t.Fatalf("got %q", got)
	}
}

// --- coalesce ---

func TestCoalesce_FirstNonNil(t *testing.T) {
	a := map[string]any{"key": "a"}
	b := map[string]any{"key": "b"}
	result := coalesce(a, b)
	if result["key"] != "a" {
		t.Fatalf("expected 'a', got %v", result["key"])
	}
}

func TestCoalesce_SecondWhenFirstNil(t *testing.T) {
	b := map[string]any{"key": "b"}
	result := coalesce(nil, b)
	if result["key"] != "b" {
		t.Fatalf("expected 'b', got %v", result["key"])
	}
}

func TestCoalesce_BothNil(t *testing.T) {
	result := coalesce(nil, nil)
	if result == nil {
		t.Fatal("expected empty map, got nil")
	}
	if len(result) != 0 {
		t.Fatalf("expected empty map, got %v", result)
	}
}
