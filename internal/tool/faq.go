package tool

import (
	"context"
	"fmt"
	"strings"

	"spdropbot/internal/knowledge"
)

// FAQSearchTool finds the support answer closest to a customer question.
type FAQSearchTool struct {
	catalog       *knowledge.Catalog
	minConfidence float64
}

func NewFAQSearchTool(catalog *knowledge.Catalog, minConfidence float64) *FAQSearchTool {
	if minConfidence <= 0 {
		minConfidence = knowledge.DefaultMinConfidence
	}
	return &FAQSearchTool{catalog: catalog, minConfidence: minConfidence}
}

func (t *FAQSearchTool) Name() string { return "faq_search" }
func (t *FAQSearchTool) Description() string {
	return "Look up the SPDrop support FAQ entry most similar to the customer's question. " +
		"Prefer recommended_answer when replying. Use before answering any question about plans, prices, integration or policies."
}
func (t *FAQSearchTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"question": {Type: "string", Description: "The customer's question, in their own words"},
		},
		[]string{"question"},
	)
}

func (t *FAQSearchTool) Execute(_ context.Context, args map[string]any) (string, error) {
	question := strings.TrimSpace(ArgsString(args, "question"))
	if question == "" {
		return "", fmt.Errorf("%w: missing question", ErrInvalidArgs)
	}
	if t.catalog.Len() == 0 {
		return jsonResult(map[string]any{"found": false, "error": "FAQ catalogue is empty"})
	}

	m, ok := t.catalog.Best(question, t.minConfidence)
	if !ok {
		return jsonResult(map[string]any{
			"found":    false,
			"question": question,
			"message":  "no similar FAQ found",
		})
	}
	return jsonResult(map[string]any{
		"found":              true,
		"question":           question,
		"faq_question":       m.Question,
		"recommended_answer": m.Recommended,
		"informal_answer":    m.Answer,
		"confidence":         m.Confidence(),
	})
}

// FAQListTool lists every question the FAQ can answer.
type FAQListTool struct {
	catalog *knowledge.Catalog
}

func NewFAQListTool(catalog *knowledge.Catalog) *FAQListTool {
	return &FAQListTool{catalog: catalog}
}

func (t *FAQListTool) Name() string        { return "faq_list" }
func (t *FAQListTool) Description() string { return "List all questions available in the support FAQ." }
func (t *FAQListTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{}, nil)
}

func (t *FAQListTool) Execute(_ context.Context, _ map[string]any) (string, error) {
	qs := t.catalog.Questions()
	return jsonResult(map[string]any{"total": len(qs), "questions": qs})
}

// FAQKeywordTool finds FAQ entries mentioning a term.
type FAQKeywordTool struct {
	catalog *knowledge.Catalog
}

func NewFAQKeywordTool(catalog *knowledge.Catalog) *FAQKeywordTool {
	return &FAQKeywordTool{catalog: catalog}
}

func (t *FAQKeywordTool) Name() string { return "faq_keyword" }
func (t *FAQKeywordTool) Description() string {
	return "Find FAQ entries whose question or answers contain a keyword (case-insensitive)."
}
func (t *FAQKeywordTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"keyword": {Type: "string", Description: "Word or short phrase to search for, e.g. 'shopify' or 'reembolso'"},
		},
		[]string{"keyword"},
	)
}

func (t *FAQKeywordTool) Execute(_ context.Context, args map[string]any) (string, error) {
	keyword := strings.TrimSpace(ArgsString(args, "keyword"))
	if keyword == "" {
		return "", fmt.Errorf("%w: missing keyword", ErrInvalidArgs)
	}

	type hit struct {
		Question    string `json:"question"`
		Recommended string `json:"recommended_answer"`
	}
	var hits []hit
	for _, f := range t.catalog.Keyword(keyword) {
		hits = append(hits, hit{Question: f.Question, Recommended: f.Recommended})
	}
	if len(hits) == 0 {
		return jsonResult(map[string]any{
			"found":   false,
			"keyword": keyword,
			"total":   0,
			"message": fmt.Sprintf("no FAQ mentions %q", keyword),
		})
	}
	return jsonResult(map[string]any{
		"found":   true,
		"keyword": keyword,
		"total":   len(hits),
		"results": hits,
	})
}
