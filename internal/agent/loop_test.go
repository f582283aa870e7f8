package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"spdropbot/internal/domain"
	"spdropbot/internal/tool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// scriptedProvider replays responses in order and records every request.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*domain.ChatResponse
	err       error
	requests  []domain.ChatRequest
}

func (p *scriptedProvider) Name() string                    { return "scripted" }
func (p *scriptedProvider) Healthy(_ context.Context) error { return nil }

func (p *scriptedProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return nil, errors.New("no scripted response left")
	}
	resp := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return resp, nil
}

type fakeTool struct {
	name string
	fn   func(args map[string]any) (string, error)
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake " + f.name }
func (f *fakeTool) Parameters() map[string]any {
	return tool.ToolParameters(map[string]tool.Param{}, nil)
}
func (f *fakeTool) Execute(_ context.Context, args map[string]any) (string, error) {
	return f.fn(args)
}

type historyFunc func(ctx context.Context, customerID int64, limit int) ([]domain.HistoryRecord, error)

func (f historyFunc) RecentHistory(ctx context.Context, customerID int64, limit int) ([]domain.HistoryRecord, error) {
	return f(ctx, customerID, limit)
}

func newTestLoop(p domain.Provider, reg *tool.Registry, mutate func(*LoopConfig)) *Loop {
	cfg := LoopConfig{
		Provider: p,
		Tools:    reg,
		Logger:   testLogger(),
		Model:    "gpt-4o-mini",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewLoop(cfg)
}

func request(text string) domain.AgentRequest {
	return domain.AgentRequest{SessionKey: "whatsapp_5511999999999", CustomerID: 7, Text: text}
}

func TestLoop_PlainAnswerWithHistory(t *testing.T) {
	p := &scriptedProvider{responses: []*domain.ChatResponse{{Content: "  Olá! Como posso ajudar?  "}}}
	var gotLimit int
	hist := historyFunc(func(_ context.Context, id int64, limit int) ([]domain.HistoryRecord, error) {
		gotLimit = limit
		return []domain.HistoryRecord{{UserMessage: "oi", AgentResponse: "oi! tudo bem?"}}, nil
	})
	l := newTestLoop(p, tool.NewRegistry(testLogger()), func(c *LoopConfig) { c.History = hist })

	res := l.Run(context.Background(), request("[CONTEXT: customer_id=7]\nquanto custa?"))
	if !res.OK() || res.Text != "Olá! Como posso ajudar?" {
		t.Fatalf("result = %+v", res)
	}
	if gotLimit != defaultHistoryLimit {
		t.Fatalf("history limit = %d", gotLimit)
	}

	req := p.requests[0]
	if req.Model != "gpt-4o-mini" || req.MaxTokens != defaultLLMMaxTokens {
		t.Fatalf("request settings: %+v", req)
	}
	roles := make([]string, len(req.Messages))
	for i, m := range req.Messages {
		roles[i] = m.Role
	}
	if strings.Join(roles, ",") != "system,user,assistant,user" {
		t.Fatalf("roles = %v", roles)
	}
	if last := req.Messages[3].Content; !strings.HasSuffix(last, "quanto custa?") {
		t.Fatalf("last message = %q", last)
	}
}

func TestLoop_ToolRoundTrip(t *testing.T) {
	reg := tool.NewRegistry(testLogger())
	reg.Register(&fakeTool{name: "faq_search", fn: func(args map[string]any) (string, error) {
		return `{"found":true,"recommended_answer":"R$ 97"}`, nil
	}})
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{{ID: "call_1", Name: "faq_search", Arguments: map[string]any{"question": "preço"}}}},
		{Content: "O plano custa R$ 97."},
	}}

	res := newTestLoop(p, reg, nil).Run(context.Background(), request("preço?"))
	if !res.OK() || res.Text != "O plano custa R$ 97." {
		t.Fatalf("result = %+v", res)
	}
	if len(p.requests) != 2 {
		t.Fatalf("requests = %d", len(p.requests))
	}
	if len(p.requests[0].Tools) != 1 {
		t.Fatalf("tool definitions = %+v", p.requests[0].Tools)
	}
	msgs := p.requests[1].Messages
	toolMsg := msgs[len(msgs)-1]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "call_1" || !strings.Contains(toolMsg.Content, "R$ 97") {
		t.Fatalf("tool message = %+v", toolMsg)
	}
	if msgs[len(msgs)-2].Role != "assistant" || len(msgs[len(msgs)-2].ToolCalls) != 1 {
		t.Fatalf("assistant tool-call message missing: %+v", msgs[len(msgs)-2])
	}
}

func TestLoop_ToolCallsInContent(t *testing.T) {
	var called atomic.Bool
	reg := tool.NewRegistry(testLogger())
	reg.Register(&fakeTool{name: "faq_list", fn: func(map[string]any) (string, error) {
		called.Store(true)
		return `{"total":0}`, nil
	}})
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		{Content: `{"name": "faq_list", "arguments": {}}`},
		{Content: "Pronto!"},
	}}

	res := newTestLoop(p, reg, nil).Run(context.Background(), request("quais perguntas?"))
	if !res.OK() || !called.Load() {
		t.Fatalf("result = %+v called=%v", res, called.Load())
	}
}

func TestLoop_ToolErrorIsReportedToModel(t *testing.T) {
	reg := tool.NewRegistry(testLogger())
	reg.Register(&fakeTool{name: "create_trial", fn: func(map[string]any) (string, error) {
		return "", fmt.Errorf("%w: CPF must have 11 digits", tool.ErrInvalidArgs)
	}})
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{{ID: "c1", Name: "create_trial"}}},
		{Content: "Pode me passar o CPF completo?"},
	}}

	res := newTestLoop(p, reg, nil).Run(context.Background(), request("quero testar"))
	if !res.OK() {
		t.Fatalf("result = %+v", res)
	}
	msgs := p.requests[1].Messages
	got := msgs[len(msgs)-1].Content
	if !strings.Contains(got, "11 digits") || !strings.Contains(got, `"invalid_input":true`) {
		t.Fatalf("tool error message = %s", got)
	}
}

func TestLoop_ToolPanicIsContained(t *testing.T) {
	reg := tool.NewRegistry(testLogger())
	reg.Register(&fakeTool{name: "boom", fn: func(map[string]any) (string, error) { panic("kaboom") }})
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{{ID: "c1", Name: "boom"}}},
		{Content: "ok"},
	}}

	res := newTestLoop(p, reg, nil).Run(context.Background(), request("x"))
	if !res.OK() {
		t.Fatalf("result = %+v", res)
	}
	msgs := p.requests[1].Messages
	if !strings.Contains(msgs[len(msgs)-1].Content, "panicked") {
		t.Fatalf("tool message = %s", msgs[len(msgs)-1].Content)
	}
}

func TestLoop_DisabledTool(t *testing.T) {
	var called atomic.Bool
	reg := tool.NewRegistry(testLogger())
	reg.Register(&fakeTool{name: "demo_account", fn: func(map[string]any) (string, error) {
		called.Store(true)
		return "{}", nil
	}})
	reg.Register(&fakeTool{name: "faq_list", fn: func(map[string]any) (string, error) { return "{}", nil }})
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{{ID: "c1", Name: "demo_account"}}},
		{Content: "ok"},
	}}

	l := newTestLoop(p, reg, func(c *LoopConfig) { c.Filter = NewToolFilter([]string{"demo_account"}) })
	if res := l.Run(context.Background(), request("quero ver")); !res.OK() {
		t.Fatalf("result = %+v", res)
	}
	if called.Load() {
		t.Fatal("disabled tool was executed")
	}
	if defs := p.requests[0].Tools; len(defs) != 1 || defs[0].Name != "faq_list" {
		t.Fatalf("definitions = %+v", defs)
	}
}

func TestLoop_ParallelToolsBounded(t *testing.T) {
	var inFlight, peak atomic.Int32
	reg := tool.NewRegistry(testLogger())
	reg.Register(&fakeTool{name: "slow", fn: func(map[string]any) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return "{}", nil
	}})
	calls := make([]domain.ToolCall, 5)
	for i := range calls {
		calls[i] = domain.ToolCall{ID: fmt.Sprintf("c%d", i), Name: "slow"}
	}
	p := &scriptedProvider{responses: []*domain.ChatResponse{{ToolCalls: calls}, {Content: "ok"}}}

	l := newTestLoop(p, reg, func(c *LoopConfig) { c.ParallelTools = 2 })
	if res := l.Run(context.Background(), request("x")); !res.OK() {
		t.Fatalf("result = %+v", res)
	}
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak.Load())
	}
	msgs := p.requests[1].Messages
	tail := msgs[len(msgs)-5:]
	for i, m := range tail {
		if m.ToolCallID != fmt.Sprintf("c%d", i) {
			t.Fatalf("tool results out of order: %+v", tail)
		}
	}
}

func TestLoop_Failures(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		p := &scriptedProvider{err: errors.New("HTTP 500")}
		res := newTestLoop(p, nil, nil).Run(context.Background(), request("x"))
		if res.OK() || !strings.Contains(res.Reason, "HTTP 500") {
			t.Fatalf("result = %+v", res)
		}
	})
	t.Run("empty answer", func(t *testing.T) {
		p := &scriptedProvider{responses: []*domain.ChatResponse{{Content: "   "}}}
		res := newTestLoop(p, nil, nil).Run(context.Background(), request("x"))
		if res.OK() || res.Reason != "empty response" {
			t.Fatalf("result = %+v", res)
		}
	})
	t.Run("iterations exhausted", func(t *testing.T) {
		reg := tool.NewRegistry(testLogger())
		reg.Register(&fakeTool{name: "faq_list", fn: func(map[string]any) (string, error) { return "{}", nil }})
		p := &scriptedProvider{responses: []*domain.ChatResponse{
			{ToolCalls: []domain.ToolCall{{ID: "c", Name: "faq_list"}}},
		}}
		res := newTestLoop(p, reg, func(c *LoopConfig) { c.MaxIterations = 2 }).Run(context.Background(), request("x"))
		if res.OK() || !strings.Contains(res.Reason, "2 iterations") {
			t.Fatalf("result = %+v", res)
		}
		if len(p.requests) != 2 {
			t.Fatalf("requests = %d", len(p.requests))
		}
	})
	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := &scriptedProvider{err: context.Canceled}
		res := newTestLoop(p, nil, nil).Run(ctx, request("x"))
		if res.OK() || !strings.Contains(res.Reason, "aborted") {
			t.Fatalf("result = %+v", res)
		}
	})
}

func TestLoop_HistoryFailureStillAnswers(t *testing.T) {
	hist := historyFunc(func(context.Context, int64, int) ([]domain.HistoryRecord, error) {
		return nil, errors.New("db locked")
	})
	p := &scriptedProvider{responses: []*domain.ChatResponse{{Content: "Oi!"}}}
	res := newTestLoop(p, nil, func(c *LoopConfig) { c.History = hist }).Run(context.Background(), request("oi"))
	if !res.OK() {
		t.Fatalf("result = %+v", res)
	}
	if n := len(p.requests[0].Messages); n != 2 {
		t.Fatalf("messages = %d, want system+user", n)
	}
}
