package tool

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"spdropbot/internal/domain"
	"spdropbot/internal/knowledge"
	"spdropbot/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newCustomer(t *testing.T, s *store.Store) int64 {
	t.Helper()
	id, err := s.GetOrCreateCustomer(context.Background(), "5511999999999")
	if err != nil {
		t.Fatalf("customer: %v", err)
	}
	return id
}

func decode(t *testing.T, out string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("result is not JSON: %v\n%s", err, out)
	}
	return m
}

func testCatalog() *knowledge.Catalog {
	return knowledge.NewCatalog([]knowledge.FAQ{
		{Question: "Quanto custa o plano?", Answer: "97 por mês", Recommended: "O plano custa R$ 97,00 por mês."},
		{Question: "Como funciona a integração?", Answer: "liga na shopify", Recommended: "Integramos com a Shopify."},
	})
}

func TestFAQSearchTool(t *testing.T) {
	tl := NewFAQSearchTool(testCatalog(), 0)
	ctx := context.Background()

	out, err := tl.Execute(ctx, map[string]any{"question": "quanto custa o plano"})
	if err != nil {
		t.Fatal(err)
	}
	m := decode(t, out)
	if m["found"] != true || m["recommended_answer"] != "O plano custa R$ 97,00 por mês." {
		t.Fatalf("unexpected result: %v", m)
	}
	if c := m["confidence"].(float64); c < 90 || c > 100 {
		t.Fatalf("confidence = %v", c)
	}

	out, err = tl.Execute(ctx, map[string]any{"question": "xyz"})
	if err != nil {
		t.Fatal(err)
	}
	if decode(t, out)["found"] != false {
		t.Fatalf("expected no match: %s", out)
	}

	if _, err := tl.Execute(ctx, map[string]any{}); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("missing question: %v", err)
	}
}

func TestFAQSearchTool_EmptyCatalog(t *testing.T) {
	out, err := NewFAQSearchTool(knowledge.NewCatalog(nil), 0.3).Execute(context.Background(), map[string]any{"question": "oi"})
	if err != nil {
		t.Fatal(err)
	}
	if m := decode(t, out); m["found"] != false || m["error"] == nil {
		t.Fatalf("unexpected: %v", m)
	}
}

func TestFAQListAndKeywordTools(t *testing.T) {
	ctx := context.Background()
	out, err := NewFAQListTool(testCatalog()).Execute(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if decode(t, out)["total"] != float64(2) {
		t.Fatalf("list: %s", out)
	}

	kw := NewFAQKeywordTool(testCatalog())
	out, err = kw.Execute(ctx, map[string]any{"keyword": "Shopify"})
	if err != nil {
		t.Fatal(err)
	}
	m := decode(t, out)
	if m["found"] != true || m["total"] != float64(1) {
		t.Fatalf("keyword: %v", m)
	}
	out, _ = kw.Execute(ctx, map[string]any{"keyword": "boleto"})
	if decode(t, out)["found"] != false {
		t.Fatalf("keyword miss: %s", out)
	}
}

func TestMemoryTools(t *testing.T) {
	s := newTestStore(t)
	id := newCustomer(t, s)
	ctx := context.Background()
	save := NewSaveMemoryTool(s)
	get := NewGetMemoriesTool(s)

	if _, err := save.Execute(ctx, map[string]any{"customer_id": float64(id), "memory_key": "nicho", "memory_value": "pets"}); err != nil {
		t.Fatal(err)
	}
	if _, err := save.Execute(ctx, map[string]any{"customer_id": float64(id), "memory_key": "nicho", "memory_value": "moda"}); err != nil {
		t.Fatal(err)
	}

	out, err := get.Execute(ctx, map[string]any{"customer_id": float64(id)})
	if err != nil {
		t.Fatal(err)
	}
	m := decode(t, out)
	mems := m["memories"].(map[string]any)
	if m["total"] != float64(1) || mems["nicho"] != "moda" {
		t.Fatalf("memories: %v", m)
	}

	if _, err := save.Execute(ctx, map[string]any{"customer_id": float64(id), "memory_key": "x"}); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("missing value: %v", err)
	}
	if _, err := get.Execute(ctx, map[string]any{"customer_id": "abc"}); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("bad customer id: %v", err)
	}
}

func TestGetHistoryTool(t *testing.T) {
	s := newTestStore(t)
	id := newCustomer(t, s)
	ctx := context.Background()
	key := domain.SessionKey("5511999999999")
	if err := s.EnsureSession(ctx, key, id); err != nil {
		t.Fatal(err)
	}
	for _, msg := range []string{"oi", "quanto custa?", "obrigado"} {
		if err := s.AppendHistory(ctx, key, id, msg, "resposta: "+msg); err != nil {
			t.Fatal(err)
		}
	}

	out, err := NewGetHistoryTool(s).Execute(ctx, map[string]any{"customer_id": float64(id), "limit": float64(2)})
	if err != nil {
		t.Fatal(err)
	}
	var res struct {
		Total     int `json:"total"`
		Exchanges []struct {
			User string `json:"user"`
		} `json:"exchanges"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatal(err)
	}
	if res.Total != 2 || res.Exchanges[0].User != "quanto custa?" || res.Exchanges[1].User != "obrigado" {
		t.Fatalf("history: %+v", res)
	}
}

func TestTrialSignup_Validate(t *testing.T) {
	valid := TrialSignup{FullName: "João Silva", CPF: "123.456.789-09", Phone: "(11) 98765-4321", Email: "joao@gmail.com"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid signup rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*TrialSignup)
	}{
		{"short name", func(s *TrialSignup) { s.FullName = "Jo" }},
		{"placeholder name", func(s *TrialSignup) { s.FullName = "Cliente Teste" }},
		{"short cpf", func(s *TrialSignup) { s.CPF = "123.456.789" }},
		{"long cpf", func(s *TrialSignup) { s.CPF = "123.456.789-091" }},
		{"placeholder cpf", func(s *TrialSignup) { s.CPF = "111.111.111-11" }},
		{"short phone", func(s *TrialSignup) { s.Phone = "98765-4321" }},
		{"placeholder phone", func(s *TrialSignup) { s.Phone = "11 90000-0000" }},
		{"email without at", func(s *TrialSignup) { s.Email = "joao.gmail.com" }},
		{"email without dot", func(s *TrialSignup) { s.Email = "joao@gmail" }},
		{"placeholder email", func(s *TrialSignup) { s.Email = "usuario@example.com" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			if err := s.Validate(); !errors.Is(err, ErrInvalidArgs) {
				t.Fatalf("expected ErrInvalidArgs, got %v", err)
			}
		})
	}
}

func TestTrialTools(t *testing.T) {
	s := newTestStore(t)
	id := newCustomer(t, s)
	ctx := context.Background()

	args := map[string]any{
		"customer_id": float64(id),
		"full_name":   "Maria Souza",
		"cpf":         "529.982.247-25",
		"phone":       "11 98765-4321",
		"email":       "maria@gmail.com",
	}
	out, err := NewCreateTrialTool(s).Execute(ctx, args)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m := decode(t, out)
	if m["success"] != true || m["status"] != "active" || !strings.Contains(m["message"].(string), "Maria Souza") {
		t.Fatalf("create result: %v", m)
	}

	args["email"] = "teste@teste.com"
	if _, err := NewCreateTrialTool(s).Execute(ctx, args); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("placeholder email accepted: %v", err)
	}

	list := NewListTrialsTool(s)
	out, err = list.Execute(ctx, map[string]any{"customer_id": float64(id)})
	if err != nil {
		t.Fatal(err)
	}
	if decode(t, out)["count"] != float64(1) {
		t.Fatalf("list: %s", out)
	}
	out, err = list.Execute(ctx, map[string]any{"customer_id": float64(id), "status": "converted"})
	if err != nil {
		t.Fatal(err)
	}
	if decode(t, out)["count"] != float64(0) {
		t.Fatalf("list converted: %s", out)
	}
	if _, err := list.Execute(ctx, map[string]any{"customer_id": float64(id), "status": "paused"}); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("unknown status: %v", err)
	}
}

func TestDemoAccountTool(t *testing.T) {
	tl := NewDemoAccountTool(DemoCredentials{URL: "https://app.spdrop.com.br", Username: "demo@spdrop.com.br", Password: "s3cret"})
	out, err := tl.Execute(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	m := decode(t, out)
	msg := m["formatted_message"].(string)
	if m["success"] != true || !strings.Contains(msg, "demo@spdrop.com.br") || !strings.Contains(msg, "s3cret") {
		t.Fatalf("demo: %v", m)
	}

	out, err = NewDemoAccountTool(DemoCredentials{}).Execute(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if decode(t, out)["success"] != false {
		t.Fatalf("unconfigured demo: %s", out)
	}
}

func TestScriptSearchTool(t *testing.T) {
	scripts := knowledge.NewScripts([]knowledge.ScriptLine{
		{ProfileID: 1, Profile: "Mãe ocupada", Type: "normal", Stage: "abertura", Speaker: "vendedor", Content: "Oi! Você já vende online?"},
		{ProfileID: 1, Profile: "Mãe ocupada", Type: "normal", Stage: "objecao", Speaker: "cliente", Content: "Não tenho tempo"},
		{ProfileID: 2, Profile: "Estudante", Type: "promocao", Stage: "fechamento", Speaker: "vendedor", Content: "Hoje sai com desconto"},
	})
	tl := NewScriptSearchTool(scripts)
	ctx := context.Background()

	out, err := tl.Execute(ctx, map[string]any{"stage": "objecao"})
	if err != nil {
		t.Fatal(err)
	}
	if m := decode(t, out); m["found"] != true || m["total"] != float64(1) {
		t.Fatalf("stage: %v", m)
	}

	out, err = tl.Execute(ctx, map[string]any{"list_profiles": true})
	if err != nil {
		t.Fatal(err)
	}
	if decode(t, out)["total"] != float64(2) {
		t.Fatalf("profiles: %s", out)
	}

	out, _ = tl.Execute(ctx, map[string]any{"keyword": "boleto"})
	if decode(t, out)["found"] != false {
		t.Fatalf("miss: %s", out)
	}
	if _, err := tl.Execute(ctx, map[string]any{}); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("no filters: %v", err)
	}
}
