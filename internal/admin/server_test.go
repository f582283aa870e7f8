package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"spdropbot/internal/channel"
	"spdropbot/internal/domain"
	"spdropbot/internal/store"
)

const testKey = "admin-secret"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeWhatsApp struct {
	err       error
	loggedOut bool
}

func (f *fakeWhatsApp) Status(context.Context) (*channel.BridgeStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &channel.BridgeStatus{Connected: true, State: "CONNECTED"}, nil
}

func (f *fakeWhatsApp) QR(context.Context) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"qr": "data:image/png;base64,AAAA"}, nil
}

func (f *fakeWhatsApp) Logout(context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.loggedOut = true
	return nil
}

type fakePending int

func (f fakePending) Pending() int { return int(f) }

type fakeOutcomes []domain.Outcome

func (f fakeOutcomes) Recent(n int) []domain.Outcome {
	if n > len(f) {
		n = len(f)
	}
	return f[:n]
}

type fixture struct {
	store   *store.Store
	wa      *fakeWhatsApp
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "admin.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	wa := &fakeWhatsApp{}
	srv := NewServer(Config{
		APIKey:   testKey,
		Store:    s,
		WhatsApp: wa,
		Buffers:  fakePending(2),
		Outcomes: fakeOutcomes{{ID: "o2", Status: domain.OutcomeReplied}, {ID: "o1", Status: domain.OutcomeFailed}},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("spdropbot_uptime_seconds 1\n"))
		}),
		Logger: testLogger(),
	})
	return &fixture{store: s, wa: wa, handler: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var m map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
			t.Fatalf("decode %s %s: %v\n%s", method, path, err, rec.Body.String())
		}
	}
	return rec, m
}

func (f *fixture) newTrial(t *testing.T) int64 {
	t.Helper()
	ctx := context.Background()
	cid, err := f.store.GetOrCreateCustomer(ctx, "5511988887777")
	if err != nil {
		t.Fatal(err)
	}
	tr, err := f.store.CreateTrial(ctx, domain.Trial{
		CustomerID: cid, FullName: "Maria Souza", CPF: "12345678901",
		Phone: "11988887777", Email: "maria@loja.com.br",
	})
	if err != nil {
		t.Fatal(err)
	}
	return tr.ID
}

func TestAuth(t *testing.T) {
	f := newFixture(t)

	for _, header := range []string{"", "Bearer wrong", testKey, "Basic " + testKey} {
		req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("Authorization %q: status %d, want 401", header, rec.Code)
		}
	}
}

func TestAuth_EmptyKeyRejectsEverything(t *testing.T) {
	srv := NewServer(Config{Logger: testLogger()})
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
}

func TestStatsAndCustomers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.store.GetOrCreateCustomer(ctx, "5511999999999")
	if err := f.store.EnsureSession(ctx, "whatsapp_5511999999999", id); err != nil {
		t.Fatal(err)
	}
	if err := f.store.AppendHistory(ctx, "whatsapp_5511999999999", id, "oi", "Olá!"); err != nil {
		t.Fatal(err)
	}

	rec, stats := f.do(t, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status %d", rec.Code)
	}
	if stats["customers"] != float64(1) || stats["messages"] != float64(1) {
		t.Errorf("stats = %v", stats)
	}

	rec, body := f.do(t, http.MethodGet, "/api/customers?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("customers status %d", rec.Code)
	}
	customers := body["customers"].([]any)
	if len(customers) != 1 {
		t.Fatalf("customers = %v", customers)
	}

	rec, _ = f.do(t, http.MethodGet, "/api/customers?limit=0", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0: status %d, want 400", rec.Code)
	}

	path := "/api/customers/" + strconv.FormatInt(id, 10) + "/history"
	rec, body = f.do(t, http.MethodGet, path, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history status %d", rec.Code)
	}
	history := body["history"].([]any)
	if len(history) != 1 || history[0].(map[string]any)["agent_response"] != "Olá!" {
		t.Errorf("history = %v", history)
	}
}

func TestHistory_UnknownCustomer(t *testing.T) {
	f := newFixture(t)

	if rec, _ := f.do(t, http.MethodGet, "/api/customers/42/history", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", rec.Code)
	}
	if rec, _ := f.do(t, http.MethodGet, "/api/customers/abc/history", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", rec.Code)
	}
}

func TestTrials(t *testing.T) {
	f := newFixture(t)
	id := f.newTrial(t)
	base := "/api/trials/" + strconv.FormatInt(id, 10)

	rec, body := f.do(t, http.MethodGet, "/api/trials?status=active", "")
	if rec.Code != http.StatusOK || len(body["trials"].([]any)) != 1 {
		t.Fatalf("list: %d %v", rec.Code, body)
	}
	if rec, _ := f.do(t, http.MethodGet, "/api/trials?status=bogus", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bogus status filter: %d", rec.Code)
	}

	rec, body = f.do(t, http.MethodPatch, base+"/status", `{"status":"cancelled","notes":"desistiu"}`)
	if rec.Code != http.StatusOK || body["status"] != "cancelled" || body["notes"] != "desistiu" {
		t.Fatalf("patch: %d %v", rec.Code, body)
	}
	if rec, _ := f.do(t, http.MethodPatch, base+"/status", `{"status":"paused"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid status: %d", rec.Code)
	}
	if rec, _ := f.do(t, http.MethodPatch, base+"/status", `{`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad JSON: %d", rec.Code)
	}

	rec, body = f.do(t, http.MethodPost, base+"/convert", `{"plan":"profissional"}`)
	if rec.Code != http.StatusOK || body["status"] != "converted" || body["converted_to_plan"] != "profissional" {
		t.Fatalf("convert: %d %v", rec.Code, body)
	}
	if rec, _ := f.do(t, http.MethodPost, base+"/convert", `{"plan":"  "}`); rec.Code != http.StatusBadRequest {
		t.Errorf("blank plan: %d", rec.Code)
	}
	if rec, _ := f.do(t, http.MethodPost, "/api/trials/999/convert", `{"plan":"basico"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown trial: %d", rec.Code)
	}
}

func TestWhatsApp(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/api/whatsapp/status", "")
	if rec.Code != http.StatusOK || body["connected"] != true {
		t.Fatalf("status: %d %v", rec.Code, body)
	}
	rec, body = f.do(t, http.MethodGet, "/api/whatsapp/qr", "")
	if rec.Code != http.StatusOK || body["qr"] == nil {
		t.Fatalf("qr: %d %v", rec.Code, body)
	}
	rec, _ = f.do(t, http.MethodPost, "/api/whatsapp/logout", "")
	if rec.Code != http.StatusOK || !f.wa.loggedOut {
		t.Fatalf("logout: %d loggedOut=%v", rec.Code, f.wa.loggedOut)
	}

	f.wa.err = errors.New("connection refused")
	if rec, _ := f.do(t, http.MethodGet, "/api/whatsapp/status", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("bridge down: %d, want 502", rec.Code)
	}
}

func TestPipelineAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/api/pipeline?limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pipeline status %d", rec.Code)
	}
	if body["pending_buffers"] != float64(2) {
		t.Errorf("pending_buffers = %v", body["pending_buffers"])
	}
	recent := body["recent"].([]any)
	if len(recent) != 1 || recent[0].(map[string]any)["id"] != "o2" {
		t.Errorf("recent = %v", recent)
	}

	rec, _ = f.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "spdropbot_uptime_seconds") {
		t.Errorf("metrics: %d %q", rec.Code, rec.Body.String())
	}
}
