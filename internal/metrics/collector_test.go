package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"spdropbot/internal/domain"
)

func TestRegistry_CounterIsShared(t *testing.T) {
	r := NewRegistry()
	a := r.Counter("x_total", "x", `k="v"`)
	b := r.Counter("x_total", "x", `k="v"`)
	a.Inc()
	b.Add(2)
	if a.Value() != 3 {
		t.Fatalf("expected 3, got %d", a.Value())
	}
	if r.Counter("x_total", "x", `k="w"`).Value() != 0 {
		t.Fatal("different labels must be a different series")
	}
}

func TestRegistry_HandlerRendersSeries(t *testing.T) {
	r := NewRegistry()
	r.Counter("demo_total", "Demo counter", `status="ok"`).Add(4)
	r.Gauge("demo_pending", "Demo gauge", "").Set(2)
	h := r.Histogram("demo_latency_seconds", "Demo histogram", "", []float64{1, 5})
	h.Observe(0.5)
	h.Observe(3)

	rec := httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`demo_total{status="ok"} 4`,
		"demo_pending 2",
		"# TYPE demo_latency_seconds histogram",
		`demo_latency_seconds_bucket{le="1"} 1`,
		`demo_latency_seconds_bucket{le="5"} 2`,
		"demo_latency_seconds_count 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in output:\n%s", want, body)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry()
	r.Counter("a_total", "a", "").Inc()
	r.Gauge("b", "b", `x="1"`).Set(7)
	snap := r.Snapshot()
	if snap["a_total"] != 1 || snap[`b{x="1"}`] != 7 {
		t.Fatalf("unexpected snapshot %v", snap)
	}
}

func TestOutcomeRecorder(t *testing.T) {
	before := FragmentsFailed.Value()
	failedBefore := Failed.Value()

	OutcomeRecorder{}.Record(context.Background(), domain.Outcome{
		Status: domain.OutcomeFailed, Fragments: 3, FailedSends: 1,
	})

	if FragmentsFailed.Value()-before != 1 {
		t.Errorf("expected one failed fragment recorded")
	}
	if Failed.Value()-failedBefore != 1 {
		t.Errorf("expected failed outcome counted")
	}
}
