package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"spdropbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func noSleep(context.Context, time.Duration) error { return nil }

type sent struct {
	to   string
	text string
}

type fakeTransport struct {
	mu     sync.Mutex
	sent   []sent
	failOn map[string]bool // texts that fail to send
}

func (f *fakeTransport) SendText(ctx context.Context, to, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[text] {
		return errors.New("bridge unavailable")
	}
	f.sent = append(f.sent, sent{to: to, text: text})
	return nil
}

func (f *fakeTransport) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.text
	}
	return out
}

type historyCall struct {
	sessionKey string
	customerID int64
	user       string
	reply      string
}

type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	ids       map[string]int64
	sessions  map[string]int64
	history   []historyCall
	memories  map[int64][]domain.Memory
	failGet   error
	failWrite error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextID:   6,
		ids:      make(map[string]int64),
		sessions: make(map[string]int64),
		memories: make(map[int64][]domain.Memory),
	}
}

func (s *fakeStore) GetOrCreateCustomer(_ context.Context, phone string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return 0, s.failGet
	}
	if id, ok := s.ids[phone]; ok {
		return id, nil
	}
	s.nextID++
	s.ids[phone] = s.nextID
	return s.nextID, nil
}

func (s *fakeStore) EnsureSession(_ context.Context, key string, customerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = customerID
	return nil
}

func (s *fakeStore) AppendHistory(_ context.Context, key string, customerID int64, user, reply string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return s.failWrite
	}
	s.history = append(s.history, historyCall{key, customerID, user, reply})
	return nil
}

func (s *fakeStore) SaveMemory(_ context.Context, customerID int64, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[customerID] = append(s.memories[customerID], domain.Memory{CustomerID: customerID, Key: key, Value: value})
	return nil
}

func (s *fakeStore) Memories(_ context.Context, customerID int64) ([]domain.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memories[customerID], nil
}

type fakeAgent struct {
	mu       sync.Mutex
	requests []domain.AgentRequest
	result   domain.AgentResult
	panics   bool
	hold     time.Duration
	blocks   bool // wait for ctx to end, then fail
	running  atomic.Int32
	peak     atomic.Int32
}

func (a *fakeAgent) Run(ctx context.Context, req domain.AgentRequest) domain.AgentResult {
	n := a.running.Add(1)
	defer a.running.Add(-1)
	for {
		p := a.peak.Load()
		if n <= p || a.peak.CompareAndSwap(p, n) {
			break
		}
	}

	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()

	if a.hold > 0 {
		time.Sleep(a.hold)
	}
	if a.blocks {
		<-ctx.Done()
		return domain.Failure("agent turn aborted: " + ctx.Err().Error())
	}
	if a.panics {
		panic("model client blew up")
	}
	return a.result
}

func (a *fakeAgent) calls() []domain.AgentRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AgentRequest(nil), a.requests...)
}
