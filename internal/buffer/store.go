// Package buffer coalesces bursts of chat fragments per sender. A burst is
// released as one unified message once the sender has been quiet for the
// configured period.
package buffer

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"spdropbot/internal/domain"
	"spdropbot/internal/metrics"
)

const DefaultQuietPeriod = 13 * time.Second

// DispatchFunc receives a unified message. It is called outside the store lock.
type DispatchFunc func(senderID, text string, meta domain.MessageContext)

type Config struct {
	QuietPeriod time.Duration
	Dispatch    DispatchFunc
	Logger      *slog.Logger
}

// pending is the mailbox of one sender. gen identifies the only timer allowed
// to flush it; a wake-up carrying any other generation is stale.
type pending struct {
	fragments []string
	meta      domain.MessageContext
	timer     *time.Timer
	gen       uint64
}

// Store owns every pending buffer. All map mutations happen under mu.
type Store struct {
	mu       sync.Mutex
	flushing sync.WaitGroup // drained bursts still inside dispatch
	buffers  map[string]*pending
	nextGen  uint64
	stopped  bool
	quiet    time.Duration
	dispatch DispatchFunc
	logger   *slog.Logger
}

func New(cfg Config) *Store {
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = DefaultQuietPeriod
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		buffers:  make(map[string]*pending),
		quiet:    cfg.QuietPeriod,
		dispatch: cfg.Dispatch,
		logger:   cfg.Logger,
	}
}

// QuietPeriod returns the debounce window.
func (s *Store) QuietPeriod() time.Duration { return s.quiet }

// Add appends text to the sender's buffer and restarts its quiet-period timer.
// meta is kept only when this call creates the buffer.
func (s *Store) Add(senderID, text string, meta domain.MessageContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		s.logger.Warn("buffer stopped, dropping fragment", "sender", senderID)
		return
	}

	p, ok := s.buffers[senderID]
	if !ok {
		p = &pending{meta: meta}
		s.buffers[senderID] = p
		metrics.PendingBuffers.Inc()
	}
	p.fragments = append(p.fragments, text)

	if p.timer != nil {
		p.timer.Stop()
	}
	s.nextGen++
	gen := s.nextGen
	p.gen = gen
	p.timer = time.AfterFunc(s.quiet, func() { s.flush(senderID, gen) })

	s.logger.Debug("fragment buffered",
		"sender", senderID,
		"fragments", len(p.fragments),
		"quiet_period", s.quiet,
	)
}

// flush drains the sender's buffer if gen is still the live generation.
// Draining and removal happen in one critical section; dispatch runs after it.
func (s *Store) flush(senderID string, gen uint64) {
	s.mu.Lock()
	p, ok := s.buffers[senderID]
	if !ok || p.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.buffers, senderID)
	metrics.PendingBuffers.Dec()
	text := strings.Join(p.fragments, "\n")
	meta := p.meta
	count := len(p.fragments)
	s.flushing.Add(1)
	s.mu.Unlock()
	defer s.flushing.Done()

	s.logger.Info("buffer flushed", "sender", senderID, "fragments", count, "text_len", len(text))

	if s.dispatch == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("dispatch panic", "sender", senderID, "panic", r)
		}
	}()
	s.dispatch(senderID, text, meta)
}

// Pending returns the number of senders with a buffered burst.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers)
}

// Fragments returns a copy of the sender's buffered fragments.
func (s *Store) Fragments(senderID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.buffers[senderID]
	if !ok {
		return nil
	}
	out := make([]string, len(p.fragments))
	copy(out, p.fragments)
	return out
}

// Stop cancels every timer and discards pending bursts. Later Adds are dropped.
// It returns once bursts already handed to dispatch have been dispatched.
func (s *Store) Stop() int {
	s.mu.Lock()
	dropped := len(s.buffers)
	for id, p := range s.buffers {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(s.buffers, id)
		metrics.PendingBuffers.Dec()
	}
	s.stopped = true
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Warn("buffer stopped with pending bursts", "dropped", dropped)
	}
	s.flushing.Wait()
	return dropped
}
