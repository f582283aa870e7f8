package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"spdropbot/internal/domain"
	"spdropbot/internal/metrics"
)

const (
	defaultDispatchTimeout = 5 * time.Minute
	sinkTimeout            = 5 * time.Second
)

// Handler processes one unified message.
type Handler interface {
	Process(ctx context.Context, in domain.Inbound) domain.Outcome
}

type DispatcherConfig struct {
	Handler Handler
	Sinks   []domain.OutcomeSink
	Timeout time.Duration // upper bound for one message, agent and delivery included
	Logger  *slog.Logger
}

// Dispatcher receives flushed bursts and processes each on its own goroutine,
// so the buffer never waits on the agent.
type Dispatcher struct {
	handler Handler
	sinks   []domain.OutcomeSink
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDispatchTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		handler: cfg.Handler,
		sinks:   cfg.Sinks,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// Dispatch matches buffer.DispatchFunc.
func (d *Dispatcher) Dispatch(senderID, text string, meta domain.MessageContext) {
	metrics.Dispatched.Inc()
	in := domain.Inbound{SenderID: senderID, Text: text, Context: meta}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Run(in)
	}()
}

// Run processes in synchronously and reports the outcome to every sink.
func (d *Dispatcher) Run(in domain.Inbound) domain.Outcome {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	started := time.Now()
	outcome := d.process(ctx, in)
	outcome.ID = newOutcomeID()
	outcome.SenderID = in.SenderID
	outcome.StartedAt = started
	outcome.Duration = time.Since(started)

	d.logOutcome(outcome)
	for _, sink := range d.sinks {
		d.record(sink, outcome)
	}
	return outcome
}

// Wait blocks until every dispatched message has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) process(ctx context.Context, in domain.Inbound) (out domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = domain.Outcome{Status: domain.OutcomeFailed, Reason: fmt.Sprintf("processor panic: %v", r)}
		}
	}()
	return d.handler.Process(ctx, in)
}

func (d *Dispatcher) record(sink domain.OutcomeSink, o domain.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("outcome sink panic", "outcome", o.ID, "panic", r)
		}
	}()
	sink.Record(ctx, o)
}

func (d *Dispatcher) logOutcome(o domain.Outcome) {
	attrs := []any{
		"id", o.ID,
		"sender", o.SenderID,
		"status", string(o.Status),
		"duration", o.Duration,
	}
	switch o.Status {
	case domain.OutcomeFailed:
		d.logger.Error("message failed", append(attrs, "reason", o.Reason, "apologized", o.Apologized)...)
	case domain.OutcomeReplied:
		d.logger.Info("message answered", append(attrs, "customer_id", o.CustomerID, "fragments", o.Fragments, "failed_sends", o.FailedSends)...)
	default:
		d.logger.Info("message ignored", attrs...)
	}
}

func newOutcomeID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
