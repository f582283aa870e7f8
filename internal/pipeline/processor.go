package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"spdropbot/internal/domain"
	"spdropbot/internal/metrics"
)

const DefaultApology = "Desculpe, tive um problema ao processar sua mensagem. Pode tentar novamente?"

// apologyTimeout bounds the apology send. It runs detached from the message
// context, which is often the thing that just expired.
const apologyTimeout = 10 * time.Second

type ProcessorConfig struct {
	Customers domain.CustomerStore
	Memories  domain.MemoryStore // optional: saved facts are prepended to the agent input
	Agent     domain.Agent
	Lane      *Lane
	Paginator *Paginator
	Transport domain.Transport
	Apology   string
	Logger    *slog.Logger
}

// Processor turns a unified message into a persisted, delivered reply.
type Processor struct {
	customers domain.CustomerStore
	memories  domain.MemoryStore
	agent     domain.Agent
	lane      *Lane
	paginator *Paginator
	transport domain.Transport
	apology   string
	logger    *slog.Logger
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Lane == nil {
		cfg.Lane = NewLane(1)
	}
	if cfg.Apology == "" {
		cfg.Apology = DefaultApology
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Paginator == nil {
		cfg.Paginator = NewPaginator(PaginatorConfig{Transport: cfg.Transport, Logger: cfg.Logger})
	}
	return &Processor{
		customers: cfg.Customers,
		memories:  cfg.Memories,
		agent:     cfg.Agent,
		lane:      cfg.Lane,
		paginator: cfg.Paginator,
		transport: cfg.Transport,
		apology:   cfg.Apology,
		logger:    cfg.Logger,
	}
}

var errNoPhone = errors.New("sender address has no phone digits")

// Process handles one unified message. It never returns an error: every path
// ends in an Outcome, and failures after filtering trigger an apology.
func (p *Processor) Process(ctx context.Context, in domain.Inbound) domain.Outcome {
	out := domain.Outcome{SenderID: in.SenderID}

	if domain.IsGroupAddress(in.SenderID) {
		out.Status = domain.OutcomeIgnoredGroup
		return out
	}
	if strings.TrimSpace(in.Text) == "" {
		out.Status = domain.OutcomeIgnoredEmpty
		return out
	}

	reply, err := p.converse(ctx, in, &out)
	if err != nil {
		p.logger.Error("message processing failed",
			"sender", in.SenderID,
			"customer_id", out.CustomerID,
			"err", err,
		)
		out.Status = domain.OutcomeFailed
		out.Reason = err.Error()
		out.Apologized = p.apologize(ctx, in.SenderID)
		return out
	}

	report := p.paginator.Send(ctx, in.SenderID, reply)
	out.Status = domain.OutcomeReplied
	out.Fragments = report.Total
	out.FailedSends = report.Failed
	return out
}

// converse resolves the customer, runs the agent, and records the exchange.
func (p *Processor) converse(ctx context.Context, in domain.Inbound, out *domain.Outcome) (string, error) {
	phone := domain.NormalizePhone(in.SenderID)
	if phone == "" {
		return "", errNoPhone
	}

	customerID, err := p.customers.GetOrCreateCustomer(ctx, phone)
	if err != nil {
		return "", fmt.Errorf("resolve customer: %w", err)
	}
	out.CustomerID = customerID

	sessionKey := domain.SessionKey(phone)
	out.SessionKey = sessionKey
	if err := p.customers.EnsureSession(ctx, sessionKey, customerID); err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}

	result, err := p.runAgent(ctx, domain.AgentRequest{
		SessionKey: sessionKey,
		CustomerID: customerID,
		Text:       p.annotate(ctx, customerID, in.Text),
	})
	if err != nil {
		return "", err
	}
	if !result.OK() {
		return "", fmt.Errorf("agent failure: %s", result.Reason)
	}

	if err := p.customers.AppendHistory(ctx, sessionKey, customerID, in.Text, result.Text); err != nil {
		return "", fmt.Errorf("append history: %w", err)
	}
	return result.Text, nil
}

// annotate prefixes the routing context the agent's tools rely on.
func (p *Processor) annotate(ctx context.Context, customerID int64, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[CONTEXT: customer_id=%d]\n", customerID)

	if p.memories != nil {
		mems, err := p.memories.Memories(ctx, customerID)
		if err != nil {
			p.logger.Warn("could not load customer memories", "customer_id", customerID, "err", err)
		} else if len(mems) > 0 {
			pairs := make([]string, 0, len(mems))
			for _, m := range mems {
				pairs = append(pairs, m.Key+"="+m.Value)
			}
			fmt.Fprintf(&b, "[MEMORIES: %s]\n", strings.Join(pairs, "; "))
		}
	}

	b.WriteString(text)
	return b.String()
}

// runAgent executes the agent on the isolated lane and converts panics into failures.
func (p *Processor) runAgent(ctx context.Context, req domain.AgentRequest) (domain.AgentResult, error) {
	var (
		result  domain.AgentResult
		started time.Time
	)
	queued := time.Now()

	err := p.lane.Do(ctx, func(ctx context.Context) {
		started = time.Now()
		metrics.LaneWait.ObserveDuration(started.Sub(queued))
		defer func() {
			if r := recover(); r != nil {
				result = domain.Failure(fmt.Sprintf("agent panic: %v", r))
			}
		}()
		result = p.agent.Run(ctx, req)
	})
	if err != nil {
		return result, fmt.Errorf("wait for agent lane: %w", err)
	}

	p.logger.Info("agent turn finished",
		"session", req.SessionKey,
		"result", result.Kind.String(),
		"queued", started.Sub(queued),
		"elapsed", time.Since(started),
	)
	return result, nil
}

// apologize tells the sender something went wrong. Its own failure is only logged.
func (p *Processor) apologize(ctx context.Context, recipient string) bool {
	if p.transport == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), apologyTimeout)
	defer cancel()
	if err := p.transport.SendText(ctx, recipient, p.apology); err != nil {
		p.logger.Warn("apology not sent", "recipient", recipient, "err", err)
		return false
	}
	return true
}
