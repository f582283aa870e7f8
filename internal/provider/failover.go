package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"spdropbot/internal/domain"
)

// Failover tries each provider in order and returns the first answer.
type Failover struct {
	providers []domain.Provider
	logger    *slog.Logger
}

var _ domain.Provider = (*Failover)(nil)

// NewFailover builds a chain; with a single provider it simply delegates.
func NewFailover(providers []domain.Provider, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{providers: providers, logger: logger}
}

func (f *Failover) Name() string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, ",") + ")"
}

// Healthy succeeds when any member is healthy.
func (f *Failover) Healthy(ctx context.Context) error {
	var errs []error
	for _, p := range f.providers {
		err := p.Healthy(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	if len(errs) == 0 {
		return errors.New("failover chain is empty")
	}
	return errors.Join(errs...)
}

// Chat stops early when ctx is done; a cancelled turn must not fan out to the fallbacks.
func (f *Failover) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if len(f.providers) == 0 {
		return nil, errors.New("failover chain is empty")
	}
	var lastErr error
	for i, p := range f.providers {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.Info("failover: answered by fallback", "provider", p.Name(), "attempt", i+1)
			}
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		f.logger.Warn("failover: provider failed", "provider", p.Name(), "attempt", i+1, "err", err)
	}
	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}
