// Package agent runs one customer turn through the LLM: build the prompt from
// recent history, call the model, execute the tools it asks for, and repeat
// until it answers in plain text.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"spdropbot/internal/domain"
	"spdropbot/internal/metrics"
	"spdropbot/internal/tool"
)

const (
	defaultMaxIterations    = 10
	defaultHistoryLimit     = 20
	defaultLLMMaxTokens     = 1024
	defaultTemperature      = 0.7
	defaultMaxParallelTools = 5
)

// Loop is the sales agent: prompt → LLM → tools → reply.
type Loop struct {
	provider      domain.Provider
	history       domain.HistoryStore
	prompt        *PromptBuilder
	tools         *tool.Registry
	filter        *ToolFilter
	logger        *slog.Logger
	model         string
	temperature   float64
	maxTokens     int
	maxIterations int
	historyLimit  int
	parallelTools int
}

// LoopConfig holds all dependencies and tuning parameters for the agent loop.
type LoopConfig struct {
	Provider      domain.Provider
	History       domain.HistoryStore // optional
	Prompt        *PromptBuilder
	Tools         *tool.Registry
	Filter        *ToolFilter
	Logger        *slog.Logger
	Model         string
	Temperature   float64
	MaxTokens     int
	MaxIterations int
	HistoryLimit  int // exchanges, not messages
	ParallelTools int
}

var _ domain.Agent = (*Loop)(nil)

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.ParallelTools <= 0 {
		cfg.ParallelTools = defaultMaxParallelTools
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultLLMMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Prompt == nil {
		cfg.Prompt = NewPromptBuilder("")
	}
	return &Loop{
		provider:      cfg.Provider,
		history:       cfg.History,
		prompt:        cfg.Prompt,
		tools:         cfg.Tools,
		filter:        cfg.Filter,
		logger:        cfg.Logger,
		model:         cfg.Model,
		temperature:   cfg.Temperature,
		maxTokens:     cfg.MaxTokens,
		maxIterations: cfg.MaxIterations,
		historyLimit:  cfg.HistoryLimit,
		parallelTools: cfg.ParallelTools,
	}
}

// Run answers one turn. Errors never escape as Go errors: they become Failure
// results the processor turns into an apology.
func (l *Loop) Run(ctx context.Context, req domain.AgentRequest) domain.AgentResult {
	start := time.Now()
	defer func() { metrics.AgentLatency.ObserveDuration(time.Since(start)) }()

	var history []domain.HistoryRecord
	if l.history != nil && req.CustomerID > 0 {
		h, err := l.history.RecentHistory(ctx, req.CustomerID, l.historyLimit)
		if err != nil {
			l.logger.Warn("failed to load history, continuing without it", "customer", req.CustomerID, "err", err)
		} else {
			history = h
		}
	}

	messages := l.prompt.BuildMessages(history, req.Text)

	var toolDefs []domain.ToolDefinition
	if l.tools != nil {
		toolDefs = l.filter.FilterDefinitions(l.tools.GetDefinitions())
	}

	for iteration := 0; iteration < l.maxIterations; iteration++ {
		l.logger.Debug("agent iteration", "session", req.SessionKey, "iteration", iteration+1, "messages", len(messages))

		resp, err := l.provider.Chat(ctx, domain.ChatRequest{
			Messages:    messages,
			Tools:       toolDefs,
			Model:       l.model,
			MaxTokens:   l.maxTokens,
			Temperature: l.temperature,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.Failure(fmt.Sprintf("agent turn aborted: %v", ctxErr))
			}
			return domain.Failure(fmt.Sprintf("LLM error: %v", err))
		}

		// Fallback: some models embed tool calls as JSON in the content field.
		if !resp.HasToolCalls() && resp.Content != "" {
			if extracted := extractToolCallsFromContent(resp.Content); len(extracted) > 0 {
				resp.ToolCalls = extracted
				resp.Content = ""
				l.logger.Info("extracted tool calls from content text", "count", len(extracted))
			}
		}

		if !resp.HasToolCalls() {
			answer := stripRolePrefix(strings.TrimSpace(resp.Content))
			if answer == "" {
				return domain.Failure("empty response")
			}
			l.logger.Info("agent answered",
				"session", req.SessionKey,
				"iterations", iteration+1,
				"latency_ms", time.Since(start).Milliseconds(),
			)
			return domain.PlainText(answer)
		}

		messages = append(messages, domain.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		messages = append(messages, l.runTools(ctx, resp.ToolCalls)...)
	}

	return domain.Failure(fmt.Sprintf("no answer after %d iterations", l.maxIterations))
}

// runTools executes the calls with bounded parallelism and returns the tool
// messages in call order.
func (l *Loop) runTools(ctx context.Context, calls []domain.ToolCall) []domain.Message {
	results := make([]domain.Message, len(calls))

	var g errgroup.Group
	g.SetLimit(l.parallelTools)
	for i, tc := range calls {
		g.Go(func() error {
			result, err := l.executeTool(ctx, tc)
			if err != nil {
				l.logger.Warn("tool failed", "tool", tc.Name, "err", err)
				result = toolError(err)
			}
			results[i] = domain.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// executeTool runs a single tool call, recovering from tool panics.
func (l *Loop) executeTool(ctx context.Context, tc domain.ToolCall) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", tc.Name, r)
		}
	}()

	if l.tools == nil {
		return "", errors.New("tool registry not initialized")
	}
	if !l.filter.IsAllowed(tc.Name) {
		return "", fmt.Errorf("tool %s is disabled", tc.Name)
	}

	l.logger.Info("executing tool", "tool", tc.Name)
	if l.logger.Enabled(ctx, slog.LevelDebug) {
		if argsJSON, err := json.Marshal(tc.Arguments); err == nil {
			l.logger.Debug("tool arguments", "tool", tc.Name, "args", string(argsJSON))
		}
	}

	result, err = l.tools.Execute(ctx, tc.Name, tc.Arguments)
	if err != nil {
		return "", err
	}
	l.logger.Debug("tool completed", "tool", tc.Name, "result_len", len(result))
	return result, nil
}

// toolError renders a failure the model can read and act on.
func toolError(err error) string {
	b, _ := json.Marshal(map[string]any{
		"error":         err.Error(),
		"invalid_input": errors.Is(err, tool.ErrInvalidArgs),
	})
	return string(b)
}
