package pipeline

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"spdropbot/internal/domain"
)

const (
	DefaultChunkThreshold = 200
	DefaultMinDelay       = 3 * time.Second
	DefaultMaxDelay       = 6 * time.Second
	DefaultPerCharDelay   = 10 * time.Millisecond // 1s per 100 chars
)

var (
	paragraphBreak = regexp.MustCompile(`\n\s*\n`)
	sentenceEnd    = regexp.MustCompile(`[.!?]\s+`)
)

type PaginatorConfig struct {
	Transport    domain.Transport
	Threshold    int
	MinDelay     time.Duration
	MaxDelay     time.Duration
	PerCharDelay time.Duration
	// Sleep waits between fragments. Defaults to a context-aware timer.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// Paginator delivers a reply as several short, paced chat bubbles.
type Paginator struct {
	transport domain.Transport
	threshold int
	minDelay  time.Duration
	maxDelay  time.Duration
	perChar   time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger
}

func NewPaginator(cfg PaginatorConfig) *Paginator {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultChunkThreshold
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = DefaultMinDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.PerCharDelay <= 0 {
		cfg.PerCharDelay = DefaultPerCharDelay
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Paginator{
		transport: cfg.Transport,
		threshold: cfg.Threshold,
		minDelay:  cfg.MinDelay,
		maxDelay:  cfg.MaxDelay,
		perChar:   cfg.PerCharDelay,
		sleep:     cfg.Sleep,
		logger:    cfg.Logger,
	}
}

// SendReport summarizes one paginated delivery.
type SendReport struct {
	Total  int
	Sent   int
	Failed int
	Delays []time.Duration
}

// Split breaks reply into the fragments Send would deliver.
func (p *Paginator) Split(reply string) []string {
	return SplitReply(reply, p.threshold)
}

// Delay is the pause after sending piece: minDelay plus perChar for every
// character, capped at maxDelay.
func (p *Paginator) Delay(piece string) time.Duration {
	d := p.minDelay + time.Duration(utf8.RuneCountInString(piece))*p.perChar
	if d > p.maxDelay {
		d = p.maxDelay
	}
	return d
}

// Send delivers every fragment in order. A failed fragment is logged and the
// rest are still sent.
func (p *Paginator) Send(ctx context.Context, recipient, reply string) SendReport {
	parts := p.Split(reply)
	report := SendReport{Total: len(parts)}

	for i, part := range parts {
		if err := p.transport.SendText(ctx, recipient, part); err != nil {
			report.Failed++
			p.logger.Warn("reply fragment not sent",
				"recipient", recipient,
				"fragment", i+1,
				"of", len(parts),
				"err", err,
			)
		} else {
			report.Sent++
			p.logger.Debug("reply fragment sent", "recipient", recipient, "fragment", i+1, "of", len(parts), "chars", utf8.RuneCountInString(part))
		}

		if i == len(parts)-1 {
			break
		}
		delay := p.Delay(part)
		report.Delays = append(report.Delays, delay)
		if err := p.sleep(ctx, delay); err != nil {
			p.logger.Warn("reply pacing interrupted", "recipient", recipient, "remaining", len(parts)-i-1, "err", err)
			report.Failed += len(parts) - i - 1
			break
		}
	}
	return report
}

// SplitReply splits on blank lines (falling back to single newlines when there
// are none) and re-chunks pieces longer than threshold at sentence ends.
func SplitReply(reply string, threshold int) []string {
	parts := paragraphBreak.Split(strings.TrimSpace(reply), -1)
	if len(parts) == 1 {
		parts = strings.Split(reply, "\n")
	}

	var out []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if utf8.RuneCountInString(part) <= threshold {
			out = append(out, part)
			continue
		}
		out = append(out, chunkSentences(part, threshold)...)
	}
	return out
}

// chunkSentences greedily packs whole sentences into chunks shorter than
// threshold characters. A single sentence at or over threshold stays whole.
func chunkSentences(text string, threshold int) []string {
	var chunks []string
	var current string

	for _, sentence := range sentences(text) {
		candidate := sentence
		if current != "" {
			candidate = current + " " + sentence
		}
		if current != "" && utf8.RuneCountInString(candidate) >= threshold {
			chunks = append(chunks, current)
			current = sentence
			continue
		}
		current = candidate
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// sentences splits text after every '.', '!' or '?' followed by whitespace,
// keeping the punctuation with its sentence.
func sentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[last : loc[0]+1]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(text[last:]); s != "" {
		out = append(out, s)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
