package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"spdropbot/internal/domain"
)

const (
	bridgeTimeout      = 30 * time.Second
	maxBridgeBodyBytes = 1 << 20
)

// BridgeConfig configures the client for the WhatsApp Web bridge service.
type BridgeConfig struct {
	BaseURL       string
	RatePerSecond float64 // outbound messages per second, default 1
	Burst         int     // default 3
	Client        *http.Client
	Logger        *slog.Logger
}

// Bridge talks to the WhatsApp Web bridge over HTTP. It is the Transport replies go out on.
type Bridge struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// BridgeStatus is the connection state reported by the bridge.
type BridgeStatus struct {
	Connected bool           `json:"connected"`
	State     string         `json:"state"`
	Info      map[string]any `json:"info,omitempty"`
}

var _ domain.Transport = (*Bridge)(nil)

func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 3
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: bridgeTimeout}
	}
	return &Bridge{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  cfg.Client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:  cfg.Logger,
	}
}

// SendText posts one message to the recipient. The bridge expects a bare number.
func (b *Bridge) SendText(ctx context.Context, recipient, text string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send rate limit: %w", err)
	}
	number := bareNumber(recipient)
	payload := map[string]string{"number": number, "message": text}
	if err := b.do(ctx, http.MethodPost, "/send", payload, nil); err != nil {
		return fmt.Errorf("send to %s: %w", number, err)
	}
	b.logger.Debug("message sent", "to", number, "len", len(text))
	return nil
}

func (b *Bridge) Status(ctx context.Context) (*BridgeStatus, error) {
	var st BridgeStatus
	if err := b.do(ctx, http.MethodGet, "/status", nil, &st); err != nil {
		return nil, fmt.Errorf("bridge status: %w", err)
	}
	return &st, nil
}

// QR returns the bridge's pairing payload as-is (QR string or data URL plus state).
func (b *Bridge) QR(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := b.do(ctx, http.MethodGet, "/qr", nil, &out); err != nil {
		return nil, fmt.Errorf("bridge qr: %w", err)
	}
	return out, nil
}

func (b *Bridge) Health(ctx context.Context) error {
	if err := b.do(ctx, http.MethodGet, "/health", nil, nil); err != nil {
		return fmt.Errorf("bridge health: %w", err)
	}
	return nil
}

func (b *Bridge) Logout(ctx context.Context) error {
	if err := b.do(ctx, http.MethodPost, "/logout", map[string]any{}, nil); err != nil {
		return fmt.Errorf("bridge logout: %w", err)
	}
	b.logger.Info("whatsapp session logged out")
	return nil
}

func (b *Bridge) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBridgeBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// bareNumber strips the WhatsApp address suffix ("@c.us", "@s.whatsapp.net").
func bareNumber(addr string) string {
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		return addr[:i]
	}
	return addr
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
