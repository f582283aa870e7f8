// Package channel is the WhatsApp edge of the bot: the webhook the bridge posts
// inbound messages to, and the client used to send replies back through it.
package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"spdropbot/internal/domain"
	"spdropbot/internal/metrics"
)

const (
	maxWebhookBody      = 25 << 20 // media arrives base64-inlined
	defaultMediaTimeout = 60 * time.Second

	audioPlaceholder = "[Audio could not be processed]"
	imagePlaceholder = "[Image could not be processed]"
)

// Buffer is the debounce stage inbound text is handed to.
type Buffer interface {
	Add(senderID, text string, meta domain.MessageContext)
	Pending() int
}

// WebhookConfig configures the WhatsApp webhook.
type WebhookConfig struct {
	ListenAddr   string
	Path         string // default: /webhook
	Secret       string // optional shared secret
	Buffer       Buffer
	Transcriber  domain.Transcriber    // optional
	Describer    domain.ImageDescriber // optional
	MediaTimeout time.Duration
	Logger       *slog.Logger
}

// Webhook accepts message events from the WhatsApp bridge and buffers them.
type Webhook struct {
	addr         string
	path         string
	secret       string
	buffer       Buffer
	transcriber  domain.Transcriber
	describer    domain.ImageDescriber
	mediaTimeout time.Duration
	intake       *senderQueue
	logger       *slog.Logger
	now          func() time.Time
}

// WebhookPayload is the event the bridge posts for every inbound message.
type WebhookPayload struct {
	From          string `json:"from"`
	Body          string `json:"body"`
	HasMedia      bool   `json:"hasMedia"`
	Type          string `json:"type"`
	AudioData     string `json:"audioData,omitempty"`
	AudioMimetype string `json:"audioMimetype,omitempty"`
	ImageData     string `json:"imageData,omitempty"`
	ImageMimetype string `json:"imageMimetype,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/webhook"
	}
	if cfg.MediaTimeout <= 0 {
		cfg.MediaTimeout = defaultMediaTimeout
	}
	return &Webhook{
		addr:         cfg.ListenAddr,
		path:         cfg.Path,
		secret:       cfg.Secret,
		buffer:       cfg.Buffer,
		transcriber:  cfg.Transcriber,
		describer:    cfg.Describer,
		mediaTimeout: cfg.MediaTimeout,
		intake:       newSenderQueue(),
		logger:       cfg.Logger,
		now:          time.Now,
	}
}

func (w *Webhook) Name() string { return "whatsapp" }

// Handler returns the webhook routes; extra routes (metrics) may be mounted on the same mux.
func (w *Webhook) Handler(extra map[string]http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handleWebhook)
	mux.HandleFunc("GET /health", w.handleHealth)
	for pattern, h := range extra {
		mux.Handle(pattern, h)
	}
	return mux
}

// Start serves the webhook until ctx is cancelled.
func (w *Webhook) Start(ctx context.Context, extra map[string]http.Handler) error {
	server := &http.Server{
		Addr:              w.addr,
		Handler:           w.Handler(extra),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	w.logger.Info("webhook server starting", "addr", w.addr, "path", w.path)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (w *Webhook) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":          "healthy",
		"pending_buffers": w.buffer.Pending(),
	})
}

func (w *Webhook) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	if len(body) > maxWebhookBody {
		http.Error(rw, "Payload Too Large", http.StatusRequestEntityTooLarge)
		return
	}

	if w.secret != "" && !w.authorized(r, body) {
		w.logger.Warn("webhook rejected: bad secret", "remote", r.RemoteAddr)
		http.Error(rw, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}
	metrics.WebhookEvents.Inc()

	if domain.IsGroupAddress(payload.From) {
		metrics.IgnoredGroup.Inc()
		writeJSON(rw, http.StatusOK, map[string]string{"status": "ignored_group"})
		return
	}

	if payload.From == "" || (!isMedia(payload.Type) && strings.TrimSpace(payload.Body) == "") {
		metrics.IgnoredEmpty.Inc()
		writeJSON(rw, http.StatusOK, map[string]string{"status": "ignored_empty"})
		return
	}

	meta := domain.MessageContext{
		MessageType: payload.Type,
		HasMedia:    payload.HasMedia,
		ReceivedAt:  w.now().UTC(),
	}
	if payload.Timestamp > 0 {
		meta.SentAt = time.Unix(payload.Timestamp, 0).UTC()
	}

	// Media always resolves to some text (a placeholder at worst), so it is
	// acknowledged before transcription or vision runs.
	if isMedia(payload.Type) {
		ctx := context.WithoutCancel(r.Context())
		w.intake.submit(payload.From, func() {
			w.enqueue(payload, w.messageText(ctx, payload), meta)
		})
	} else {
		w.intake.run(payload.From, func() { w.enqueue(payload, payload.Body, meta) })
	}

	writeJSON(rw, http.StatusOK, map[string]string{"status": "buffered"})
}

func (w *Webhook) enqueue(p WebhookPayload, text string, meta domain.MessageContext) {
	w.buffer.Add(p.From, text, meta)
	metrics.Buffered.Inc()
	w.logger.Debug("message buffered", "sender", p.From, "type", p.Type, "text_len", len(text))
}

// Wait blocks until every acknowledged media message has reached the buffer.
func (w *Webhook) Wait() { w.intake.wait() }

func isMedia(messageType string) bool {
	switch messageType {
	case "ptt", "audio", "image":
		return true
	}
	return false
}

// authorized accepts either the shared secret header or an HMAC-SHA256 body signature.
func (w *Webhook) authorized(r *http.Request, body []byte) bool {
	if got := r.Header.Get("X-Webhook-Secret"); got != "" {
		return subtle.ConstantTimeCompare([]byte(got), []byte(w.secret)) == 1
	}
	if sig := r.Header.Get("X-Signature-256"); sig != "" {
		return verifyHMAC(body, w.secret, sig)
	}
	return false
}

// messageText turns the event into the text that gets buffered, resolving media
// into a transcription, an image description or a placeholder.
func (w *Webhook) messageText(ctx context.Context, p WebhookPayload) string {
	switch p.Type {
	case "ptt", "audio":
		return w.transcribe(ctx, p)
	case "image":
		return w.describe(ctx, p)
	default:
		return p.Body
	}
}

func (w *Webhook) transcribe(ctx context.Context, p WebhookPayload) string {
	if p.AudioData == "" || w.transcriber == nil {
		metrics.MediaFailures.Inc()
		return audioPlaceholder
	}
	audio, err := base64.StdEncoding.DecodeString(p.AudioData)
	if err != nil {
		w.logger.Warn("audio payload is not valid base64", "sender", p.From, "err", err)
		metrics.MediaFailures.Inc()
		return audioPlaceholder
	}

	ctx, cancel := context.WithTimeout(ctx, w.mediaTimeout)
	defer cancel()
	text, err := w.transcriber.Transcribe(ctx, audio, p.AudioMimetype)
	if err != nil || strings.TrimSpace(text) == "" {
		w.logger.Warn("audio transcription failed", "sender", p.From, "err", err)
		metrics.MediaFailures.Inc()
		return audioPlaceholder
	}
	w.logger.Info("audio transcribed", "sender", p.From, "bytes", len(audio), "text_len", len(text))
	return strings.TrimSpace(text)
}

func (w *Webhook) describe(ctx context.Context, p WebhookPayload) string {
	if p.ImageData == "" || w.describer == nil {
		metrics.MediaFailures.Inc()
		return imagePlaceholder
	}
	image, err := base64.StdEncoding.DecodeString(p.ImageData)
	if err != nil {
		w.logger.Warn("image payload is not valid base64", "sender", p.From, "err", err)
		metrics.MediaFailures.Inc()
		return imagePlaceholder
	}

	caption := strings.TrimSpace(p.Body)
	ctx, cancel := context.WithTimeout(ctx, w.mediaTimeout)
	defer cancel()
	desc, err := w.describer.Describe(ctx, image, p.ImageMimetype, caption)
	if err != nil || strings.TrimSpace(desc) == "" {
		w.logger.Warn("image description failed", "sender", p.From, "err", err)
		metrics.MediaFailures.Inc()
		return imagePlaceholder
	}

	desc = strings.TrimSpace(desc)
	if caption != "" {
		return fmt.Sprintf("[Image sent with caption: '%s']\n\nImage analysis: %s", caption, desc)
	}
	return "[Image sent]\n\nImage analysis: " + desc
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}
