// Package admin serves the operator API: dashboard stats, customers, trials,
// WhatsApp session control and pipeline state.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"spdropbot/internal/channel"
	"spdropbot/internal/domain"
	"spdropbot/internal/store"
)

const maxBodySize = 1 << 20

// Store is the persistence surface the admin API reads and updates.
type Store interface {
	Stats(ctx context.Context) (domain.Stats, error)
	ListCustomers(ctx context.Context, limit, offset int) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id int64) (*domain.Customer, error)
	RecentHistory(ctx context.Context, customerID int64, limit int) ([]domain.HistoryRecord, error)
	ListTrials(ctx context.Context, f domain.TrialFilter) ([]domain.Trial, error)
	UpdateTrialStatus(ctx context.Context, id int64, status domain.TrialStatus, notes string) (*domain.Trial, error)
	ConvertTrial(ctx context.Context, id int64, plan string) (*domain.Trial, error)
}

// WhatsApp controls the bridge session.
type WhatsApp interface {
	Status(ctx context.Context) (*channel.BridgeStatus, error)
	QR(ctx context.Context) (map[string]any, error)
	Logout(ctx context.Context) error
}

// Buffers reports how many senders have a burst waiting.
type Buffers interface {
	Pending() int
}

// Outcomes lists recent processing outcomes, newest first.
type Outcomes interface {
	Recent(n int) []domain.Outcome
}

type Config struct {
	ListenAddr string
	APIKey     string
	Store      Store
	WhatsApp   WhatsApp
	Buffers    Buffers
	Outcomes   Outcomes
	Metrics    http.Handler // nil disables GET /metrics
	Logger     *slog.Logger
}

type Server struct {
	addr     string
	apiKey   string
	store    Store
	whatsapp WhatsApp
	buffers  Buffers
	outcomes Outcomes
	metrics  http.Handler
	logger   *slog.Logger
}

func NewServer(cfg Config) *Server {
	return &Server{
		addr:     cfg.ListenAddr,
		apiKey:   cfg.APIKey,
		store:    cfg.Store,
		whatsapp: cfg.WhatsApp,
		buffers:  cfg.Buffers,
		outcomes: cfg.Outcomes,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

// Handler returns the routed, authenticated API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/customers", s.handleCustomers)
	mux.HandleFunc("GET /api/customers/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /api/trials", s.handleTrials)
	mux.HandleFunc("PATCH /api/trials/{id}/status", s.handleTrialStatus)
	mux.HandleFunc("POST /api/trials/{id}/convert", s.handleTrialConvert)
	mux.HandleFunc("GET /api/whatsapp/status", s.handleWhatsAppStatus)
	mux.HandleFunc("GET /api/whatsapp/qr", s.handleWhatsAppQR)
	mux.HandleFunc("POST /api/whatsapp/logout", s.handleWhatsAppLogout)
	mux.HandleFunc("GET /api/pipeline", s.handlePipeline)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return s.auth(mux)
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("admin API started", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if s.apiKey == "" || !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		s.internalError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCustomers(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit < 1 || limit > 500 || offset < 0 {
		writeError(w, http.StatusBadRequest, "limit must be 1-500 and offset >= 0")
		return
	}
	customers, err := s.store.ListCustomers(r.Context(), limit, offset)
	if err != nil {
		s.internalError(w, "list customers", err)
		return
	}
	if customers == nil {
		customers = []domain.Customer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers, "limit": limit, "offset": offset})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	customer, err := s.store.GetCustomer(r.Context(), id)
	if err != nil {
		s.internalError(w, "get customer", err)
		return
	}
	if customer == nil {
		writeError(w, http.StatusNotFound, "customer not found")
		return
	}
	history, err := s.store.RecentHistory(r.Context(), id, queryInt(r, "limit", 50))
	if err != nil {
		s.internalError(w, "history", err)
		return
	}
	if history == nil {
		history = []domain.HistoryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer, "history": history})
}

func (s *Server) handleTrials(w http.ResponseWriter, r *http.Request) {
	f := domain.TrialFilter{
		CustomerID: int64(queryInt(r, "customer_id", 0)),
		Status:     domain.TrialStatus(r.URL.Query().Get("status")),
		Limit:      queryInt(r, "limit", 100),
	}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	trials, err := s.store.ListTrials(r.Context(), f)
	if err != nil {
		s.internalError(w, "list trials", err)
		return
	}
	if trials == nil {
		trials = []domain.Trial{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trials": trials})
}

func (s *Server) handleTrialStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
		Notes  string `json:"notes"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	status := domain.TrialStatus(req.Status)
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, "status must be one of: active, expired, converted, cancelled")
		return
	}
	trial, err := s.store.UpdateTrialStatus(r.Context(), id, status, req.Notes)
	s.writeTrial(w, trial, err)
}

func (s *Server) handleTrialConvert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Plan string `json:"plan"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Plan) == "" {
		writeError(w, http.StatusBadRequest, "plan is required")
		return
	}
	trial, err := s.store.ConvertTrial(r.Context(), id, req.Plan)
	s.writeTrial(w, trial, err)
}

func (s *Server) writeTrial(w http.ResponseWriter, trial *domain.Trial, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "trial not found")
	case err != nil:
		s.internalError(w, "update trial", err)
	default:
		writeJSON(w, http.StatusOK, trial)
	}
}

func (s *Server) handleWhatsAppStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.whatsapp.Status(r.Context())
	if err != nil {
		s.bridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleWhatsAppQR(w http.ResponseWriter, r *http.Request) {
	qr, err := s.whatsapp.QR(r.Context())
	if err != nil {
		s.bridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, qr)
}

func (s *Server) handleWhatsAppLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.whatsapp.Logout(r.Context()); err != nil {
		s.bridgeError(w, err)
		return
	}
	s.logger.Info("whatsapp session logged out via admin API")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"pending_buffers": 0, "recent": []domain.Outcome{}}
	if s.buffers != nil {
		resp["pending_buffers"] = s.buffers.Pending()
	}
	if s.outcomes != nil {
		if recent := s.outcomes.Recent(queryInt(r, "limit", 50)); recent != nil {
			resp["recent"] = recent
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("admin request failed", "op", op, "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) bridgeError(w http.ResponseWriter, err error) {
	s.logger.Warn("whatsapp bridge request failed", "err", err)
	writeError(w, http.StatusBadGateway, "whatsapp bridge unavailable")
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
