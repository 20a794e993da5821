// Package server is the engine's minimal HTTP surface (spec §5): a
// health check, a registry status snapshot, the TradeGuard trade
// confirmation endpoint, and a Pump.fun snipe endpoint. Dashboards, historical queries, and every other
// read-heavy surface the teacher's trader-go server exposes are out of
// scope (spec §5 Non-goals) — this keeps the teacher's middleware stack
// and route-grouping style but trims the route table to what the engine
// itself needs to stay operable from the outside.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/executor"
	"github.com/aristath/arduino-trader/internal/registry"
)

// Limiter is the subset of ratelimit.Limiter the server's middleware
// consults per remote address (spec §2, "AuditLog + RateLimiter").
type Limiter interface {
	Allow(key string) bool
}

// Confirmer is the subset of Executor the confirm endpoint drives.
type Confirmer interface {
	ExecuteConfirmed(ctx context.Context, confirmationID string) (*executor.Result, error)
}

// Sniper is the subset of SniperExecutor the snipe endpoint drives —
// PumpfunBuilder's direct-build buy path (spec §4.5) surfaced for an
// external caller to trigger a bonding-curve buy.
type Sniper interface {
	BuySniper(ctx context.Context, mint solana.PublicKey, amountSOL, slippagePct float64, priorityFeeMicroLamports uint64) (*executor.Result, error)
}

// StatusSource answers the registry snapshot for /api/status.
type StatusSource interface {
	Descriptors() []registry.Descriptor
}

// Config carries the server's collaborators and listen settings.
type Config struct {
	Port      int
	Log       zerolog.Logger
	Status    StatusSource
	Confirmer Confirmer
	Sniper    Sniper
	Limiter   Limiter
	DevMode   bool
}

// Server is the engine's HTTP surface.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	status    StatusSource
	confirmer Confirmer
	sniper    Sniper
	limiter   Limiter
}

// New builds a Server from cfg.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		status:    cfg.Status,
		confirmer: cfg.Confirmer,
		sniper:    cfg.Sniper,
		limiter:   cfg.Limiter,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	if s.limiter != nil {
		s.router.Use(s.rateLimitMiddleware)
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Route("/trades", func(r chi.Router) {
			r.Post("/{id}/confirm", s.handleConfirmTrade)
		})
		r.Post("/snipe", s.handleSnipe)
	})
}

// Start begins serving. Blocks until Shutdown is called or the listener
// fails.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"services": s.status.Descriptors(),
	})
}

// handleConfirmTrade consumes a pending confirmation token and executes
// the trade it describes (spec §4.4/§5: "accept confirm(id)").
func (s *Server) handleConfirmTrade(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing confirmation id"})
		return
	}

	result, err := s.confirmer.ExecuteConfirmed(r.Context(), id)
	if err != nil {
		s.log.Warn().Err(err).Str("confirmation_id", id).Msg("confirm trade failed")
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"signature":  result.Signature,
		"amount_out": result.AmountOut,
		"usd_value":  result.USDValue,
	})
}

// snipeRequest is the JSON body for POST /api/snipe.
type snipeRequest struct {
	Mint           string  `json:"mint"`
	AmountSOL      float64 `json:"amount_sol"`
	SlippagePct    float64 `json:"slippage_pct"`
	PriorityFeeMul float64 `json:"priority_fee_micro_lamports"`
}

// handleSnipe triggers a direct Pump.fun bonding-curve buy via
// PumpfunBuilder, bypassing the Jupiter aggregator (spec §4.5).
func (s *Server) handleSnipe(w http.ResponseWriter, r *http.Request) {
	var req snipeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	mint, err := solana.PublicKeyFromBase58(req.Mint)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid mint"})
		return
	}

	result, err := s.sniper.BuySniper(r.Context(), mint, req.AmountSOL, req.SlippagePct, uint64(req.PriorityFeeMul))
	if err != nil {
		s.log.Warn().Err(err).Str("mint", req.Mint).Msg("snipe failed")
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"signature": result.Signature})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// rateLimitMiddleware enforces a token-bucket per-remote-address limit (spec §2, "AuditLog + RateLimiter") ahead of every handler.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(r.RemoteAddr) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
