// Package server exposes the pipeline over HTTP: the inbound alert webhook,
// the two tick triggers, and a health check.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"signal-trade-bot-go/internal/trader"
)

// Server wraps the HTTP surface around the trading engine.
type Server struct {
	server   *http.Server
	engine   *trader.Engine
	validate *validator.Validate
	logger   *zap.Logger
}

// New creates the server on the given port.
func New(engine *trader.Engine, port int, logger *zap.Logger) *Server {
	s := &Server{
		engine:   engine,
		validate: validator.New(),
		logger:   logger.Named("server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Post("/webhook", s.webhookHandler)
	r.Post("/ticks/signals", s.signalTickHandler)
	r.Post("/ticks/reconcile", s.reconcileTickHandler)
	r.Get("/health", s.healthHandler)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
	return s
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// webhookHandler validates and executes one inbound alert. Malformed
// payloads are rejected before anything touches the pipeline.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	var alert trader.Alert
	if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if err := s.validate.Struct(alert); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if alert.StrategyID == 0 && alert.Secret == "" {
		s.writeError(w, http.StatusBadRequest, "alert must carry strategy_id or secret")
		return
	}

	res := s.engine.ExecuteAlert(r.Context(), alert)

	status := http.StatusOK
	if !res.Success && res.Error == "unknown strategy" {
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, res)
}

func (s *Server) signalTickHandler(w http.ResponseWriter, r *http.Request) {
	summary := s.engine.RunSignalTick(r.Context())
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) reconcileTickHandler(w http.ResponseWriter, r *http.Request) {
	s.engine.RunReconcileTick(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "done"})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
