// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/atlas-desktop/strategy-verdict/internal/catalog"
	"github.com/atlas-desktop/strategy-verdict/internal/config"
	"github.com/atlas-desktop/strategy-verdict/internal/data"
	"github.com/atlas-desktop/strategy-verdict/internal/orchestrator"
	"github.com/atlas-desktop/strategy-verdict/internal/service"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

const maxBodyBytes = 32 << 20

// Server is the HTTP/WebSocket API server
type Server struct {
	logger     *zap.Logger
	config     config.ServerConfig
	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	upgrader   websocket.Upgrader
	service    *service.Service
	hub        *Hub
	metrics    http.Handler
}

// NewServer creates a new API server. metrics may be nil.
func NewServer(logger *zap.Logger, cfg config.ServerConfig, svc *service.Service, hub *Hub, metrics http.Handler) *Server {
	s := &Server{
		logger:  logger.Named("api"),
		config:  cfg,
		router:  mux.NewRouter(),
		service: svc,
		hub:     hub,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.CORSOrigins),
		},
	}
	s.setupRoutes()

	var handler http.Handler = s.router
	if cfg.RateLimit > 0 {
		handler = newClientLimiter(cfg.RateLimit, cfg.RateBurst).Middleware(handler)
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(handler)
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods(http.MethodGet)

	s.router.HandleFunc("/api/v1/strategies", s.handleStrategies).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/symbols", s.handleSymbols).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/symbols/{symbol}/quality", s.handleQuality).Methods(http.MethodGet)

	s.router.HandleFunc("/api/v1/backtest", s.handleRunBacktest).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/backtest/{id}", s.handleGetBacktest).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/verdict", s.handleVerdict).Methods(http.MethodPost)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Router returns the fully wrapped handler, for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.handler
}

// Start serves until Stop; it returns http.ErrServerClosed after a clean
// shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", s.config.Addr()))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"time":      time.Now().Unix(),
		"wsClients": s.hub.ClientCount(),
	})
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	strategies := s.service.Strategies()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategies": strategies,
		"count":      len(strategies),
	})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.service.Symbols()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"symbols": symbols})
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.Quality(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req service.BacktestRequest
	if !decode(w, r, &req) {
		return
	}

	report, err := s.service.Backtest(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.Report(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleVerdict runs synchronously; progress is streamed to WebSocket
// subscribers of the verdicts channels while the request is in flight.
func (s *Server) handleVerdict(w http.ResponseWriter, r *http.Request) {
	var req service.VerdictRequest
	if !decode(w, r, &req) {
		return
	}

	verdict, err := s.service.Verdict(r.Context(), req, func(ev orchestrator.Event) {
		s.hub.PublishEvent(ev)
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	s.hub.Serve(conn)
}

// fail maps service errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, data.ErrSymbolNotFound),
		errors.Is(err, service.ErrReportNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}
