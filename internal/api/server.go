// Package api serves the snapshot history and lets operators trigger runs over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/hedge-snapshots/internal/logging"
	"github.com/hedge-snapshots/internal/metrics"
	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/service"
)

// HistoryReader is the read side of the snapshot chains
type HistoryReader interface {
	AccountSnapshots(ctx context.Context, accountID string, from, to time.Time) ([]*models.AccountSnapshot, error)
	CompanySnapshots(ctx context.Context, companyID string, from, to time.Time) ([]*models.CompanySnapshot, error)
	AccountSummaryStats(ctx context.Context, accountID string, from, to time.Time) (*service.SummaryStats, error)
	VarianceSeries(ctx context.Context, accountID string, from, to time.Time) ([]service.VariancePoint, error)
	VerifyAccountChain(ctx context.Context, accountID string) (int, error)
	VerifyCompanyChain(ctx context.Context, companyID string) (int, error)
}

// SnapshotRunner creates and repairs snapshots
type SnapshotRunner interface {
	Run(ctx context.Context, refDate time.Time, companyIDs []string) (*service.RunSummary, error)
	RedoAccountRange(ctx context.Context, accountID string, from, to time.Time) (*service.RunSummary, error)
}

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	history    HistoryReader
	runner     SnapshotRunner
	checks     map[string]HealthCheck
	logger     *logging.Logger
	config     *ServerConfig
	now        func() time.Time
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  float64
	Burst           int
}

// NewServer creates a new API server instance. runner may be nil for a read-only server.
func NewServer(config *ServerConfig, history HistoryReader, runner SnapshotRunner, checks map[string]HealthCheck, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Server{
		router:  mux.NewRouter(),
		history: history,
		runner:  runner,
		checks:  checks,
		logger:  logger.WithField("component", "api"),
		config:  config,
		now:     time.Now,
	}

	s.setupRouter()

	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSec, s.config.Burst)

	// Order matters: logging wraps everything, rate limiting runs after CORS preflight
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware)
	s.router.Use(metrics.Middleware)
	s.router.Use(CORSMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(RateLimitMiddleware(rateLimiter))
	api.Use(CompressionMiddleware)

	api.HandleFunc("/accounts/{id}/snapshots", s.handleAccountSnapshots).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/summary", s.handleAccountSummary).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/variance", s.handleVarianceSeries).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/chain", s.handleVerifyAccountChain).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/redo", s.handleRedoAccount).Methods(http.MethodPost)
	api.HandleFunc("/companies/{id}/snapshots", s.handleCompanySnapshots).Methods(http.MethodGet)
	api.HandleFunc("/companies/{id}/chain", s.handleVerifyCompanyChain).Methods(http.MethodGet)
	api.HandleFunc("/runs", s.handleRun).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// handleHealth runs every registered check; any failure makes the service unhealthy
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	respondJSON(w, status, map[string]interface{}{
		"status":       state,
		"service":      "hedge-snapshots",
		"dependencies": deps,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
