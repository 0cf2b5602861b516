package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/vertextoedge/transferd/internal/adapter/filesystem"
	"github.com/vertextoedge/transferd/internal/port"
	"github.com/vertextoedge/transferd/internal/service/manager"
)

// Config contains HTTP server configuration
type Config struct {
	BindAddr          string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	RateLimitRPS      float64
	RateLimitBurst    int
	BroadcastInterval time.Duration

	// Basic auth on /api and /ws when both are set
	Username string
	Password string
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:          "0.0.0.0:8080",
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		RateLimitRPS:      50,
		RateLimitBurst:    100,
		BroadcastInterval: time.Second,
	}
}

// Downloads is the orchestrator surface exposed over HTTP
type Downloads interface {
	Add(url, dest, id string) (*manager.View, error)
	StartDownload(id string) error
	Pause(id string) error
	Resume(id string) error
	Cancel(id string) error
	Remove(id string, purge bool) error
	Get(id string) (*manager.View, error)
	List() []manager.View
	ResolveRestart(id string, approve bool) error
	Subscribe() (<-chan manager.Event, func())
}

// DiskReporter reports usage of the download volume
type DiskReporter interface {
	GetDiskUsage() (*filesystem.DiskUsage, error)
}

// Deps are the collaborators the server exposes
type Deps struct {
	Downloads Downloads
	Store     port.Store   // optional, used by /health
	Disk      DiskReporter // optional, used by /api/stats
	Gatherer  prometheus.Gatherer
}

// Server represents the HTTP API server
type Server struct {
	config  *Config
	deps    Deps
	logger  *zap.Logger
	server  *http.Server
	handler http.Handler
	hub     *wsHub

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a new HTTP server. The websocket hub and its broadcaster run
// until Stop or Close.
func New(cfg *Config, deps Deps, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	defaults := DefaultConfig()
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = defaults.RateLimitRPS
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaults.RateLimitBurst
	}
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = defaults.BroadcastInterval
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: logger,
		hub:    newWSHub(logger),
		done:   make(chan struct{}),
	}

	api := http.NewServeMux()
	api.HandleFunc("GET /api/downloads", s.handleList)
	api.HandleFunc("POST /api/downloads", s.handleAdd)
	api.HandleFunc("GET /api/downloads/{id}", s.handleGet)
	api.HandleFunc("DELETE /api/downloads/{id}", s.handleRemove)
	api.HandleFunc("POST /api/downloads/{id}/start", s.handleAction(deps.Downloads.StartDownload))
	api.HandleFunc("POST /api/downloads/{id}/pause", s.handleAction(deps.Downloads.Pause))
	api.HandleFunc("POST /api/downloads/{id}/resume", s.handleAction(deps.Downloads.Resume))
	api.HandleFunc("POST /api/downloads/{id}/cancel", s.handleAction(deps.Downloads.Cancel))
	api.HandleFunc("POST /api/downloads/{id}/restart", s.handleRestart)
	api.HandleFunc("GET /api/downloads/{id}/file", s.handleFile)
	api.HandleFunc("GET /api/stats", s.handleStats)
	api.HandleFunc("GET /ws", s.handleWS)

	var protected http.Handler = api
	if cfg.Username != "" && cfg.Password != "" {
		protected = BasicAuthMiddleware(cfg.Username, cfg.Password, logger)(api)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/", protected)

	traced := otelhttp.NewHandler(LoggingMiddleware(logger)(mux), "transferd",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health" && !strings.HasPrefix(p, "/ws")
		}),
	)
	s.handler = RecoveryMiddleware(logger)(RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst)(MetricsMiddleware(traced)))

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go s.hub.run()
	s.wg.Add(1)
	go s.pump()

	return s
}

// ServeHTTP lets the server be mounted in tests without a listener
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server and disconnects websocket clients
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	err := s.server.Shutdown(ctx)
	s.Close()
	return err
}

// Close stops the websocket hub and the broadcaster
func (s *Server) Close() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.hub.Close()
	})
	s.wg.Wait()
}

// pump pushes periodic snapshots and forwards manager events to websocket clients
func (s *Server) pump() {
	defer s.wg.Done()

	events, unsubscribe := s.deps.Downloads.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(s.config.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if s.hub.clientCount() > 0 {
				s.hub.Broadcast("downloads", s.deps.Downloads.List())
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.hub.Broadcast(ev.Type, ev)
		}
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(); err != nil {
			s.logger.Error("health check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "database connection failed")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
