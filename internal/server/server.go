// Package server wires the store, dispatcher, broadcaster, and HTTP routes
// into one runnable Fable service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jackzampolin/fable/internal/api"
	"github.com/jackzampolin/fable/internal/bookstore"
	"github.com/jackzampolin/fable/internal/broadcast"
	"github.com/jackzampolin/fable/internal/config"
	"github.com/jackzampolin/fable/internal/dispatcher"
	"github.com/jackzampolin/fable/internal/home"
	"github.com/jackzampolin/fable/internal/providers"
	"github.com/jackzampolin/fable/internal/server/endpoints"
	"github.com/jackzampolin/fable/internal/svcctx"
)

// Server is the main Fable HTTP server. It owns the SQLite store lifecycle,
// sweeps jobs orphaned by a previous process on start, and shuts the
// dispatcher down gracefully.
type Server struct {
	httpServer *http.Server
	store      *bookstore.Store
	dispatcher *dispatcher.Dispatcher
	bus        *broadcast.Broadcaster
	logger     *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port int
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger

	// Store overrides the SQLite store (tests). Opened from config if nil.
	Store *bookstore.Store
	// Text and Images override the AI generators (tests). Built from the
	// OpenAI config section if nil.
	Text   providers.TextGenerator
	Images providers.ImageGenerator
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	appCfg := config.DefaultConfig()
	if cfg.ConfigManager != nil {
		appCfg = cfg.ConfigManager.Get()
	}

	store := cfg.Store
	if store == nil {
		dbPath := appCfg.Storage.DBPath
		if dbPath == "" {
			// Default to the fable home directory, creating it on first run.
			dir, err := home.New("")
			if err != nil {
				return nil, err
			}
			if err := dir.EnsureExists(); err != nil {
				return nil, err
			}
			dbPath = dir.DBPath()
		}
		var err error
		store, err = bookstore.Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open book store: %w", err)
		}
	}

	text := cfg.Text
	if text == nil {
		text = providers.NewOpenAITextClient(providers.OpenAITextConfig{
			APIKey:    appCfg.ResolvedAPIKey(),
			Model:     appCfg.OpenAI.TextModel,
			RateLimit: appCfg.OpenAI.TextRateLimit,
			Timeout:   appCfg.CallTimeout(),
			BaseURL:   appCfg.OpenAI.BaseURL,
		})
	}
	images := cfg.Images
	if images == nil {
		images = providers.NewOpenAIImageClient(providers.OpenAIImageConfig{
			APIKey:    appCfg.ResolvedAPIKey(),
			Model:     appCfg.OpenAI.ImageModel,
			Size:      appCfg.OpenAI.ImageSize,
			RateLimit: appCfg.OpenAI.ImageRateLimit,
			Timeout:   appCfg.CallTimeout(),
			BaseURL:   appCfg.OpenAI.BaseURL,
		})
	}

	busCfg := appCfg.BroadcastConfig()
	busCfg.Logger = cfg.Logger
	bus := broadcast.New(busCfg)

	d := dispatcher.New(store, text, images, bus,
		appCfg.OrchestratorConfig(), appCfg.DispatcherLimits(), cfg.Logger)

	s := &Server{
		store:      store,
		dispatcher: d,
		bus:        bus,
		logger:     cfg.Logger,
		services: &svcctx.Services{
			Store:       store,
			Dispatcher:  d,
			Broadcaster: bus,
			Logger:      cfg.Logger,
		},
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:     s.withServices(mux),
		ReadTimeout: 30 * time.Second,
		// Streaming connections outlive any write timeout; the broadcaster
		// reaps dead subscribers instead.
		IdleTimeout: 120 * time.Second,
	}

	return s, nil
}

// Start starts the server. It blocks until the context is cancelled or an
// error occurs. Books left mid-generation by a previous process are failed
// before the listener accepts traffic.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.dispatcher.SweepInterrupted(ctx); err != nil {
		s.setNotRunning()
		return fmt.Errorf("restart sweep failed: %w", err)
	}

	// Reap subscribers whose transport went silent.
	reapCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go s.bus.Run(reapCtx)

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown performs graceful shutdown of the HTTP server, live jobs, and
// the store.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Drain in-flight generation jobs to a terminal state.
	if err := s.dispatcher.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("dispatcher shutdown error", "error", err)
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("store close error", "error", err)
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Store returns the book store.
func (s *Server) Store() *bookstore.Store {
	return s.store
}

// Dispatcher returns the job dispatcher.
func (s *Server) Dispatcher() *dispatcher.Dispatcher {
	return s.dispatcher
}

// Broadcaster returns the progress broadcaster.
func (s *Server) Broadcaster() *broadcast.Broadcaster {
	return s.bus
}

// Handler returns the fully wired HTTP handler (tests use this with httptest).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable if the store or dispatcher aren't ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil || s.dispatcher == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
