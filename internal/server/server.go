package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/aimikata/storyboard/internal/api"
	"github.com/aimikata/storyboard/internal/config"
	"github.com/aimikata/storyboard/internal/home"
	"github.com/aimikata/storyboard/internal/jobs"
	"github.com/aimikata/storyboard/internal/providers"
	"github.com/aimikata/storyboard/internal/refs"
	"github.com/aimikata/storyboard/internal/server/endpoints"
	"github.com/aimikata/storyboard/internal/svcctx"
	"github.com/aimikata/storyboard/internal/usage"
)

// Server is the storyboard HTTP server. It owns the usage store for its
// lifetime: the ledger is loaded on start and saved after every batch.
type Server struct {
	httpServer *http.Server
	registry   *providers.Registry
	configMgr  *config.Manager
	home       *home.Dir
	logger     *slog.Logger
	now        func() time.Time

	store     usage.Store
	ownsStore bool
	scheduler *jobs.Scheduler
	manager   *jobs.Manager

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu       sync.RWMutex
	running  bool
	listener net.Listener
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080, "0" picks a free port)
	Port string
	// ConfigManager provides configuration with hot-reload support.
	// Defaults are used when nil.
	ConfigManager *config.Manager
	// Home is the storyboard home directory. Optional; without it the
	// usage store must be given and no reference assets are loaded.
	Home *home.Dir
	// UsageStore overrides the store named in config.
	UsageStore usage.Store
	// AllowedOrigins are accepted by the event stream besides same-origin.
	AllowedOrigins []string
	// Logger is the structured logger to use
	Logger *slog.Logger
	// Now overrides the clock used for the daily ledger (tests).
	Now func() time.Time
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Home == nil && cfg.UsageStore == nil {
		return nil, errors.New("server needs a home directory or a usage store")
	}

	// Create provider registry
	registry := providers.NewRegistry()
	registry.SetLogger(cfg.Logger)

	// If config manager provided, set up providers and hot reload
	if cfg.ConfigManager != nil {
		if err := registry.Reload(context.Background(), cfg.ConfigManager.Get().ToProviderRegistryConfig()); err != nil {
			cfg.Logger.Warn("some providers failed to load", "error", err)
		}

		// Watch for config changes
		cfg.ConfigManager.OnChange(func(c *config.Config) {
			if err := registry.Reload(context.Background(), c.ToProviderRegistryConfig()); err != nil {
				cfg.Logger.Warn("some providers failed to reload", "error", err)
			}
			cfg.Logger.Info("provider registry reloaded from config")
		})
	}

	s := &Server{
		registry:  registry,
		configMgr: cfg.ConfigManager,
		home:      cfg.Home,
		logger:    cfg.Logger,
		now:       cfg.Now,
		store:     cfg.UsageStore,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{AllowedOrigins: cfg.AllowedOrigins}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	// No write timeout: script generation runs inside the request and the
	// event stream is long-lived.
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:           s.withServices(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// config returns the current configuration, or the defaults.
func (s *Server) config() *config.Config {
	if s.configMgr != nil {
		return s.configMgr.Get()
	}
	return config.DefaultConfig()
}

// initialize opens the usage store, loads the ledger and the reference
// pool, and builds the scheduler and batch manager.
func (s *Server) initialize(ctx context.Context) error {
	cfg := s.config()

	if s.store == nil {
		path := cfg.Usage.Path
		if path == "" {
			path = s.home.UsagePath(cfg.Usage.Store)
		}
		store, err := usage.Open(cfg.Usage.Store, path)
		if err != nil {
			return fmt.Errorf("failed to open usage store: %w", err)
		}
		s.store = store
		s.ownsStore = true
	}

	ledger, err := usage.Load(ctx, s.store, s.now())
	if err != nil {
		return fmt.Errorf("failed to load usage: %w", err)
	}
	s.logger.Info("usage loaded", "date", ledger.Snapshot().Date, "count", ledger.Snapshot().Count)

	pool := refs.NewPool()
	if s.home != nil {
		if _, statErr := os.Stat(s.home.AssetsPath()); statErr == nil {
			loaded, err := refs.LoadDir(s.home.AssetsPath())
			if err != nil {
				return fmt.Errorf("failed to load reference assets: %w", err)
			}
			pool = loaded
		}
	}
	s.logger.Info("reference assets loaded", "count", pool.Len())

	admission, err := cfg.Generation.Admission()
	if err != nil {
		return err
	}
	s.scheduler = jobs.NewScheduler(jobs.Config{
		Models:    s.registry,
		Logger:    s.logger,
		Ceilings:  cfg.Ceilings(),
		Admission: admission,
		RPM:       cfg.RPM(),
		Now:       s.now,
	})
	manager := jobs.NewManager(jobs.ManagerConfig{
		Scheduler: s.scheduler,
		Logger:    s.logger,
		Ledger:    ledger,
		Store:     s.store,
	})

	s.mu.Lock()
	s.manager = manager
	s.services = &svcctx.Services{
		Manager:   manager,
		Registry:  s.registry,
		Scheduler: s.scheduler,
		Config:    s.configMgr,
		Pool:      pool,
		Logger:    s.logger,
		Home:      s.home,
	}
	s.mu.Unlock()
	return nil
}

// Start initializes services and serves HTTP.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.initialize(ctx); err != nil {
		s.closeStore()
		s.setNotRunning()
		return err
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.closeStore()
		s.setNotRunning()
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", ln.Addr().String(),
			"routes", len(s.endpointRegistry.Routes()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// shutdown stops HTTP, cancels running batches and saves usage.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	// Shutdown HTTP server with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.manager != nil {
		for _, b := range s.manager.List() {
			if b.State != jobs.BatchRunning {
				continue
			}
			_ = s.manager.Cancel(b.ID)
			if _, err := s.manager.Wait(shutdownCtx, b.ID); err != nil {
				s.logger.Warn("batch did not stop in time", "batch", b.ID, "error", err)
			}
		}
		if err := s.manager.Ledger().Save(shutdownCtx, s.store); err != nil {
			s.logger.Error("failed to save usage", "error", err)
		}
	}
	s.closeStore()

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) closeStore() {
	if s.store == nil || !s.ownsStore {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("usage store close error", "error", err)
	}
	s.store = nil
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

// Manager returns the batch manager.
// Returns nil if the server hasn't started yet.
func (s *Server) Manager() *jobs.Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manager
}

// Addr returns the server's listen address. Once started it is the bound
// address, which matters when Port is "0".
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// Endpoints returns the endpoint registry, used to build CLI commands.
func (s *Server) Endpoints() *api.Registry {
	return s.endpointRegistry
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s.mu.RLock()
		services := s.services
		s.mu.RUnlock()
		if services != nil {
			ctx = svcctx.WithServices(ctx, services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until the ledger is loaded and the batch
// manager exists.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Manager() == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
