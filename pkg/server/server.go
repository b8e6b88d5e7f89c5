// Package server assembles the configstore components and runs the HTTP
// server with graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"lunchbadger/configstore/pkg/api"
	"lunchbadger/configstore/pkg/audit"
	"lunchbadger/configstore/pkg/config"
	"lunchbadger/configstore/pkg/events"
	"lunchbadger/configstore/pkg/githttp"
	"lunchbadger/configstore/pkg/housekeeping"
	"lunchbadger/configstore/pkg/store"
	"lunchbadger/configstore/pkg/telemetry/metrics"
	"lunchbadger/configstore/pkg/validator"
)

// Server wires the repository engine, REST surface, Git HTTP backend,
// event bus, and maintenance loop into one HTTP server.
type Server struct {
	config     *config.Config
	manager    *store.Manager
	bus        *events.Bus
	collector  *metrics.Collector
	auditStore *audit.Store
	validator  *validator.Validator
	sweeper    *housekeeping.Sweeper
	logger     *slog.Logger

	httpServer   *http.Server
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	watcherStop  context.CancelFunc
}

// New builds a server from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	manager, err := store.NewManager(cfg.Store.RootPath, logger)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(logger)

	var collector *metrics.Collector
	if cfg.Telemetry.Metrics.Enabled {
		collector = metrics.NewCollector(&cfg.Telemetry.Metrics)
	}

	var auditStore *audit.Store
	if cfg.Audit.Enabled {
		auditStore, err = audit.Open(cfg.Audit.DatabasePath)
		if err != nil {
			return nil, err
		}
	}

	v := validator.New(logger)
	if cfg.Validation.SchemaDir != "" {
		if err := v.LoadDir(cfg.Validation.SchemaDir); err != nil {
			return nil, err
		}
	}
	for _, rule := range cfg.Validation.Rules {
		if err := v.AddRule(rule.Pattern, rule.Schema); err != nil {
			return nil, err
		}
	}

	return &Server{
		config:       cfg,
		manager:      manager,
		bus:          bus,
		collector:    collector,
		auditStore:   auditStore,
		validator:    v,
		sweeper:      housekeeping.NewSweeper(manager, cfg.Housekeeping, logger),
		logger:       logger,
		shutdownChan: make(chan struct{}),
	}, nil
}

// Manager exposes the repository manager, mainly for tests.
func (s *Server) Manager() *store.Manager { return s.manager }

// Handler builds the full route tree.
func (s *Server) Handler() http.Handler {
	restHandler := api.NewHandler(s.manager, s.bus, s.logger, api.Options{
		Validator: s.validator,
		Audit:     s.auditStore,
		Collector: s.collector,
	})
	gitHandler := githttp.NewHandler(s.manager, s.bus, s.logger, githttp.Options{
		AuthOnPrivateNetworks: s.config.GitHTTP.AuthOnPrivateNetworks,
		Audit:                 s.auditStore,
		Collector:             s.collector,
	})

	mux := http.NewServeMux()
	mux.Handle("/producers", s.observe("rest", restHandler))
	mux.Handle("/producers/", s.observe("rest", restHandler))

	mountPath := strings.TrimSuffix(s.config.GitHTTP.MountPath, "/")
	mux.Handle(mountPath+"/", s.observe("git", http.StripPrefix(mountPath, gitHandler)))

	if s.collector != nil {
		mux.Handle(s.config.Telemetry.Metrics.Path, s.collector.Handler())
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})
	mux.HandleFunc("/ready", s.ready)

	return mux
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	if _, err := os.Stat(s.config.Store.RootPath); err != nil {
		http.Error(w, "root path unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, `{"status":"ready"}`)
}

// Start runs the server and blocks until shutdown. The change-stream
// responses are long-lived, so no global write timeout is set; only the
// header read is bounded.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.config.Server.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.Server.ReadHeaderTimeout,
		IdleTimeout:       s.config.Server.IdleTimeout,
	}

	if err := s.sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start housekeeping: %w", err)
	}

	if s.config.Validation.SchemaDir != "" {
		watcher, err := validator.NewWatcher(s.validator, s.config.Validation.SchemaDir, s.logger)
		if err != nil {
			return fmt.Errorf("failed to watch schema directory: %w", err)
		}
		watchCtx, cancel := context.WithCancel(context.Background())
		s.watcherStop = cancel
		go watcher.Run(watchCtx)
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting configstore server",
			"address", s.config.Server.ListenAddress,
			"root", s.config.Store.RootPath,
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	case <-s.shutdownChan:
		return nil
	}
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.logger.Info("initiating graceful shutdown", "timeout", s.config.Server.ShutdownTimeout.String())

		s.sweeper.Stop()
		if s.watcherStop != nil {
			s.watcherStop()
		}

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
		defer cancel()
		if s.httpServer != nil {
			err = s.httpServer.Shutdown(shutdownCtx)
		}

		if s.auditStore != nil {
			if closeErr := s.auditStore.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}

		close(s.shutdownChan)
		s.logger.Info("configstore server stopped")
	})
	return err
}

// observe wraps a handler with coarse request metrics. Route labels are
// per mount, not per pattern, to keep cardinality flat.
func (s *Server) observe(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.collector.ObserveHTTPRequest(route, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps streaming handlers working behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
