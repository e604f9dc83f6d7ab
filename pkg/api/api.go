// Package api exposes rfvault over HTTP: report ingestion under API key
// auth, run browsing, and project management.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rfvault/rfvault/pkg/artifact"
	"github.com/rfvault/rfvault/pkg/config"
	"github.com/rfvault/rfvault/pkg/identity"
	"github.com/rfvault/rfvault/pkg/retention"
	"github.com/rfvault/rfvault/pkg/storage"
	"github.com/rfvault/rfvault/pkg/store"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log         logrus.FieldLogger
	cfg         *config.Config
	store       store.Store
	identity    identity.Service
	backend     storage.Backend
	engine      *retention.Engine
	coordinator *artifact.Coordinator
	sweeper     retention.Sweeper
	httpServer  *http.Server
	wg          sync.WaitGroup
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
) Server {
	return &server{
		log: log.WithField("component", "api"),
		cfg: cfg,
	}
}

// Start initializes the store and storage backend, starts the HTTP
// server, then launches the retention sweeper.
func (s *server) Start(ctx context.Context) error {
	s.store = store.NewStore(s.log, &s.cfg.Database)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	backend, err := storage.New(&s.cfg.Storage)
	if err != nil {
		return fmt.Errorf("initializing storage backend: %w", err)
	}

	s.backend = backend
	s.identity = identity.NewService(s.log, s.store)
	s.engine = retention.NewEngine(s.log, s.store, s.backend)
	s.coordinator = artifact.NewCoordinator(
		s.log, s.store, s.backend, s.engine,
	)

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	// Start the sweeper AFTER the API is listening so the server is
	// reachable while the first (potentially slow) pass runs.
	if s.cfg.Retention.Enabled {
		interval, err := time.ParseDuration(s.cfg.Retention.Interval)
		if err != nil {
			return fmt.Errorf("parsing retention interval: %w", err)
		}

		s.sweeper = retention.NewSweeper(
			s.log, s.engine, interval, s.cfg.Retention.ReconcileOrphans,
		)

		if err := s.sweeper.Start(ctx); err != nil {
			return fmt.Errorf("starting retention sweeper: %w", err)
		}
	}

	return nil
}

// Stop gracefully shuts down the HTTP server, the sweeper, and the store.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.sweeper != nil {
		if err := s.sweeper.Stop(); err != nil {
			s.log.WithError(err).Warn("Sweeper stop error")
		}
	}

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			s.log.WithError(err).Warn("Store stop error")
		}
	}

	s.log.Info("API server stopped")

	return nil
}
