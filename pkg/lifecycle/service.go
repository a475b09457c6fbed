package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/deckwatch/internal/logger"
)

// DefaultShutdownTimeout bounds graceful shutdown of auxiliary servers.
const DefaultShutdownTimeout = 10 * time.Second

// AuxiliaryServer is an HTTP server (API, metrics) run beside the observer.
type AuxiliaryServer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Port() int
}

// Runner is the observer runtime.
type Runner interface {
	Start(ctx context.Context) error
	Stop()
}

// Service orchestrates startup and graceful shutdown.
type Service struct {
	shutdownTimeout time.Duration
	servers         []AuxiliaryServer

	serveOnce sync.Once
}

// New creates a lifecycle service.
func New(shutdownTimeout time.Duration) *Service {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Service{shutdownTimeout: shutdownTimeout}
}

// AddServer registers an auxiliary server. Nil servers are ignored.
func (s *Service) AddServer(server AuxiliaryServer) {
	if server == nil {
		return
	}
	s.servers = append(s.servers, server)
	logger.Info("Auxiliary server registered", "port", server.Port())
}

// Serve starts runner and the servers, then blocks until ctx is done or a
// server fails. It can only be called once.
func (s *Service) Serve(ctx context.Context, runner Runner) error {
	err := fmt.Errorf("lifecycle service already served")
	s.serveOnce.Do(func() {
		err = s.serve(ctx, runner)
	})
	return err
}

func (s *Service) serve(ctx context.Context, runner Runner) error {
	logger.Info("Starting deckwatch runtime")

	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start runtime: %w", err)
	}

	errCh := make(chan error, len(s.servers))
	for _, srv := range s.servers {
		go func(srv AuxiliaryServer) {
			if err := srv.Start(ctx); err != nil {
				logger.Error("Auxiliary server error", "port", srv.Port(), "error", err)
				errCh <- err
			}
		}(srv)
	}

	var result error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received", "reason", ctx.Err())
	case err := <-errCh:
		logger.Error("Auxiliary server failed, shutting down", "error", err)
		result = fmt.Errorf("auxiliary server error: %w", err)
	}

	s.shutdown(runner)
	logger.Info("deckwatch runtime stopped")
	return result
}

func (s *Service) shutdown(runner Runner) {
	logger.Info("Stopping runtime")
	runner.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	for _, srv := range s.servers {
		if err := srv.Stop(ctx); err != nil {
			logger.Warn("Auxiliary server shutdown error", "port", srv.Port(), "error", err)
		}
	}
}
