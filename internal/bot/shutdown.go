// internal/bot/shutdown.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// CloseFunc allows using a function as an io.Closer.
type CloseFunc func() error

func (f CloseFunc) Close() error {
	return f()
}

// ShutdownHandler closes registered services in reverse registration order
// when the process is asked to stop.
type ShutdownHandler struct {
	logger   *zap.Logger
	services []namedService
	mu       sync.Mutex
	timeout  time.Duration
}

type namedService struct {
	name   string
	closer io.Closer
}

// NewShutdownHandler creates a handler. Zero timeout means 30s.
func NewShutdownHandler(logger *zap.Logger, timeout time.Duration) *ShutdownHandler {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownHandler{
		logger:  logger.Named("shutdown"),
		timeout: timeout,
	}
}

// Add registers a service. Services registered later are closed first.
func (sh *ShutdownHandler) Add(name string, closer io.Closer) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.services = append(sh.services, namedService{name: name, closer: closer})
	sh.logger.Debug("Registered service for shutdown", zap.String("service", name))
}

// AddFunc registers a shutdown function.
func (sh *ShutdownHandler) AddFunc(name string, fn func() error) {
	sh.Add(name, CloseFunc(fn))
}

// Wait blocks until SIGINT/SIGTERM or ctx is done, then shuts down.
func (sh *ShutdownHandler) Wait(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	sh.logger.Info("Shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), sh.timeout)
	defer cancel()
	return sh.Shutdown(shutdownCtx)
}

// Shutdown closes services one at a time, last registered first, so that
// dependents stop before what they depend on. A service that overruns ctx
// is abandoned and reported.
func (sh *ShutdownHandler) Shutdown(ctx context.Context) error {
	sh.mu.Lock()
	services := make([]namedService, len(sh.services))
	copy(services, sh.services)
	sh.mu.Unlock()

	sh.logger.Info("Starting graceful shutdown", zap.Int("services", len(services)))

	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		s := services[i]
		done := make(chan error, 1)
		go func() { done <- s.closer.Close() }()

		select {
		case err := <-done:
			if err != nil {
				sh.logger.Error("Failed to shutdown service", zap.String("service", s.name), zap.Error(err))
				errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
				continue
			}
			sh.logger.Debug("Service shutdown complete", zap.String("service", s.name))
		case <-ctx.Done():
			sh.logger.Error("Shutdown timeout for service", zap.String("service", s.name))
			errs = append(errs, fmt.Errorf("%s: shutdown timeout", s.name))
		}
	}

	if err := errors.Join(errs...); err != nil {
		sh.logger.Error("Shutdown completed with errors", zap.Int("error_count", len(errs)))
		return err
	}
	sh.logger.Info("Graceful shutdown completed")
	return nil
}
