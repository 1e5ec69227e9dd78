package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds the time spent draining servers and running hooks
const DefaultShutdownTimeout = 30 * time.Second

// ErrShutdownTimeout is returned when hooks are still running at the deadline
var ErrShutdownTimeout = errors.New("shutdown timeout reached")

// ShutdownFunc releases one resource
type ShutdownFunc func(context.Context) error

type shutdownHook struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager drains HTTP servers once the process is asked to stop and
// then runs its hooks, last registered first.
type ShutdownManager struct {
	logger  *Logger
	servers []*http.Server
	timeout time.Duration

	mu    sync.Mutex
	hooks []shutdownHook
}

// NewShutdownManager creates a manager for servers; a zero timeout means DefaultShutdownTimeout
func NewShutdownManager(logger *Logger, timeout time.Duration, servers ...*http.Server) *ShutdownManager {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return &ShutdownManager{logger: logger, servers: servers, timeout: timeout}
}

// OnShutdown registers fn to run after the servers have drained
func (sm *ShutdownManager) OnShutdown(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	sm.hooks = append(sm.hooks, shutdownHook{name: name, fn: fn})
	sm.mu.Unlock()
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// Wait blocks until ctx is done and then shuts everything down
func (sm *ShutdownManager) Wait(ctx context.Context) error {
	<-ctx.Done()
	sm.logger.Info("Starting graceful shutdown")
	return sm.Shutdown()
}

// Shutdown drains every server in parallel and then runs the hooks in
// reverse order. Hook failures are joined; a hook still running at the
// deadline yields ErrShutdownTimeout.
func (sm *ShutdownManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	if err := sm.drain(ctx); err != nil {
		return err
	}

	sm.mu.Lock()
	hooks := make([]shutdownHook, len(sm.hooks))
	copy(hooks, sm.hooks)
	sm.mu.Unlock()

	result := make(chan error, 1)
	go func() {
		var errs []error
		for i := len(hooks) - 1; i >= 0; i-- {
			h := hooks[i]
			if err := h.fn(ctx); err != nil {
				sm.logger.WithError(err).WithField("hook", h.name).Error("Shutdown hook failed")
				errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			}
		}
		result <- errors.Join(errs...)
	}()

	select {
	case err := <-result:
		if err != nil {
			return err
		}
		sm.logger.Info("Graceful shutdown complete")
		return nil
	case <-ctx.Done():
		sm.logger.Warn("Shutdown deadline passed with hooks still running")
		return ErrShutdownTimeout
	}
}

func (sm *ShutdownManager) drain(ctx context.Context) error {
	var g errgroup.Group
	for _, server := range sm.servers {
		g.Go(func() error {
			sm.logger.WithField("addr", server.Addr).Info("Draining HTTP server")
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("drain %s: %w", server.Addr, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		sm.logger.WithError(err).Error("HTTP server did not drain")
		return err
	}
	return nil
}
