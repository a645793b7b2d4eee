package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"example.com/staticserve/internal/config"
	"example.com/staticserve/internal/logger"
	"example.com/staticserve/internal/util"
)

const readHeaderTimeout = 10 * time.Second

// Server manages the HTTP listener lifecycle: bind, serve, and graceful
// shutdown when the run context is cancelled.
type Server struct {
	cfg        *config.Config
	log        *logger.Logger
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	started  bool
	ready    chan struct{}
}

// NewServer creates a Server that serves handler behind the standard
// middleware stack (request id, access log, panic recovery, and the optional
// rate limit and request deadline from cfg).
func NewServer(cfg *config.Config, lg *logger.Logger, handler http.Handler) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	mws := []Middleware{RequestID(), AccessLog(lg), Recover(lg)}
	if cfg.Server.RateLimit > 0 {
		burst := cfg.Server.RateBurst
		if burst <= 0 {
			burst = int(cfg.Server.RateLimit) + 1
		}
		mws = append(mws, RateLimit(rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), burst), lg))
	}
	if cfg.Server.RequestTimeout.Duration > 0 {
		mws = append(mws, Deadline(cfg.Server.RequestTimeout.Duration))
	}

	return &Server{
		cfg: cfg,
		log: lg,
		httpServer: &http.Server{
			Handler:           Chain(handler, mws...),
			ReadHeaderTimeout: readHeaderTimeout,
		},
		ready: make(chan struct{}),
	}, nil
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address, or nil before Ready is closed.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run binds the configured address and serves until ctx is cancelled or the
// listener fails. Shutdown waits for in-flight requests up to the configured
// shutdown timeout, then closes remaining connections. A Server runs once.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.mu.Unlock()

	addr := s.cfg.Server.Address()
	l, err := util.CreateListener("tcp", addr, s.cfg.Server.MaxConnections)
	if err != nil {
		if util.IsAddrInUse(err) {
			return fmt.Errorf("address %s is already in use: %w", addr, err)
		}
		return err
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	close(s.ready)

	s.log.Info("Server listening", logger.LogFields{
		"address":         l.Addr().String(),
		"root":            s.cfg.Server.RootDirectory,
		"max_connections": s.cfg.Server.MaxConnections,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.Serve(l); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving on %s: %w", l.Addr(), err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("Shutting down server", logger.LogFields{"timeout": s.cfg.Server.ShutdownTimeout.String()})

		shutdownCtx, cancel := context.Background(), context.CancelFunc(func() {})
		if d := s.cfg.Server.ShutdownTimeout.Duration; d > 0 {
			shutdownCtx, cancel = context.WithTimeout(shutdownCtx, d)
		}
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.httpServer.Close()
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	if err == nil {
		s.log.Info("Server stopped", nil)
	}
	return err
}

// Start runs the server until SIGINT or SIGTERM.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}
