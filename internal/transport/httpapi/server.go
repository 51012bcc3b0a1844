// Package httpapi serves the reminder API over HTTP (gin).
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"remindd/internal/reminder"
	rtsup "remindd/internal/runtime/supervisor"
	logx "remindd/pkg/logx"
)

const defaultAddr = "127.0.0.1:8080"

// Config controls the API server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - A non-loopback addr without Token is served but logged as insecure.
type Config struct {
	Addr  string
	Token string
	Pprof bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Reminders is the subset of reminder.Service the API calls.
type Reminders interface {
	Create(ctx context.Context, req reminder.CreateRequest) (*reminder.CreateResult, error)
	Cancel(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*reminder.ScheduledTask, error)
	List(ctx context.Context, f reminder.Filter) ([]*reminder.ScheduledTask, error)
}

type Deps struct {
	Reminders Reminders
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
	// Health returns extra details for /healthz. Optional.
	Health func() any
	// Deliveries returns recent delivery history for /v1/deliveries. Optional.
	Deliveries func() any
}

type Server struct {
	log    logx.Logger
	cfg    Config
	engine *gin.Engine

	mu   sync.Mutex
	sup  *rtsup.Supervisor
	srv  *http.Server
	addr string
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = defaultAddr
	}
	return &Server{cfg: cfg, log: log, engine: newEngine(cfg, deps, log)}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Addr is the bound listen address while serving, else "".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start serves in the background and relistens after listener failures.
// Calling Start on a running server is a no-op.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	if s.cfg.Token == "" && !isLoopbackAddr(s.cfg.Addr) {
		s.log.Warn("http api without token on non-loopback addr (insecure)", logx.String("addr", s.cfg.Addr))
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.sup.GoRestart("http.serve", s.serve, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
}

// Stop drains in-flight requests until ctx ends, then closes the listener.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}

	sup.Cancel()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
		}
	}
	_ = sup.Wait(ctx)
	s.log.Info("http api stopped")
}

// serve runs one listener until ctx ends or Serve fails.
func (s *Server) serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Error("http api listen failed", logx.String("addr", s.cfg.Addr), logx.Err(err))
		return err
	}
	srv := &http.Server{
		Handler:           s.engine,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	s.mu.Lock()
	s.srv, s.addr = srv, ln.Addr().String()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.srv == srv {
			s.srv, s.addr = nil, ""
		}
		s.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	defer stop()

	s.log.Info("http api started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", s.cfg.Token != ""))
	err = srv.Serve(ln)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, http.ErrServerClosed):
		return errors.New("http api server closed unexpectedly")
	default:
		return err
	}
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
