// Package content produces reminder message text.
//
// Service tries a generative Provider under a hard timeout and rate limit and
// falls back to a local template on any failure. Generate never fails.
package content

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/time/rate"

	"remindd/internal/eventbus"
	logx "remindd/pkg/logx"
)

// Request holds the fields a reminder message is built from.
type Request struct {
	RecipientName   string
	TaskDescription string
	TargetAt        time.Time
	OffsetLabel     string
}

type Generator interface {
	Generate(ctx context.Context, req Request) string
}

// Provider is a generative text backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Prompt is a constrained instruction pair for a Provider.
type Prompt struct {
	System string
	User   string
}

var (
	ErrRateLimited = errors.New("content: rate limited")
	ErrMalformed   = errors.New("content: malformed response")
)

const (
	DefaultTimeout  = 8 * time.Second
	DefaultMaxChars = 320
)

type Config struct {
	Timeout    time.Duration
	RatePerSec float64 // <=0 disables limiting
	MaxChars   int
	Location   *time.Location
}

type Service struct {
	mu       sync.RWMutex
	provider Provider
	limiter  *rate.Limiter
	cfg      Config

	bus eventbus.Bus
	log logx.Logger
}

// NewService builds a Service. A nil provider means template-only.
func NewService(p Provider, cfg Config, bus eventbus.Bus, log logx.Logger) *Service {
	s := &Service{bus: bus, log: log}
	s.Apply(p, cfg)
	return s
}

// Apply swaps the provider and limits at runtime (config reload).
func (s *Service) Apply(p Provider, cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	s.mu.Lock()
	s.provider, s.limiter, s.cfg = p, lim, cfg
	s.mu.Unlock()
}

func (s *Service) snapshot() (Provider, *rate.Limiter, Config) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider, s.limiter, s.cfg
}

func (s *Service) Generate(ctx context.Context, req Request) string {
	p, lim, cfg := s.snapshot()
	if p == nil {
		return Fallback(req, cfg.Location)
	}
	msg, err := s.primary(ctx, p, lim, cfg, req)
	if err == nil {
		return msg
	}
	s.log.Warn("content generation failed; using template",
		logx.String("provider", p.Name()),
		logx.String("offset", req.OffsetLabel),
		logx.Err(err),
	)
	eventbus.Emit(s.bus, eventbus.ContentFallback, eventbus.ContentEvent{Provider: p.Name(), Reason: reason(err)})
	return Fallback(req, cfg.Location)
}

func (s *Service) primary(ctx context.Context, p Provider, lim *rate.Limiter, cfg Config, req Request) (string, error) {
	if lim != nil && !lim.Allow() {
		return "", ErrRateLimited
	}
	cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	out, err := p.Complete(cctx, BuildPrompt(req, cfg.Location))
	if err != nil {
		return "", err
	}
	msg := Sanitize(out)
	if msg == "" || len([]rune(msg)) > cfg.MaxChars {
		return "", ErrMalformed
	}
	return msg, nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case IsTransient(err):
		return "provider_unavailable"
	case errors.As(err, new(*ProviderError)):
		return "provider_rejected"
	default:
		return "error"
	}
}

// Sanitize strips wrapping quotes and markdown emphasis and collapses whitespace.
func Sanitize(s string) string {
	s = strings.TrimSpace(s)
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') || (first == '`' && last == '`') {
			s = strings.TrimSpace(s[1 : len(s)-1])
			continue
		}
		break
	}
	s = strings.NewReplacer("**", "", "__", "", "`", "", "#", "").Replace(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
