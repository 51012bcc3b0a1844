package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"remindd/internal/eventbus"
	logx "remindd/pkg/logx"
)

type stubProvider struct {
	out   string
	err   error
	delay time.Duration
	calls int
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Complete(ctx context.Context, _ Prompt) (string, error) {
	p.calls++
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.delay):
		}
	}
	return p.out, p.err
}

var sampleReq = Request{
	RecipientName:   "Dana",
	TaskDescription: "Sign the lease renewal",
	TargetAt:        time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC),
	OffsetLabel:     "1 Day Before",
}

func assertFallback(t *testing.T, got string) {
	t.Helper()
	for _, want := range []string{"Dana", "Sign the lease renewal", "1 Day Before"} {
		if !strings.Contains(got, want) {
			t.Fatalf("message %q missing %q", got, want)
		}
	}
}

func TestGenerateFallsBackWhenPrimaryFails(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		p    *stubProvider
		cfg  Config
	}{
		{name: "error", p: &stubProvider{err: errors.New("quota exceeded")}},
		{name: "timeout", p: &stubProvider{out: "late", delay: time.Second}, cfg: Config{Timeout: 20 * time.Millisecond}},
		{name: "empty", p: &stubProvider{out: "   "}},
		{name: "too long", p: &stubProvider{out: strings.Repeat("x", 400)}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			bus := eventbus.New()
			events, unsub := bus.Subscribe(4)
			defer unsub()

			s := NewService(tt.p, tt.cfg, bus, logx.Nop())
			assertFallback(t, s.Generate(context.Background(), sampleReq))

			select {
			case e := <-events:
				if e.Type != eventbus.ContentFallback {
					t.Fatalf("event type = %q", e.Type)
				}
			case <-time.After(time.Second):
				t.Fatal("no fallback event")
			}
		})
	}
}

func TestGenerateUsesSanitizedPrimary(t *testing.T) {
	t.Parallel()
	p := &stubProvider{out: "  \"**Hi Dana**, lease renewal\n tomorrow at 15:00!\"  "}
	s := NewService(p, Config{}, nil, logx.Nop())
	got := s.Generate(context.Background(), sampleReq)
	if got != "Hi Dana, lease renewal tomorrow at 15:00!" {
		t.Fatalf("got %q", got)
	}
}

func TestGenerateRateLimitSkipsProvider(t *testing.T) {
	t.Parallel()
	p := &stubProvider{out: "ok"}
	s := NewService(p, Config{RatePerSec: 0.001}, nil, logx.Nop())
	_ = s.Generate(context.Background(), sampleReq)
	got := s.Generate(context.Background(), sampleReq)
	if p.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", p.calls)
	}
	assertFallback(t, got)
}

func TestGenerateWithoutProvider(t *testing.T) {
	t.Parallel()
	s := NewService(nil, Config{}, nil, logx.Nop())
	assertFallback(t, s.Generate(context.Background(), sampleReq))
}

func TestFallbackNeverEmpty(t *testing.T) {
	t.Parallel()
	got := Fallback(Request{}, nil)
	if !strings.Contains(got, "there") || strings.TrimSpace(got) == "" {
		t.Fatalf("got %q", got)
	}
}

func TestOpenAIProvider(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("auth header = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "m" || len(req.Messages) != 2 {
			t.Errorf("request = %+v", req)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hi Dana!"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "k", "m", srv.Client())
	out, err := p.Complete(context.Background(), BuildPrompt(sampleReq, time.UTC))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "Hi Dana!" {
		t.Fatalf("out = %q", out)
	}
}

func TestOpenAIProviderErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name          string
		status        int
		body          string
		wantTransient bool
		wantMalformed bool
	}{
		{name: "rate limited", status: 429, body: `{"error":{"message":"slow down"}}`, wantTransient: true},
		{name: "server error", status: 503, body: ``, wantTransient: true},
		{name: "bad request", status: 400, body: `{"error":{"message":"bad"}}`},
		{name: "garbage", status: 200, body: `not json`, wantMalformed: true},
		{name: "no choices", status: 200, body: `{"choices":[]}`, wantMalformed: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOpenAIProvider(srv.URL, "", "m", srv.Client()).Complete(context.Background(), Prompt{})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := IsTransient(err); got != tt.wantTransient {
				t.Fatalf("IsTransient = %v, err = %v", got, err)
			}
			if got := errors.Is(err, ErrMalformed); got != tt.wantMalformed {
				t.Fatalf("malformed = %v, err = %v", got, err)
			}
		})
	}
}

func TestFallbackReason(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{ErrRateLimited, "rate_limited"},
		{context.DeadlineExceeded, "timeout"},
		{fmt.Errorf("%w: no choices", ErrMalformed), "malformed"},
		{&ProviderError{StatusCode: 503, Transient: true}, "provider_unavailable"},
		{&ProviderError{StatusCode: 401}, "provider_rejected"},
		{errors.New("dial tcp: refused"), "error"},
	}
	for _, tt := range tests {
		if got := reason(tt.err); got != tt.want {
			t.Fatalf("reason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
