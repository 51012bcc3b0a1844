package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

// WebhookSink POSTs the payload as JSON {contact, message} to a fixed endpoint.
type WebhookSink struct {
	endpoint string
	token    string
	hc       *http.Client
}

func NewWebhookSink(endpoint, token string, hc *http.Client) *WebhookSink {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &WebhookSink{endpoint: endpoint, token: token, hc: hc}
}

func (w *WebhookSink) Name() string { return "webhook" }

func (w *WebhookSink) Send(ctx context.Context, p trigger.Payload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return NoRetry(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(b))
	if err != nil {
		return NoRetry(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	resp, err := w.hc.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return RetryAfter(statusError(code, body), parseRetryAfter(resp.Header.Get("Retry-After")))
	case code >= 500:
		return statusError(code, body)
	default:
		return NoRetry(statusError(code, body))
	}
}

func statusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("webhook: status %d", code)
	}
	return fmt.Errorf("webhook: status %d: %s", code, msg)
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

// TelegramSink posts reminders to one chat. Meant for operator and staging
// channels; the contact is included in the text.
type TelegramSink struct {
	bot      *tele.Bot
	chatID   int64
	threadID int
}

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	// URL overrides the Bot API endpoint.
	URL string
}

func NewTelegramSink(cfg TelegramConfig) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.URL,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSink{bot: b, chatID: cfg.ChatID, threadID: cfg.ThreadID}, nil
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) Send(ctx context.Context, p trigger.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := p.Message
	if p.Contact != "" {
		text = fmt.Sprintf("To %s:\n%s", p.Contact, p.Message)
	}
	_, err := t.bot.Send(&tele.Chat{ID: t.chatID}, text, &tele.SendOptions{
		ThreadID:              t.threadID,
		DisableWebPagePreview: true,
	})
	if err == nil {
		return nil
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return RetryAfter(err, time.Duration(flood.RetryAfter)*time.Second)
	}
	var floodp *tele.FloodError
	if errors.As(err, &floodp) && floodp != nil {
		return RetryAfter(err, time.Duration(floodp.RetryAfter)*time.Second)
	}
	return err
}

// LogSink only logs; used for dry runs.
type LogSink struct{ log logx.Logger }

func NewLogSink(log logx.Logger) *LogSink { return &LogSink{log: log} }

func (l *LogSink) Name() string { return "log" }

func (l *LogSink) Send(_ context.Context, p trigger.Payload) error {
	l.log.Info("reminder delivered (dry run)", logx.String("contact", p.Contact), logx.String("message", p.Message))
	return nil
}

// RateLimited wraps a sink with a token bucket shared by all workers.
type RateLimited struct {
	Sink
	lim *rate.Limiter
}

// WithRateLimit returns sink unchanged when perSec <= 0.
func WithRateLimit(sink Sink, perSec int) Sink {
	if perSec <= 0 {
		return sink
	}
	return &RateLimited{Sink: sink, lim: rate.NewLimiter(rate.Limit(perSec), perSec)}
}

func (r *RateLimited) Send(ctx context.Context, p trigger.Payload) error {
	if err := r.lim.Wait(ctx); err != nil {
		return err
	}
	return r.Sink.Send(ctx, p)
}
