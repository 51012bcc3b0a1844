package app

import (
	"strings"
	"time"

	"remindd/internal/config"
	"remindd/internal/content"
	"remindd/internal/delivery"
	"remindd/internal/reminder"
	"remindd/internal/storage"
	"remindd/internal/transport/httpapi"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		driver = "memory"
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, nil
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	rc := cfg.Reminder
	offsetTimeout, err := config.ParseDurationOrDefault("reminder.offset_timeout", rc.OffsetTimeout, reminder.DefaultOffsetTimeout)
	if err != nil {
		return reminder.Config{}, err
	}
	requestTimeout, err := config.ParseDurationOrDefault("reminder.request_timeout", rc.RequestTimeout, reminder.DefaultRequestTimeout)
	if err != nil {
		return reminder.Config{}, err
	}
	return reminder.Config{
		Parallelism:    rc.Parallelism,
		OffsetTimeout:  offsetTimeout,
		RequestTimeout: requestTimeout,
	}, nil
}

// mapContentConfig returns the provider (nil means template only) and limits.
func mapContentConfig(cfg *config.Config) (content.Provider, content.Config, error) {
	cc := cfg.Content
	loc, err := config.LoadLocation("reminder.timezone", cfg.Reminder.Timezone)
	if err != nil {
		return nil, content.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("content.timeout", cc.Timeout, content.DefaultTimeout)
	if err != nil {
		return nil, content.Config{}, err
	}
	out := content.Config{
		Timeout:    timeout,
		RatePerSec: cc.RatePerSec,
		MaxChars:   cc.MaxChars,
		Location:   loc,
	}
	switch strings.ToLower(strings.TrimSpace(cc.Provider)) {
	case "openai":
		return content.NewOpenAIProvider(cc.BaseURL, cc.APIKey, cc.Model, nil), out, nil
	default:
		return nil, out, nil
	}
}

func isLocalTrigger(cfg *config.Config) bool {
	d := strings.ToLower(strings.TrimSpace(cfg.Trigger.Driver))
	return d == "" || d == "local"
}

func mapLocalTriggerConfig(cfg *config.Config) (trigger.LocalConfig, error) {
	tz := cfg.Trigger.Timezone
	if strings.TrimSpace(tz) == "" {
		tz = cfg.Reminder.Timezone
	}
	loc, err := config.LoadLocation("trigger.timezone", tz)
	if err != nil {
		return trigger.LocalConfig{}, err
	}
	return trigger.LocalConfig{Location: loc}, nil
}

func mapHTTPTriggerConfig(cfg *config.Config) (trigger.HTTPConfig, error) {
	tc := cfg.Trigger
	timeout, err := config.ParseDurationOrDefault("trigger.timeout", tc.Timeout, trigger.DefaultHTTPTimeout)
	if err != nil {
		return trigger.HTTPConfig{}, err
	}
	return trigger.HTTPConfig{
		BaseURL:  tc.BaseURL,
		Token:    tc.Token,
		Endpoint: tc.Endpoint,
		Timeout:  timeout,
	}, nil
}

func mapDeliveryConfig(cfg *config.Config) (delivery.Config, error) {
	d := cfg.Delivery
	if d == nil {
		return delivery.Config{RetryMax: delivery.DefaultRetryMax}, nil
	}
	retryMax := delivery.DefaultRetryMax
	if d.RetryMax != nil {
		retryMax = *d.RetryMax
	}
	retryBase, err := config.ParseDurationField("delivery.retry_base", d.RetryBase)
	if err != nil {
		return delivery.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("delivery.retry_max_delay", d.RetryMaxDelay)
	if err != nil {
		return delivery.Config{}, err
	}
	timeout, err := config.ParseDurationField("delivery.timeout", d.Timeout)
	if err != nil {
		return delivery.Config{}, err
	}
	return delivery.Config{
		Workers:       d.Workers,
		QueueSize:     d.QueueSize,
		Timeout:       timeout,
		RetryMax:      retryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
		HistorySize:   d.HistorySize,
	}, nil
}

func newDeliverySink(cfg *config.Config, log logx.Logger) (delivery.Sink, error) {
	d := cfg.Delivery
	if d == nil {
		return delivery.NewLogSink(log), nil
	}
	var (
		sink delivery.Sink
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(d.Sink)) {
	case "webhook":
		sink = delivery.NewWebhookSink(d.Endpoint, d.Token, nil)
	case "telegram":
		sink, err = delivery.NewTelegramSink(delivery.TelegramConfig{
			Token:    d.Telegram.Token,
			ChatID:   d.Telegram.ChatID,
			ThreadID: d.Telegram.ThreadID,
		})
		if err != nil {
			return nil, err
		}
	default:
		sink = delivery.NewLogSink(log)
	}
	if d.RatePerSec > 0 {
		sink = delivery.WithRateLimit(sink, d.RatePerSec)
	}
	return sink, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	hc := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 15*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", hc.WriteTimeout, 90*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", hc.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         hc.Addr,
		Token:        hc.Token,
		Pprof:        hc.Pprof,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}
