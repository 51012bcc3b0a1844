package config

import (
	"fmt"
	"strings"
)

// Validate checks values that would otherwise only fail when the app maps them
// into service configs. It is used both at startup and before committing a reload.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.Storage != nil {
		switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
		case "", "none", "memory":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(cfg.Storage.Path) == "" {
				return fmt.Errorf("storage.path is required when storage.driver=%s", d)
			}
		default:
			return fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}

	if _, err := LoadLocation("reminder.timezone", cfg.Reminder.Timezone); err != nil {
		return err
	}
	if cfg.Reminder.Parallelism < 0 {
		return fmt.Errorf("reminder.parallelism must be >= 0")
	}
	for path, raw := range map[string]string{
		"reminder.offset_timeout":  cfg.Reminder.OffsetTimeout,
		"reminder.request_timeout": cfg.Reminder.RequestTimeout,
		"content.timeout":          cfg.Content.Timeout,
		"trigger.timeout":          cfg.Trigger.Timeout,
		"http.read_timeout":        cfg.HTTP.ReadTimeout,
		"http.write_timeout":       cfg.HTTP.WriteTimeout,
		"http.idle_timeout":        cfg.HTTP.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	switch p := strings.ToLower(strings.TrimSpace(cfg.Content.Provider)); p {
	case "", "none":
	case "openai":
		if strings.TrimSpace(cfg.Content.Model) == "" {
			return fmt.Errorf("content.model is required when content.provider=openai")
		}
	default:
		return fmt.Errorf("unknown content.provider: %s", cfg.Content.Provider)
	}
	if cfg.Content.RatePerSec < 0 {
		return fmt.Errorf("content.rate_per_sec must be >= 0")
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Trigger.Driver)); d {
	case "", "local":
		if _, err := LoadLocation("trigger.timezone", cfg.Trigger.Timezone); err != nil {
			return err
		}
	case "http":
		if strings.TrimSpace(cfg.Trigger.BaseURL) == "" {
			return fmt.Errorf("trigger.base_url is required when trigger.driver=http")
		}
		if strings.TrimSpace(cfg.Trigger.Endpoint) == "" {
			return fmt.Errorf("trigger.endpoint is required when trigger.driver=http")
		}
	default:
		return fmt.Errorf("unknown trigger.driver: %s", cfg.Trigger.Driver)
	}

	if d := cfg.Delivery; d != nil {
		switch s := strings.ToLower(strings.TrimSpace(d.Sink)); s {
		case "", "log":
		case "webhook":
			if strings.TrimSpace(d.Endpoint) == "" {
				return fmt.Errorf("delivery.endpoint is required when delivery.sink=webhook")
			}
		case "telegram":
			if strings.TrimSpace(d.Telegram.Token) == "" || d.Telegram.ChatID == 0 {
				return fmt.Errorf("delivery.telegram.token and chat_id are required when delivery.sink=telegram")
			}
		default:
			return fmt.Errorf("unknown delivery.sink: %s", d.Sink)
		}
		if d.RetryMax != nil && *d.RetryMax < 0 {
			return fmt.Errorf("delivery.retry_max must be >= 0")
		}
		for path, raw := range map[string]string{
			"delivery.retry_base":      d.RetryBase,
			"delivery.retry_max_delay": d.RetryMaxDelay,
			"delivery.timeout":         d.Timeout,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				return err
			}
		}
	}
	return nil
}
