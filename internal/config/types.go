package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging  LoggingConfig   `json:"logging"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Reminder ReminderConfig  `json:"reminder"`
	Content  ContentConfig   `json:"content"`
	Trigger  TriggerConfig   `json:"trigger"`
	Delivery *DeliveryConfig `json:"delivery,omitempty"`
	HTTP     HTTPConfig      `json:"http"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/remindd.db" }
//
// If the section is omitted the in-memory driver is used (nothing survives a restart).
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// ReminderConfig controls the schedule orchestrator.
//
// Defaults (when fields are omitted/zero):
//   - timezone: "UTC" (used to render times in reminder text)
//   - parallelism: 3
//   - offset_timeout: "15s"
//   - request_timeout: "60s"
type ReminderConfig struct {
	Timezone       string `json:"timezone,omitempty"`
	Parallelism    int    `json:"parallelism,omitempty"`
	OffsetTimeout  string `json:"offset_timeout,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
}

// ContentConfig controls reminder text generation.
//
// Provider values:
//   - "openai": any OpenAI-compatible chat completions endpoint
//   - "" / "none": template only
//
// The API key is never logged.
type ContentConfig struct {
	Provider   string  `json:"provider,omitempty"`
	BaseURL    string  `json:"base_url,omitempty"`
	APIKey     string  `json:"api_key,omitempty"`
	Model      string  `json:"model,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	MaxChars   int     `json:"max_chars,omitempty"`
}

// TriggerConfig selects the time-based scheduler backend.
//
// Driver values:
//   - "local": in-process cron-backed one-shot triggers (default)
//   - "http": remote scheduler REST API at base_url
type TriggerConfig struct {
	Driver  string `json:"driver,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Token   string `json:"token,omitempty"`
	Timeout string `json:"timeout,omitempty"`
	// Endpoint is the downstream delivery URL passed to remote schedulers.
	Endpoint string `json:"endpoint,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// DeliveryConfig controls what happens when a local trigger fires.
//
// Sink values:
//   - "webhook": POST {contact, message} to endpoint
//   - "telegram": send the message to telegram.chat_id
//   - "log": only log (dry run; default)
type DeliveryConfig struct {
	Sink          string         `json:"sink,omitempty"`
	Endpoint      string         `json:"endpoint,omitempty"`
	Token         string         `json:"token,omitempty"`
	Workers       int            `json:"workers,omitempty"`
	QueueSize     int            `json:"queue_size,omitempty"`
	// RetryMax is the number of retries after the first attempt. Omitted means
	// the default (3); 0 disables retries.
	RetryMax      *int           `json:"retry_max,omitempty"`
	RetryBase     string         `json:"retry_base,omitempty"`
	RetryMaxDelay string         `json:"retry_max_delay,omitempty"`
	Timeout       string         `json:"timeout,omitempty"`
	RatePerSec    int            `json:"rate_per_sec,omitempty"`
	HistorySize   int            `json:"history_size,omitempty"`
	Telegram      TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// HTTPConfig controls the API server.
//
// Security note: prefer binding to localhost; authentication is handled upstream.
type HTTPConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
	Metrics      bool   `json:"metrics,omitempty"`
	Pprof        bool   `json:"pprof,omitempty"`
	// Token, when set, is required as "Authorization: Bearer <token>" on /v1 routes.
	Token string `json:"token,omitempty"`
}
