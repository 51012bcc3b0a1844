package delivery

import (
	"context"
	"time"

	"remindd/internal/trigger"
)

// Sink performs the downstream call for one fired reminder.
type Sink interface {
	Name() string
	Send(ctx context.Context, p trigger.Payload) error
}

const DefaultRetryMax = 3

type Config struct {
	Workers   int
	QueueSize int

	// Timeout bounds a single Send attempt.
	Timeout time.Duration

	// RetryMax is the number of retries after the first attempt; 0 disables
	// them. Callers wanting the usual policy pass DefaultRetryMax.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	c.RetryMax = max(c.RetryMax, 0)
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

type HistoryItem struct {
	Trigger    trigger.Handle `json:"trigger"`
	Name       string         `json:"name"`
	Started    time.Time      `json:"started"`
	QueueDelay time.Duration  `json:"queue_delay"`
	Duration   time.Duration  `json:"duration"`
	Attempts   int            `json:"attempts"`
	Error      string         `json:"error,omitempty"`
}

type Snapshot struct {
	Sink     string        `json:"sink"`
	Running  bool          `json:"running"`
	Workers  int           `json:"workers"`
	QueueLen int           `json:"queue_len"`
	QueueCap int           `json:"queue_cap"`
	Sent     uint64        `json:"sent"`
	Failed   uint64        `json:"failed"`
	Dropped  uint64        `json:"dropped"`
	History  []HistoryItem `json:"history,omitempty"`
}
