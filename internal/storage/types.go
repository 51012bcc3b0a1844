package storage

import (
	"errors"
	"time"

	"remindd/internal/reminder"
	"remindd/internal/trigger"
)

var ErrClosed = errors.New("storage closed")

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is everything remindd persists.
type Store interface {
	reminder.Store
	trigger.Store
	Close() error
}

var (
	_ Store = (*memStore)(nil)
	_ Store = (*fileStore)(nil)
	_ Store = (*sqliteStore)(nil)
)
