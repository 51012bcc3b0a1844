// Package storage persists scheduled reminder tasks and local trigger
// definitions.
//
// Drivers:
//   - "memory": process-local maps (default; nothing survives a restart)
//   - "file": JSON snapshot + append-only journal, no external dependency
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
package storage
