// Package trigger schedules one-shot calls to the delivery endpoint.
//
// Client is the boundary the reminder orchestrator consumes. Local runs
// triggers in-process on a cron scheduler; HTTPClient talks to a remote
// scheduler service.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Handle is an opaque reference to a created trigger, used only for deletion.
type Handle string

// Payload is delivered as JSON {contact, message} when the trigger fires.
type Payload struct {
	Contact string `json:"contact"`
	Message string `json:"message"`
}

type Client interface {
	// Create arms a one-shot trigger. A trigger with the same name already
	// existing yields *ConflictError.
	Create(ctx context.Context, name, description string, fireAt time.Time, p Payload) (Handle, error)
	// Delete is idempotent: an absent handle is not an error.
	Delete(ctx context.Context, h Handle) error
}

// Name derives the deterministic trigger name for a (task, offset) pair.
func Name(taskID, offsetCode string) string {
	return fmt.Sprintf("TASK-REMINDER-%s-%s", strings.ToUpper(offsetCode), taskID)
}

// ConflictError reports that a trigger named Name already exists.
// Existing is set when the backend reports the handle of that trigger.
type ConflictError struct {
	Name     string
	Existing Handle
}

func (e *ConflictError) Error() string {
	if e.Existing != "" {
		return fmt.Sprintf("trigger %q already exists (%s)", e.Name, e.Existing)
	}
	return fmt.Sprintf("trigger %q already exists", e.Name)
}

// ExternalError is a transport, auth or backend failure.
type ExternalError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ExternalError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("trigger %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("trigger %s: %v", e.Op, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func IsExternal(err error) bool {
	var ee *ExternalError
	return errors.As(err, &ee)
}

// Fired describes a trigger that reached its fire time.
type Fired struct {
	Handle  Handle
	Name    string
	FireAt  time.Time
	Payload Payload
}

// Dispatcher performs the downstream delivery call for a fired trigger.
type Dispatcher interface {
	Dispatch(ctx context.Context, f Fired) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, f Fired) error

func (fn DispatcherFunc) Dispatch(ctx context.Context, f Fired) error { return fn(ctx, f) }
