package reminder

import "context"

// Store persists scheduled tasks. Implementations live in internal/storage.
type Store interface {
	// Insert assigns and returns a new id. The task's ID field is ignored.
	Insert(ctx context.Context, t *ScheduledTask) (string, error)
	Get(ctx context.Context, id string) (*ScheduledTask, bool, error)
	Update(ctx context.Context, id string, u TaskUpdate) error
	// Delete of a missing id is not an error.
	Delete(ctx context.Context, id string) error
	// List returns matches ordered by TargetAt, then ID.
	List(ctx context.Context, f Filter) ([]*ScheduledTask, error)
}
