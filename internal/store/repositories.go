package store

import "context"

// EventRepository is the durable owner of calendar events. Implementations
// assign ID, CreatedAt and UpdatedAt on Insert and refresh UpdatedAt on Replace.
type EventRepository interface {
	// Find returns matching events ordered by start time.
	Find(ctx context.Context, filter EventFilter) ([]Event, error)
	FindByID(ctx context.Context, id string) (*Event, error)
	Insert(ctx context.Context, event Event) (*Event, error)
	Replace(ctx context.Context, id string, event Event) (*Event, error)
	Remove(ctx context.Context, id string) error
}
