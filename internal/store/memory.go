package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryEventRepo keeps events in a map guarded by a RWMutex. It is used by
// tests and by single-node deployments started with APP_STORE=memory.
type memoryEventRepo struct {
	mu     sync.RWMutex
	events map[string]Event
	now    func() time.Time
}

// NewMemoryEventRepository returns an empty in-memory EventRepository. A nil
// clock defaults to time.Now.
func NewMemoryEventRepository(now func() time.Time) EventRepository {
	if now == nil {
		now = time.Now
	}
	return &memoryEventRepo{events: make(map[string]Event), now: now}
}

func (r *memoryEventRepo) Find(ctx context.Context, filter EventFilter) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Event, 0, len(r.events))
	for _, ev := range r.events {
		if filter.Matches(ev) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func (r *memoryEventRepo) FindByID(ctx context.Context, id string) (*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	ev, ok := r.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &ev, nil
}

func (r *memoryEventRepo) Insert(ctx context.Context, event Event) (*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	event.ID = uuid.NewString()
	event.CreatedAt = now
	event.UpdatedAt = now
	r.events[event.ID] = event
	return &event, nil
}

func (r *memoryEventRepo) Replace(ctx context.Context, id string, event Event) (*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	event.ID = id
	event.CreatedAt = existing.CreatedAt
	event.UpdatedAt = r.now().UTC()
	r.events[id] = event
	return &event, nil
}

func (r *memoryEventRepo) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.events[id]; !ok {
		return ErrNotFound
	}
	delete(r.events, id)
	return nil
}
