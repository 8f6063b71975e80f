package schedule

import (
	"context"
	"time"

	"gitea.jw6.us/james/washcal/internal/store"
)

// Mover persists a new time range for an event. *Manager implements it.
type Mover interface {
	Move(ctx context.Context, id string, start, end time.Time) (store.Event, error)
}

// MoveCommand is a drag or resize gesture. ApplyOptimistic shows the new
// times in the view immediately; Commit persists them and restores the prior
// times in the view if the store refuses.
type MoveCommand struct {
	view  *CalendarView
	mover Mover
	id    string
	start time.Time
	end   time.Time

	prev    store.Event
	applied bool
}

func NewMoveCommand(view *CalendarView, mover Mover, id string, start, end time.Time) *MoveCommand {
	return &MoveCommand{view: view, mover: mover, id: id, start: start.UTC(), end: end.UTC()}
}

// NewResizeCommand keeps the cached start and changes only the end.
func NewResizeCommand(view *CalendarView, mover Mover, id string, end time.Time) (*MoveCommand, error) {
	ev, ok := view.Get(id)
	if !ok {
		return nil, &Error{Kind: KindNotFound, Message: "event not in view"}
	}
	return NewMoveCommand(view, mover, id, ev.Start, end), nil
}

// ApplyOptimistic writes the new range into the view and remembers the old one.
func (c *MoveCommand) ApplyOptimistic() error {
	if c.applied {
		return nil
	}
	ev, ok := c.view.Get(c.id)
	if !ok {
		return &Error{Kind: KindNotFound, Message: "event not in view"}
	}
	c.prev = ev
	ev.Start, ev.End = c.start, c.end
	c.view.put(ev)
	c.applied = true
	return nil
}

// Commit persists the move. On any failure the view is rolled back before
// the error is returned; on success the view holds the stored event.
func (c *MoveCommand) Commit(ctx context.Context) (store.Event, error) {
	if err := c.ApplyOptimistic(); err != nil {
		return store.Event{}, err
	}
	stored, err := c.mover.Move(ctx, c.id, c.start, c.end)
	if err != nil {
		c.Rollback()
		return store.Event{}, err
	}
	c.view.put(stored)
	c.applied = false
	return stored, nil
}

// Rollback restores the range seen before ApplyOptimistic. It is a no-op
// when nothing is pending.
func (c *MoveCommand) Rollback() {
	if !c.applied {
		return
	}
	c.view.put(c.prev)
	c.applied = false
}
