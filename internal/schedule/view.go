package schedule

import (
	"sort"
	"sync"

	"gitea.jw6.us/james/washcal/internal/store"
)

// CalendarView is a read cache of events for one rendered calendar. It is
// kept current by subscribing it to a Manager and is never the source of
// truth: MoveCommand writes to it optimistically and reverts it when the
// store refuses the change.
type CalendarView struct {
	mu     sync.RWMutex
	events map[string]store.Event
}

func NewCalendarView(events ...store.Event) *CalendarView {
	v := &CalendarView{events: make(map[string]store.Event, len(events))}
	for _, ev := range events {
		v.events[ev.ID] = ev
	}
	return v
}

// Get returns the cached event.
func (v *CalendarView) Get(id string) (store.Event, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ev, ok := v.events[id]
	return ev, ok
}

// Events returns the cached events ordered by start.
func (v *CalendarView) Events() []store.Event {
	v.mu.RLock()
	out := make([]store.Event, 0, len(v.events))
	for _, ev := range v.events {
		out = append(out, ev)
	}
	v.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// Entries renders the cache for display.
func (v *CalendarView) Entries(norm *Normalizer) []CalendarEntry {
	events := v.Events()
	out := make([]CalendarEntry, 0, len(events))
	for _, ev := range events {
		out = append(out, ToCalendarEntry(ev, norm))
	}
	return out
}

func (v *CalendarView) put(ev store.Event) {
	v.mu.Lock()
	v.events[ev.ID] = ev
	v.mu.Unlock()
}

func (v *CalendarView) remove(id string) {
	v.mu.Lock()
	delete(v.events, id)
	v.mu.Unlock()
}

// OnChange reconciles the cache with a committed mutation.
func (v *CalendarView) OnChange(c Change) {
	if c.Op == OpDeleted {
		v.remove(c.EventID)
		return
	}
	v.put(c.Event)
}
