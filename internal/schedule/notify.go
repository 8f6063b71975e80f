package schedule

import (
	"sync"
	"time"

	"gitea.jw6.us/james/washcal/internal/store"
)

// ChangeOp names the mutation that produced a Change.
type ChangeOp string

const (
	OpCreated       ChangeOp = "created"
	OpUpdated       ChangeOp = "updated"
	OpMoved         ChangeOp = "moved"
	OpStatusChanged ChangeOp = "status_changed"
	OpDeleted       ChangeOp = "deleted"
)

// Change is emitted after every successful mutation. Event holds the stored
// state, or the last known state for OpDeleted.
type Change struct {
	EventID string
	Op      ChangeOp
	Event   store.Event
	At      time.Time
}

// Observer receives changes synchronously, after the scheduling lock is
// released. Implementations must not block for long.
type Observer interface {
	OnChange(Change)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Change)

func (f ObserverFunc) OnChange(c Change) { f(c) }

type observerList struct {
	mu   sync.RWMutex
	next int
	subs map[int]Observer
}

func (l *observerList) add(o Observer) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subs == nil {
		l.subs = make(map[int]Observer)
	}
	id := l.next
	l.next++
	l.subs[id] = o
	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

func (l *observerList) emit(c Change) {
	l.mu.RLock()
	subs := make([]Observer, 0, len(l.subs))
	for _, o := range l.subs {
		subs = append(subs, o)
	}
	l.mu.RUnlock()
	for _, o := range subs {
		o.OnChange(c)
	}
}
