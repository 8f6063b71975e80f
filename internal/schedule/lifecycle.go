package schedule

import (
	"context"
	"errors"
	"strings"
	"time"

	"gitea.jw6.us/james/washcal/internal/metrics"
	"gitea.jw6.us/james/washcal/internal/store"
	"go.uber.org/zap"
)

// DefaultCalendar is the lock namespace used when none is configured.
const DefaultCalendar = "main"

// maxRelockAttempts bounds how often an update retries when a concurrent
// writer moved the event to a day it did not lock.
const maxRelockAttempts = 3

func concurrentChange() *Error {
	return &Error{Kind: KindStoreUnavailable, Message: "event changed concurrently, retry"}
}

// Caller is the identity asserted by the transport layer.
type Caller struct {
	UserID string
	Staff  bool
}

// AuthContext resolves the caller of a request. The Manager never inspects
// ambient state for identity.
type AuthContext interface {
	Caller(ctx context.Context) (Caller, bool)
}

// EventInput is a create request. Start and End are wall-clock strings in
// the display timezone or RFC 3339 instants.
type EventInput struct {
	Title       string
	Description string
	Start       string
	End         string
	Location    string
	Kind        store.EventKind
	Props       store.ExtendedProps
}

// EventPatch carries the fields of an update; nil fields are left unchanged.
type EventPatch struct {
	Title         *string
	Description   *string
	Start         *string
	End           *string
	Location      *string
	Kind          *store.EventKind
	Status        *store.AppointmentStatus
	UserID        *string
	IsPickup      *bool
	PickupAddress *string
	CarID         *string
	CarType       *store.CarType
}

// OnlyTimes reports whether the patch touches nothing but start and end.
func (p EventPatch) OnlyTimes() bool {
	return (p.Start != nil || p.End != nil) &&
		p.Title == nil && p.Description == nil && p.Location == nil && p.Kind == nil &&
		p.Status == nil && p.UserID == nil && p.IsPickup == nil && p.PickupAddress == nil &&
		p.CarID == nil && p.CarType == nil
}

// Option configures a Manager.
type Option func(*Manager)

// WithLocker replaces the default in-process locker.
func WithLocker(l Locker) Option { return func(m *Manager) { m.locker = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithCalendar sets the lock namespace shared by all replicas serving one calendar.
func WithCalendar(name string) Option { return func(m *Manager) { m.calendar = name } }

// Manager orchestrates event mutations: normalize, lock, validate, persist, notify.
type Manager struct {
	events    store.EventRepository
	auth      AuthContext
	norm      *Normalizer
	validator *Validator
	locker    Locker
	now       func() time.Time
	logger    *zap.Logger
	calendar  string
	observers observerList
}

func NewManager(events store.EventRepository, auth AuthContext, norm *Normalizer, policy Policy, opts ...Option) *Manager {
	m := &Manager{
		events:    events,
		auth:      auth,
		norm:      norm,
		validator: NewValidator(policy, norm.Location()),
		locker:    NewLocalLocker(),
		now:       time.Now,
		logger:    zap.NewNop(),
		calendar:  DefaultCalendar,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Normalizer returns the display-timezone converter used by the manager.
func (m *Manager) Normalizer() *Normalizer { return m.norm }

// Policy returns the scheduling rules.
func (m *Manager) Policy() Policy { return m.validator.Policy() }

// Subscribe registers o for change notifications and returns its cancel func.
func (m *Manager) Subscribe(o Observer) func() { return m.observers.add(o) }

// Create validates and stores a new event.
func (m *Manager) Create(ctx context.Context, in EventInput) (store.Event, error) {
	start, err := m.norm.ToStorageInstant(in.Start)
	if err != nil {
		return store.Event{}, err
	}
	end, err := m.norm.ToStorageInstant(in.End)
	if err != nil {
		return store.Event{}, err
	}
	kind := in.Kind
	if kind == "" {
		kind = store.KindAppointment
	}
	ev := store.Event{
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Start:       start,
		End:         end,
		Location:    strings.TrimSpace(in.Location),
		Kind:        kind,
		Props:       in.Props,
	}
	if kind == store.KindAppointment {
		ev.Status = store.StatusPending
	}
	return m.create(ctx, ev)
}

func (m *Manager) create(ctx context.Context, ev store.Event) (store.Event, error) {
	if err := m.prepare(ctx, &ev); err != nil {
		return store.Event{}, m.reject(err)
	}

	unlock, err := m.lock(ctx, ev.Start, ev.End)
	if err != nil {
		return store.Event{}, err
	}
	stored, err := m.validateAndWrite(ctx, ev, func() (*store.Event, error) {
		return m.events.Insert(ctx, ev)
	})
	unlock()
	if err != nil {
		return store.Event{}, err
	}

	m.logger.Info("event created",
		zap.String("event_id", stored.ID),
		zap.String("kind", string(stored.Kind)),
		zap.Time("start", stored.Start),
		zap.Time("end", stored.End),
	)
	m.publish(OpCreated, *stored)
	return *stored, nil
}

// Update merges patch into the stored event and re-validates it as a new
// candidate, excluding its own prior state from the overlap set. A status
// change in the patch must be a legal transition.
func (m *Manager) Update(ctx context.Context, id string, patch EventPatch) (store.Event, error) {
	var start, end *time.Time
	if patch.Start != nil {
		t, err := m.norm.ToStorageInstant(*patch.Start)
		if err != nil {
			return store.Event{}, err
		}
		start = &t
	}
	if patch.End != nil {
		t, err := m.norm.ToStorageInstant(*patch.End)
		if err != nil {
			return store.Event{}, err
		}
		end = &t
	}

	op := OpUpdated
	if patch.OnlyTimes() {
		op = OpMoved
	}
	return m.mutate(ctx, id, op, func(ev *store.Event) error {
		if start != nil {
			ev.Start = *start
		}
		if end != nil {
			ev.End = *end
		}
		return applyPatch(ev, patch)
	})
}

// Move changes only start and end. On rejection the stored event is left as
// it was and callers revert any optimistic display state.
func (m *Manager) Move(ctx context.Context, id string, start, end time.Time) (store.Event, error) {
	return m.mutate(ctx, id, OpMoved, func(ev *store.Event) error {
		ev.Start = start.UTC()
		ev.End = end.UTC()
		return nil
	})
}

func (m *Manager) mutate(ctx context.Context, id string, op ChangeOp, apply func(*store.Event) error) (store.Event, error) {
	loaded, err := m.load(ctx, id)
	if err != nil {
		return store.Event{}, err
	}
	current := *loaded

	for attempt := 0; ; attempt++ {
		candidate := current
		if err := apply(&candidate); err != nil {
			return store.Event{}, m.reject(err)
		}
		if err := m.prepare(ctx, &candidate); err != nil {
			return store.Event{}, m.reject(err)
		}

		keys := m.lockKeys(current.Start, current.End, candidate.Start, candidate.End)
		unlock, err := m.lockKeysCtx(ctx, keys)
		if err != nil {
			return store.Event{}, err
		}

		// Last writer wins: re-read under the lock and rebase the patch on
		// the latest committed state.
		latest, err := m.load(ctx, id)
		if err != nil {
			unlock()
			return store.Event{}, err
		}
		current = *latest
		candidate = current
		if err := apply(&candidate); err != nil {
			unlock()
			return store.Event{}, m.reject(err)
		}
		if err := m.prepare(ctx, &candidate); err != nil {
			unlock()
			return store.Event{}, m.reject(err)
		}
		if !containsAll(keys, m.lockKeys(current.Start, current.End, candidate.Start, candidate.End)) {
			unlock()
			if attempt+1 >= maxRelockAttempts {
				return store.Event{}, concurrentChange()
			}
			continue
		}

		stored, err := m.validateAndWrite(ctx, candidate, func() (*store.Event, error) {
			return m.events.Replace(ctx, id, candidate)
		})
		unlock()
		if err != nil {
			return store.Event{}, err
		}

		m.logger.Info("event updated",
			zap.String("event_id", id),
			zap.String("op", string(op)),
			zap.Time("start", stored.Start),
			zap.Time("end", stored.End),
		)
		m.publish(op, *stored)
		return *stored, nil
	}
}

// TransitionStatus moves an appointment along its status machine. Time
// rules are not re-evaluated, so past appointments can still be completed.
func (m *Manager) TransitionStatus(ctx context.Context, id string, next store.AppointmentStatus) (store.Event, error) {
	if !ValidStatus(next) {
		return store.Event{}, &Error{Kind: KindIllegalTransition, Message: "unknown status " + string(next)}
	}
	current, unlock, err := m.lockCurrent(ctx, id)
	if err != nil {
		return store.Event{}, err
	}
	if err := checkTransition(*current, next); err != nil {
		unlock()
		return store.Event{}, err
	}
	current.Status = next
	stored, err := m.events.Replace(ctx, id, *current)
	unlock()
	if err != nil {
		return store.Event{}, m.storeError("replace event", err, true)
	}

	m.logger.Info("event status changed", zap.String("event_id", id), zap.String("status", string(next)))
	m.publish(OpStatusChanged, *stored)
	return *stored, nil
}

// Delete removes an event. A missing id is NOT_FOUND, so a second delete of
// the same id fails.
func (m *Manager) Delete(ctx context.Context, id string) error {
	current, unlock, err := m.lockCurrent(ctx, id)
	if err != nil {
		return err
	}
	err = m.events.Remove(ctx, id)
	unlock()
	if err != nil {
		return m.storeError("remove event", err, true)
	}

	m.logger.Info("event deleted", zap.String("event_id", id))
	m.publish(OpDeleted, *current)
	return nil
}

// lockCurrent locks the day buckets of the event's committed times and
// returns the event as read under that lock. The caller must unlock.
func (m *Manager) lockCurrent(ctx context.Context, id string) (*store.Event, func(), error) {
	current, err := m.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	for attempt := 0; ; attempt++ {
		keys := m.lockKeys(current.Start, current.End)
		unlock, err := m.lockKeysCtx(ctx, keys)
		if err != nil {
			return nil, nil, err
		}
		latest, err := m.load(ctx, id)
		if err != nil {
			unlock()
			return nil, nil, err
		}
		if containsAll(keys, m.lockKeys(latest.Start, latest.End)) {
			return latest, unlock, nil
		}
		unlock()
		if attempt+1 >= maxRelockAttempts {
			return nil, nil, concurrentChange()
		}
		current = latest
	}
}

// Get returns one event.
func (m *Manager) Get(ctx context.Context, id string) (store.Event, error) {
	ev, err := m.load(ctx, id)
	if err != nil {
		return store.Event{}, err
	}
	return *ev, nil
}

// List returns events matching filter ordered by start.
func (m *Manager) List(ctx context.Context, filter store.EventFilter) ([]store.Event, error) {
	events, err := m.events.Find(ctx, filter)
	if err != nil {
		return nil, m.storeError("find events", err, false)
	}
	return events, nil
}

// ListForCustomer returns the appointments owned by userID, or by the caller
// when userID is empty.
func (m *Manager) ListForCustomer(ctx context.Context, userID string) ([]store.Event, error) {
	if userID == "" {
		caller, ok := m.caller(ctx)
		if !ok || caller.UserID == "" {
			return nil, invalidEvent(ReasonMissingCustomer, "no customer to list appointments for")
		}
		userID = caller.UserID
	}
	return m.List(ctx, store.EventFilter{Kind: store.KindAppointment, UserID: userID})
}

// prepare enforces the per-kind field invariants and fills defaults.
func (m *Manager) prepare(ctx context.Context, ev *store.Event) error {
	if !ev.Kind.Valid() {
		return invalidEvent(ReasonUnknownKind, "unknown event kind "+string(ev.Kind))
	}
	if ev.Title == "" {
		return invalidEvent(ReasonMissingTitle, "title is required")
	}
	if !ev.End.After(ev.Start) {
		return invalidEvent(ReasonInvalidRange, "end must be after start")
	}

	if ev.Kind == store.KindAvailability {
		ev.Status = ""
		ev.Props = store.ExtendedProps{}
		return nil
	}

	if ev.Status == "" {
		ev.Status = store.StatusPending
	}
	if ev.Props.UserID == "" {
		if caller, ok := m.caller(ctx); ok && !caller.Staff {
			ev.Props.UserID = caller.UserID
		}
	}
	if ev.Props.UserID == "" {
		return invalidEvent(ReasonMissingCustomer, "appointment requires a customer")
	}
	if !ev.Props.IsPickup {
		ev.Props.PickupAddress = ""
	} else if strings.TrimSpace(ev.Props.PickupAddress) == "" {
		return invalidEvent(ReasonMissingPickupAddress, "pickup requires an address")
	}
	if !ev.Props.CarType.Valid() {
		return invalidEvent(ReasonUnknownCarType, "unknown car type "+string(ev.Props.CarType))
	}
	return nil
}

func (m *Manager) caller(ctx context.Context) (Caller, bool) {
	if m.auth == nil {
		return Caller{}, false
	}
	return m.auth.Caller(ctx)
}

// validateAndWrite must run with the candidate's day locked.
func (m *Manager) validateAndWrite(ctx context.Context, candidate store.Event, write func() (*store.Event, error)) (*store.Event, error) {
	from, _ := m.norm.DayBounds(candidate.Start)
	_, to := m.norm.DayBounds(candidate.End)
	existing, err := m.events.Find(ctx, store.EventFilter{RangeStart: &from, RangeEnd: &to})
	if err != nil {
		return nil, m.storeError("find events", err, false)
	}
	if err := m.validator.Validate(candidate, existing, m.now()); err != nil {
		return nil, m.reject(err)
	}

	stored, err := write()
	if err != nil {
		if errors.Is(err, store.ErrOverlap) {
			return nil, m.reject(violation(ReasonOverlap, "overlaps an existing event"))
		}
		return nil, m.storeError("write event", err, true)
	}
	return stored, nil
}

func (m *Manager) load(ctx context.Context, id string) (*store.Event, error) {
	ev, err := m.events.FindByID(ctx, id)
	if err != nil {
		return nil, m.storeError("load event", err, false)
	}
	return ev, nil
}

func (m *Manager) lock(ctx context.Context, times ...time.Time) (func(), error) {
	return m.lockKeysCtx(ctx, m.lockKeys(times...))
}

func (m *Manager) lockKeysCtx(ctx context.Context, keys []string) (func(), error) {
	start := time.Now()
	unlock, err := m.locker.Lock(ctx, keys...)
	metrics.ObserveLockWait(start, err)
	if err != nil {
		m.logger.Warn("scheduling lock unavailable", zap.Strings("keys", keys), zap.Error(err))
		return nil, &Error{Kind: KindStoreUnavailable, Message: "scheduling lock unavailable", Err: err}
	}
	return unlock, nil
}

// lockKeys maps instants to their local day buckets.
func (m *Manager) lockKeys(times ...time.Time) []string {
	keys := make([]string, 0, len(times))
	for _, t := range times {
		keys = append(keys, "sched:"+m.calendar+":"+m.norm.LocalDay(t))
	}
	return SortKeys(keys)
}

func (m *Manager) storeError(op string, err error, write bool) error {
	if errors.Is(err, store.ErrNotFound) {
		return &Error{Kind: KindNotFound, Message: "event not found"}
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	wrapped := storeUnavailable(op, err, write)
	m.logger.Error("event store failure",
		zap.String("op", op),
		zap.Bool("outcome_unknown", wrapped.OutcomeUnknown),
		zap.Error(err),
	)
	return wrapped
}

func (m *Manager) reject(err error) error {
	if e, ok := AsError(err); ok && e.Reason != "" {
		metrics.RecordRejection(string(e.Reason))
		m.logger.Debug("event rejected", zap.String("reason", string(e.Reason)), zap.String("detail", e.Message))
	}
	return err
}

func (m *Manager) publish(op ChangeOp, ev store.Event) {
	metrics.RecordMutation(string(op), string(ev.Kind))
	m.observers.emit(Change{EventID: ev.ID, Op: op, Event: ev, At: m.now().UTC()})
}

func applyPatch(ev *store.Event, p EventPatch) error {
	if p.Title != nil {
		ev.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		ev.Description = *p.Description
	}
	if p.Location != nil {
		ev.Location = strings.TrimSpace(*p.Location)
	}
	if p.Kind != nil && *p.Kind != ev.Kind {
		ev.Kind = *p.Kind
		if ev.Kind == store.KindAppointment {
			ev.Status = store.StatusPending
		}
	}
	if p.UserID != nil {
		ev.Props.UserID = *p.UserID
	}
	if p.IsPickup != nil {
		ev.Props.IsPickup = *p.IsPickup
	}
	if p.PickupAddress != nil {
		ev.Props.PickupAddress = *p.PickupAddress
	}
	if p.CarID != nil {
		ev.Props.CarID = *p.CarID
	}
	if p.CarType != nil {
		ev.Props.CarType = *p.CarType
	}
	if p.Status != nil && *p.Status != ev.Status {
		if err := checkTransition(*ev, *p.Status); err != nil {
			return err
		}
		ev.Status = *p.Status
	}
	return nil
}

func checkTransition(ev store.Event, next store.AppointmentStatus) error {
	if ev.Kind != store.KindAppointment {
		return &Error{Kind: KindIllegalTransition, Message: "availability events have no status"}
	}
	if !CanTransition(ev.Status, next) {
		return &Error{Kind: KindIllegalTransition, Message: string(ev.Status) + " -> " + string(next) + " is not allowed"}
	}
	return nil
}

func containsAll(held, want []string) bool {
	set := make(map[string]struct{}, len(held))
	for _, k := range held {
		set[k] = struct{}{}
	}
	for _, k := range want {
		if _, ok := set[k]; !ok {
			return false
		}
	}
	return true
}
