package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgx SQLSTATE raised by the events_no_overlap exclusion constraint.
const exclusionViolation = "23P01"

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// eventRepo implements EventRepository on PostgreSQL.
type eventRepo struct {
	pool pgxQuerier
}

const eventColumns = `id, title, description, start_at, end_at, location, kind, status,
	user_id, is_pickup, pickup_address, car_id, car_type, created_at, updated_at`

func (r *eventRepo) Find(ctx context.Context, filter EventFilter) ([]Event, error) {
	defer observeDB(ctx, "db.events.find")()

	query, args := buildFindQuery(filter)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func (r *eventRepo) FindByID(ctx context.Context, id string) (*Event, error) {
	defer observeDB(ctx, "db.events.find_by_id")()

	row := r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if err != nil {
		return nil, translateError(err)
	}
	return &ev, nil
}

func (r *eventRepo) Insert(ctx context.Context, event Event) (*Event, error) {
	defer observeDB(ctx, "db.events.insert")()

	const q = `INSERT INTO events (title, description, start_at, end_at, location, kind, status,
	user_id, is_pickup, pickup_address, car_id, car_type)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING ` + eventColumns

	row := r.pool.QueryRow(ctx, q, eventArgs(event)...)
	ev, err := scanEvent(row)
	if err != nil {
		return nil, translateError(err)
	}
	return &ev, nil
}

func (r *eventRepo) Replace(ctx context.Context, id string, event Event) (*Event, error) {
	defer observeDB(ctx, "db.events.replace")()

	const q = `UPDATE events SET title = $1, description = $2, start_at = $3, end_at = $4,
	location = $5, kind = $6, status = $7, user_id = $8, is_pickup = $9, pickup_address = $10,
	car_id = $11, car_type = $12, updated_at = NOW()
WHERE id = $13
RETURNING ` + eventColumns

	args := append(eventArgs(event), id)
	row := r.pool.QueryRow(ctx, q, args...)
	ev, err := scanEvent(row)
	if err != nil {
		return nil, translateError(err)
	}
	return &ev, nil
}

func (r *eventRepo) Remove(ctx context.Context, id string) error {
	defer observeDB(ctx, "db.events.remove")()

	tag, err := r.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// buildFindQuery renders the WHERE clause for a filter. Range bounds select
// rows whose [start_at, end_at) intersects the requested window.
func buildFindQuery(filter EventFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.RangeStart != nil {
		add("end_at > $%d", filter.RangeStart.UTC())
	}
	if filter.RangeEnd != nil {
		add("start_at < $%d", filter.RangeEnd.UTC())
	}
	if filter.Kind != "" {
		add("kind = $%d", string(filter.Kind))
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(eventColumns)
	sb.WriteString(" FROM events")
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY start_at, id")
	return sb.String(), args
}

func eventArgs(ev Event) []any {
	return []any{
		ev.Title,
		ev.Description,
		ev.Start.UTC(),
		ev.End.UTC(),
		nullIfEmpty(ev.Location),
		string(ev.Kind),
		nullIfEmpty(string(ev.Status)),
		nullIfEmpty(ev.Props.UserID),
		ev.Props.IsPickup,
		nullIfEmpty(ev.Props.PickupAddress),
		nullIfEmpty(ev.Props.CarID),
		nullIfEmpty(string(ev.Props.CarType)),
	}
}

func scanEvent(row pgx.Row) (Event, error) {
	var (
		ev                                          Event
		location, status, userID, pickup, carID, ct *string
		kind                                        string
	)
	err := row.Scan(
		&ev.ID, &ev.Title, &ev.Description, &ev.Start, &ev.End, &location, &kind, &status,
		&userID, &ev.Props.IsPickup, &pickup, &carID, &ct, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return Event{}, err
	}
	ev.Start = ev.Start.UTC()
	ev.End = ev.End.UTC()
	ev.CreatedAt = ev.CreatedAt.UTC()
	ev.UpdatedAt = ev.UpdatedAt.UTC()
	ev.Kind = EventKind(kind)
	ev.Location = deref(location)
	ev.Status = AppointmentStatus(deref(status))
	ev.Props.UserID = deref(userID)
	ev.Props.PickupAddress = deref(pickup)
	ev.Props.CarID = deref(carID)
	ev.Props.CarType = CarType(deref(ct))
	return ev, nil
}

func translateError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case exclusionViolation:
			return ErrOverlap
		case "22P02": // invalid_text_representation, e.g. a non-uuid id
			return ErrNotFound
		}
	}
	return err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
