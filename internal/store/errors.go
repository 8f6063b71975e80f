package store

import "errors"

// ErrNotFound indicates a missing event id.
var ErrNotFound = errors.New("record not found")

// ErrOverlap is returned when the backend itself refuses a write because the
// event would intersect another one.
var ErrOverlap = errors.New("event overlaps an existing event")
