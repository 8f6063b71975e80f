package schedule

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies scheduling failures so callers can branch without parsing messages.
type Kind string

const (
	KindMalformedTimestamp  Kind = "MALFORMED_TIMESTAMP"
	KindConstraintViolation Kind = "CONSTRAINT_VIOLATION"
	KindInvalidEvent        Kind = "INVALID_EVENT"
	KindIllegalTransition   Kind = "ILLEGAL_TRANSITION"
	KindNotFound            Kind = "NOT_FOUND"
	KindStoreUnavailable    Kind = "STORE_UNAVAILABLE"
)

// Reason is the machine-readable detail attached to constraint violations
// and invalid events.
type Reason string

const (
	ReasonOutsideBusinessHours Reason = "OUTSIDE_BUSINESS_HOURS"
	ReasonPastHorizon          Reason = "PAST_HORIZON"
	ReasonOverlap              Reason = "OVERLAP"
	ReasonBadGranularity       Reason = "BAD_GRANULARITY"

	ReasonInvalidRange         Reason = "INVALID_RANGE"
	ReasonMissingTitle         Reason = "MISSING_TITLE"
	ReasonMissingCustomer      Reason = "MISSING_CUSTOMER"
	ReasonMissingPickupAddress Reason = "MISSING_PICKUP_ADDRESS"
	ReasonUnknownKind          Reason = "UNKNOWN_KIND"
	ReasonUnknownCarType       Reason = "UNKNOWN_CAR_TYPE"
)

// Error is the typed failure returned by the Normalizer, Validator and Manager.
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	Err     error

	// OutcomeUnknown marks a write that was interrupted before the store
	// confirmed it. The event may or may not have been persisted.
	OutcomeUnknown bool
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += "(" + string(e.Reason) + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, and by reason when the target has one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Sentinels for errors.Is.
var (
	ErrMalformedTimestamp  = &Error{Kind: KindMalformedTimestamp}
	ErrConstraintViolation = &Error{Kind: KindConstraintViolation}
	ErrInvalidEvent        = &Error{Kind: KindInvalidEvent}
	ErrIllegalTransition   = &Error{Kind: KindIllegalTransition}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrStoreUnavailable    = &Error{Kind: KindStoreUnavailable}

	ErrOutsideBusinessHours = &Error{Kind: KindConstraintViolation, Reason: ReasonOutsideBusinessHours}
	ErrPastHorizon          = &Error{Kind: KindConstraintViolation, Reason: ReasonPastHorizon}
	ErrOverlap              = &Error{Kind: KindConstraintViolation, Reason: ReasonOverlap}
	ErrBadGranularity       = &Error{Kind: KindConstraintViolation, Reason: ReasonBadGranularity}
)

func violation(reason Reason, format string, args ...any) *Error {
	return &Error{Kind: KindConstraintViolation, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func invalidEvent(reason Reason, msg string) *Error {
	return &Error{Kind: KindInvalidEvent, Reason: reason, Message: msg}
}

func malformed(format string, args ...any) *Error {
	return &Error{Kind: KindMalformedTimestamp, Message: fmt.Sprintf(format, args...)}
}

// storeUnavailable wraps a persistence failure. Context expiry during a
// write leaves the outcome unknown.
func storeUnavailable(op string, err error, write bool) *Error {
	e := &Error{Kind: KindStoreUnavailable, Message: op, Err: err}
	if write && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		e.OutcomeUnknown = true
	}
	return e
}

// AsError extracts the scheduling error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
