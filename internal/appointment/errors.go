package appointment

import (
	"context"
	"errors"
)

// Failures callers are expected to handle. Anything else is internal.
var (
	ErrInvalidInput    = errors.New("invalid appointment input")
	ErrInvalidRange    = errors.New("appointment must end after it starts")
	ErrOverlap         = errors.New("clinician already has an appointment in this time range")
	ErrPastAppointment = errors.New("appointment has already started")
	ErrNotFound        = errors.New("appointment not found")
	ErrAlreadyCanceled = errors.New("appointment is already canceled")
)

var errConcurrentModification = errors.New("appointment modified concurrently")

const (
	KindOK              = "ok"
	KindInvalidInput    = "invalid_input"
	KindInvalidRange    = "invalid_range"
	KindOverlap         = "overlap"
	KindPastAppointment = "past_appointment"
	KindNotFound        = "not_found"
	KindAlreadyCanceled = "already_canceled"
	KindUnknownOutcome  = "unknown_outcome"
	KindInternal        = "internal"
)

// Kind classifies err into one of the Kind* labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrInvalidRange):
		return KindInvalidRange
	case errors.Is(err, ErrOverlap):
		return KindOverlap
	case errors.Is(err, ErrPastAppointment):
		return KindPastAppointment
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyCanceled):
		return KindAlreadyCanceled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindUnknownOutcome
	default:
		return KindInternal
	}
}

// PublicMessage is safe to show to callers: no identifiers, no storage detail,
// and the same text for every cause of a not-found.
func PublicMessage(err error) string {
	switch Kind(err) {
	case KindOK:
		return ""
	case KindInvalidInput:
		return err.Error()
	case KindInvalidRange:
		return "end time must be after start time"
	case KindOverlap:
		return "the clinician already has an appointment at that time"
	case KindPastAppointment:
		return "the appointment has already started and can no longer be changed"
	case KindNotFound:
		return "appointment not found"
	case KindAlreadyCanceled:
		return "the appointment is already canceled"
	case KindUnknownOutcome:
		return "the request did not complete in time; the change may or may not have been applied"
	default:
		return "internal error"
	}
}
