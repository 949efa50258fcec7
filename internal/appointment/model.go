package appointment

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinical-scheduling/internal/clock"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCanceled  Status = "canceled"
)

func (s Status) Valid() bool {
	return s == StatusScheduled || s == StatusCanceled
}

type Appointment struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	PatientID   uuid.UUID
	ClinicianID uuid.UUID
	StartsAt    time.Time
	EndsAt      time.Time
	Status      Status
	Location    *string
	Reason      *string
	CreatedBy   uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int
}

// HasStarted reports whether the appointment is in progress or finished at now.
func (a *Appointment) HasStarted(now time.Time) bool {
	return clock.HasStarted(a.StartsAt, now)
}

// CreateInput carries the caller supplied fields of a new appointment.
// IdempotencyKey is optional; repeats with the same key return the original id.
type CreateInput struct {
	PatientID      uuid.UUID
	ClinicianID    uuid.UUID
	StartsAt       time.Time
	EndsAt         time.Time
	Location       *string
	Reason         *string
	IdempotencyKey string
}

// ListFilter narrows a tenant's appointments. From and To bound StartsAt inclusively.
type ListFilter struct {
	PatientID   *uuid.UUID
	ClinicianID *uuid.UUID
	From        *time.Time
	To          *time.Time
	Status      *Status
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// MaxOffset bounds how deep a listing can page. It fits a 32-bit int and
	// a Postgres OFFSET.
	MaxOffset = math.MaxInt32
)

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	if last := MaxOffset/p.Size + 1; p.Number > last {
		p.Number = last
	}
	return p
}

func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Number - 1) * p.Size
}

type ListResult struct {
	Items    []Appointment
	Total    int
	Page     int
	PageSize int
}
