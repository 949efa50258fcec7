package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OverlapConstraint is the storage exclusion constraint guarding the
// one-scheduled-appointment-per-clinician-per-instant invariant.
const OverlapConstraint = "appointments_no_overlap"

var (
	ErrRecordNotFound = errors.New("appointment record not found")
	// ErrConflict is the storage engine's atomic rejection of an overlapping write.
	ErrConflict = errors.New("appointment range conflicts with a scheduled appointment")
	// ErrPreconditionFailed means a conditional write matched no row: the
	// appointment changed, started, or was canceled since it was read.
	ErrPreconditionFailed = errors.New("appointment write precondition failed")
)

// ConflictError carries the constraint that rejected a write. errors.Is(err, ErrConflict) holds.
type ConflictError struct {
	Constraint string
	Err        error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("constraint %s rejected write: %v", e.Constraint, ErrConflict)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

type RescheduleParams struct {
	TenantID        uuid.UUID
	ID              uuid.UUID
	StartsAt        time.Time
	EndsAt          time.Time
	ExpectedVersion int
	Now             time.Time
}

// Repository is the storage contract. Every method is scoped to a tenant;
// there is no unscoped read.
//
// Insert and Reschedule must reject overlapping scheduled ranges atomically
// and report it with an error matching ErrConflict. Reschedule and Cancel
// re-check their preconditions inside the write and return
// ErrPreconditionFailed when the row no longer qualifies.
type Repository interface {
	Insert(ctx context.Context, a *Appointment) (*Appointment, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error)

	// Reschedule applies only to a scheduled, not yet started row at ExpectedVersion.
	Reschedule(ctx context.Context, p RescheduleParams) (*Appointment, error)
	// Cancel applies only to a scheduled row that has not started at now.
	Cancel(ctx context.Context, tenantID, id uuid.UUID, now time.Time) (*Appointment, error)

	List(ctx context.Context, tenantID uuid.UUID, f ListFilter, limit, offset int) ([]Appointment, int, error)

	// HasOverlap is an advisory read used to fail fast; it is not the source of truth.
	HasOverlap(ctx context.Context, tenantID, clinicianID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error)
}
