package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinical-scheduling/internal/clock"
)

// MemoryRepository is an in-process storage engine with the same atomic
// guarantees as the Postgres schema: each write checks the overlap rule and
// applies under one engine-wide mutex.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]Appointment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[uuid.UUID]Appointment)}
}

func (r *MemoryRepository) Insert(_ context.Context, a *Appointment) (*Appointment, error) {
	if !clock.ValidRange(a.StartsAt, a.EndsAt) {
		return nil, errors.New("insert appointment: range check violated")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	row := *a
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if _, exists := r.rows[row.ID]; exists {
		return nil, fmt.Errorf("insert appointment: duplicate id %s", row.ID)
	}
	if r.conflictsLocked(row.TenantID, row.ClinicianID, row.StartsAt, row.EndsAt, row.ID) {
		return nil, &ConflictError{Constraint: OverlapConstraint}
	}

	row.Status = StatusScheduled
	row.UpdatedAt = row.CreatedAt
	row.Version = 1
	r.rows[row.ID] = row

	out := row
	return &out, nil
}

func (r *MemoryRepository) Get(_ context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[id]
	if !ok || row.TenantID != tenantID {
		return nil, ErrRecordNotFound
	}
	return &row, nil
}

func (r *MemoryRepository) Reschedule(_ context.Context, p RescheduleParams) (*Appointment, error) {
	if !clock.ValidRange(p.StartsAt, p.EndsAt) {
		return nil, errors.New("reschedule appointment: range check violated")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[p.ID]
	if !ok || row.TenantID != p.TenantID || row.Status != StatusScheduled ||
		row.HasStarted(p.Now) || row.Version != p.ExpectedVersion {
		return nil, ErrPreconditionFailed
	}
	if r.conflictsLocked(row.TenantID, row.ClinicianID, p.StartsAt, p.EndsAt, row.ID) {
		return nil, &ConflictError{Constraint: OverlapConstraint}
	}

	row.StartsAt = p.StartsAt
	row.EndsAt = p.EndsAt
	row.UpdatedAt = p.Now
	row.Version++
	r.rows[row.ID] = row

	return &row, nil
}

func (r *MemoryRepository) Cancel(_ context.Context, tenantID, id uuid.UUID, now time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok || row.TenantID != tenantID || row.Status != StatusScheduled || row.HasStarted(now) {
		return nil, ErrPreconditionFailed
	}

	row.Status = StatusCanceled
	row.UpdatedAt = now
	row.Version++
	r.rows[row.ID] = row

	return &row, nil
}

func (r *MemoryRepository) List(_ context.Context, tenantID uuid.UUID, f ListFilter, limit, offset int) ([]Appointment, int, error) {
	r.mu.RLock()
	var matched []Appointment
	for _, row := range r.rows {
		if row.TenantID == tenantID && matches(row, f) {
			matched = append(matched, row)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].StartsAt.Equal(matched[j].StartsAt) {
			return matched[i].StartsAt.After(matched[j].StartsAt)
		}
		return matched[i].ID.String() > matched[j].ID.String()
	})

	total := len(matched)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []Appointment{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r *MemoryRepository) HasOverlap(_ context.Context, tenantID, clinicianID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conflictsLocked(tenantID, clinicianID, start, end, excludeID), nil
}

func (r *MemoryRepository) conflictsLocked(tenantID, clinicianID uuid.UUID, start, end time.Time, excludeID uuid.UUID) bool {
	for id, row := range r.rows {
		if id == excludeID || row.Status != StatusScheduled {
			continue
		}
		if row.TenantID != tenantID || row.ClinicianID != clinicianID {
			continue
		}
		if clock.Overlaps(row.StartsAt, row.EndsAt, start, end) {
			return true
		}
	}
	return false
}

func matches(a Appointment, f ListFilter) bool {
	if f.PatientID != nil && a.PatientID != *f.PatientID {
		return false
	}
	if f.ClinicianID != nil && a.ClinicianID != *f.ClinicianID {
		return false
	}
	if f.From != nil && a.StartsAt.Before(*f.From) {
		return false
	}
	if f.To != nil && a.StartsAt.After(*f.To) {
		return false
	}
	if f.Status != nil && a.Status != *f.Status {
		return false
	}
	return true
}
