package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hackgods/clinical-scheduling/internal/audit"
	"github.com/hackgods/clinical-scheduling/internal/clock"
	"github.com/hackgods/clinical-scheduling/internal/config"
	"github.com/hackgods/clinical-scheduling/internal/observability/metrics"
)

const (
	OpCreate     = "create"
	OpReschedule = "reschedule"
	OpCancel     = "cancel"
	OpList       = "list"
	OpGet        = "get"
)

// Bound on re-reads when a conditional write loses a race with another writer.
const maxWriteAttempts = 3

var tracer = otel.Tracer("scheduling.internal.appointment")

// AuditEmitter accepts audit events without blocking or failing the caller.
type AuditEmitter interface {
	Emit(ev audit.Event)
}

// IdempotencyStore remembers which appointment a create idempotency key produced.
type IdempotencyStore interface {
	Lookup(ctx context.Context, tenantID uuid.UUID, key string) (uuid.UUID, bool, error)
	Remember(ctx context.Context, tenantID uuid.UUID, key string, id uuid.UUID) error
}

type Service struct {
	repo     Repository
	audit    AuditEmitter
	idem     IdempotencyStore
	clock    clock.Clock
	logger   zerolog.Logger
	metrics  *metrics.SchedulingMetrics
	precheck bool
}

func NewService(repo Repository, auditor AuditEmitter, cfg config.Config, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		audit:    auditor,
		clock:    clock.System(),
		logger:   logger.With().Str("component", "appointment_service").Logger(),
		precheck: cfg.OverlapPrecheck,
	}
}

func (s *Service) WithClock(c clock.Clock) *Service {
	if c != nil {
		s.clock = c
	}
	return s
}

func (s *Service) WithIdempotency(store IdempotencyStore) *Service {
	s.idem = store
	return s
}

func (s *Service) WithMetrics(m *metrics.SchedulingMetrics) *Service {
	s.metrics = m
	return s
}

// CreateAppointment books a new scheduled appointment. Start times in the past
// are accepted so that visits can be backfilled.
func (s *Service) CreateAppointment(ctx context.Context, tenantID, actorID uuid.UUID, in CreateInput) (id uuid.UUID, err error) {
	ctx, finish := s.begin(ctx, OpCreate, tenantID, uuid.Nil)
	defer func() { finish(err) }()

	if err := validateCreate(tenantID, actorID, in); err != nil {
		return uuid.Nil, err
	}

	if id, ok := s.lookupIdempotent(ctx, tenantID, in.IdempotencyKey); ok {
		return id, nil
	}

	if s.precheck {
		overlap, err := s.repo.HasOverlap(ctx, tenantID, in.ClinicianID, in.StartsAt, in.EndsAt, uuid.Nil)
		if err != nil {
			return uuid.Nil, fmt.Errorf("precheck overlap: %w", err)
		}
		if overlap {
			return uuid.Nil, ErrOverlap
		}
	}

	now := s.clock.Now()
	created, err := s.repo.Insert(ctx, &Appointment{
		ID:          uuid.New(),
		TenantID:    tenantID,
		PatientID:   in.PatientID,
		ClinicianID: in.ClinicianID,
		StartsAt:    in.StartsAt.UTC(),
		EndsAt:      in.EndsAt.UTC(),
		Status:      StatusScheduled,
		Location:    in.Location,
		Reason:      in.Reason,
		CreatedBy:   actorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			// A keyed duplicate whose original was remembered in the meantime.
			// Duplicates racing ahead of Remember still get ErrOverlap.
			if id, ok := s.lookupIdempotent(ctx, tenantID, in.IdempotencyKey); ok {
				return id, nil
			}
			return uuid.Nil, ErrOverlap
		}
		return uuid.Nil, fmt.Errorf("insert appointment: %w", err)
	}

	s.rememberIdempotent(ctx, tenantID, in.IdempotencyKey, created.ID)

	s.emit(audit.Event{
		TenantID:   tenantID,
		ActorID:    actorID,
		Action:     audit.ActionCreate,
		SubjectID:  created.ID,
		OccurredAt: now,
		Meta:       snapshot(created),
	})

	return created.ID, nil
}

// RescheduleAppointment moves a scheduled appointment that has not started yet.
func (s *Service) RescheduleAppointment(ctx context.Context, tenantID, actorID, id uuid.UUID, newStartsAt, newEndsAt time.Time) (err error) {
	ctx, finish := s.begin(ctx, OpReschedule, tenantID, id)
	defer func() { finish(err) }()

	newStartsAt, newEndsAt = newStartsAt.UTC(), newEndsAt.UTC()

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		current, err := s.load(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if !validRange(newStartsAt, newEndsAt) {
			return ErrInvalidRange
		}
		now := s.clock.Now()
		if current.HasStarted(now) {
			return ErrPastAppointment
		}
		if current.Status == StatusCanceled {
			return ErrNotFound
		}

		if s.precheck {
			overlap, err := s.repo.HasOverlap(ctx, tenantID, current.ClinicianID, newStartsAt, newEndsAt, current.ID)
			if err != nil {
				return fmt.Errorf("precheck overlap: %w", err)
			}
			if overlap {
				return ErrOverlap
			}
		}

		updated, err := s.repo.Reschedule(ctx, RescheduleParams{
			TenantID:        tenantID,
			ID:              id,
			StartsAt:        newStartsAt,
			EndsAt:          newEndsAt,
			ExpectedVersion: current.Version,
			Now:             now,
		})
		switch {
		case err == nil:
			s.emit(audit.Event{
				TenantID:   tenantID,
				ActorID:    actorID,
				Action:     audit.ActionUpdate,
				SubjectID:  id,
				OccurredAt: now,
				Meta: map[string]any{
					"before": rangeMeta(current.StartsAt, current.EndsAt),
					"after":  rangeMeta(updated.StartsAt, updated.EndsAt),
				},
			})
			return nil
		case errors.Is(err, ErrConflict):
			return ErrOverlap
		case errors.Is(err, ErrPreconditionFailed):
			continue
		default:
			return fmt.Errorf("reschedule appointment: %w", err)
		}
	}

	return fmt.Errorf("reschedule appointment: %w", errConcurrentModification)
}

// CancelAppointment moves a scheduled appointment that has not started yet to
// canceled. There is no way back.
func (s *Service) CancelAppointment(ctx context.Context, tenantID, actorID, id uuid.UUID) (err error) {
	ctx, finish := s.begin(ctx, OpCancel, tenantID, id)
	defer func() { finish(err) }()

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		current, err := s.load(ctx, tenantID, id)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if current.HasStarted(now) {
			return ErrPastAppointment
		}
		if current.Status == StatusCanceled {
			return ErrAlreadyCanceled
		}

		canceled, err := s.repo.Cancel(ctx, tenantID, id, now)
		switch {
		case err == nil:
			s.emit(audit.Event{
				TenantID:   tenantID,
				ActorID:    actorID,
				Action:     audit.ActionCancel,
				SubjectID:  id,
				OccurredAt: now,
				Meta: map[string]any{
					"previous_status": string(current.Status),
					"status":          string(canceled.Status),
					"starts_at":       canceled.StartsAt.Format(time.RFC3339Nano),
					"ends_at":         canceled.EndsAt.Format(time.RFC3339Nano),
				},
			})
			return nil
		case errors.Is(err, ErrPreconditionFailed):
			continue
		default:
			return fmt.Errorf("cancel appointment: %w", err)
		}
	}

	return fmt.Errorf("cancel appointment: %w", errConcurrentModification)
}

// ListAppointments returns one page of a tenant's appointments, newest start first.
func (s *Service) ListAppointments(ctx context.Context, tenantID uuid.UUID, f ListFilter, page Page) (res ListResult, err error) {
	ctx, finish := s.begin(ctx, OpList, tenantID, uuid.Nil)
	defer func() { finish(err) }()

	if tenantID == uuid.Nil {
		return ListResult{}, fmt.Errorf("%w: tenant is required", ErrInvalidInput)
	}

	page = page.Normalize()
	items, total, err := s.repo.List(ctx, tenantID, f, page.Size, page.Offset())
	if err != nil {
		return ListResult{}, fmt.Errorf("list appointments: %w", err)
	}

	return ListResult{
		Items:    items,
		Total:    total,
		Page:     page.Number,
		PageSize: page.Size,
	}, nil
}

// GetAppointment reads one appointment of the tenant, canceled ones included.
func (s *Service) GetAppointment(ctx context.Context, tenantID, id uuid.UUID) (a *Appointment, err error) {
	ctx, finish := s.begin(ctx, OpGet, tenantID, id)
	defer func() { finish(err) }()

	return s.load(ctx, tenantID, id)
}

func (s *Service) load(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	return a, nil
}

func (s *Service) begin(ctx context.Context, op string, tenantID, id uuid.UUID) (context.Context, func(error)) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "appointment."+op)
	span.SetAttributes(
		attribute.String("scheduling.tenant_id", tenantID.String()),
		attribute.String("scheduling.operation", op),
	)
	if id != uuid.Nil {
		span.SetAttributes(attribute.String("scheduling.appointment_id", id.String()))
	}

	return ctx, func(err error) {
		defer span.End()

		kind := Kind(err)
		span.SetAttributes(attribute.String("scheduling.outcome", kind))
		s.metrics.ObserveOperation(op, kind, time.Since(started))

		if kind == KindInternal || kind == KindUnknownOutcome {
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)

			evt := s.logger.Error()
			if kind == KindUnknownOutcome {
				evt = s.logger.Warn()
			}
			evt.Err(err).
				Str("operation", op).
				Str("tenant_id", tenantID.String()).
				Str("appointment_id", id.String()).
				Str("outcome", kind).
				Msg("appointment operation failed")
		}
	}
}

func (s *Service) emit(ev audit.Event) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ev)
}

func (s *Service) lookupIdempotent(ctx context.Context, tenantID uuid.UUID, key string) (uuid.UUID, bool) {
	if s.idem == nil || key == "" {
		return uuid.Nil, false
	}
	id, ok, err := s.idem.Lookup(ctx, tenantID, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("tenant_id", tenantID.String()).Msg("idempotency lookup failed")
		return uuid.Nil, false
	}
	return id, ok
}

func (s *Service) rememberIdempotent(ctx context.Context, tenantID uuid.UUID, key string, id uuid.UUID) {
	if s.idem == nil || key == "" {
		return
	}
	if err := s.idem.Remember(ctx, tenantID, key, id); err != nil {
		s.logger.Warn().Err(err).
			Str("tenant_id", tenantID.String()).
			Str("appointment_id", id.String()).
			Msg("idempotency remember failed")
	}
}

func validateCreate(tenantID, actorID uuid.UUID, in CreateInput) error {
	switch {
	case tenantID == uuid.Nil:
		return fmt.Errorf("%w: tenant is required", ErrInvalidInput)
	case actorID == uuid.Nil:
		return fmt.Errorf("%w: actor is required", ErrInvalidInput)
	case in.PatientID == uuid.Nil:
		return fmt.Errorf("%w: patient_id is required", ErrInvalidInput)
	case in.ClinicianID == uuid.Nil:
		return fmt.Errorf("%w: clinician_id is required", ErrInvalidInput)
	case !validRange(in.StartsAt, in.EndsAt):
		return ErrInvalidRange
	}
	return nil
}

func validRange(start, end time.Time) bool {
	return !start.IsZero() && !end.IsZero() && clock.ValidRange(start, end)
}

func rangeMeta(start, end time.Time) map[string]any {
	return map[string]any{
		"starts_at": start.Format(time.RFC3339Nano),
		"ends_at":   end.Format(time.RFC3339Nano),
	}
}

func snapshot(a *Appointment) map[string]any {
	meta := map[string]any{
		"patient_id":   a.PatientID.String(),
		"clinician_id": a.ClinicianID.String(),
		"starts_at":    a.StartsAt.Format(time.RFC3339Nano),
		"ends_at":      a.EndsAt.Format(time.RFC3339Nano),
		"status":       string(a.Status),
	}
	if a.Location != nil {
		meta["location"] = *a.Location
	}
	if a.Reason != nil {
		meta["reason"] = *a.Reason
	}
	return meta
}
