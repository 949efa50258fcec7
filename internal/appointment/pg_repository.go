package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE exclusion_violation.
const pgExclusionViolation = "23P01"

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgRepository relies on the appointments_no_overlap exclusion constraint
// (see migrations) for the overlap invariant.
type PgRepository struct {
	db dbtx
}

func NewPgRepository(db dbtx) *PgRepository {
	if db == nil {
		panic("appointment: pgx pool required")
	}
	return &PgRepository{db: db}
}

const appointmentCols = `id, tenant_id, patient_id, clinician_id, starts_at, ends_at, status,
	location, reason, created_by, created_at, updated_at, version`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string

	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.PatientID,
		&a.ClinicianID,
		&a.StartsAt,
		&a.EndsAt,
		&status,
		&a.Location,
		&a.Reason,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.Version,
	)
	if err != nil {
		return nil, err
	}

	a.Status = Status(status)
	a.StartsAt = a.StartsAt.UTC()
	a.EndsAt = a.EndsAt.UTC()
	return &a, nil
}

// mapWriteError turns the storage engine's exclusion violation into the typed
// conflict signal. Every other error passes through untouched.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
		return &ConflictError{Constraint: pgErr.ConstraintName, Err: err}
	}
	return err
}

// Interface methods

func (r *PgRepository) Insert(ctx context.Context, a *Appointment) (*Appointment, error) {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, tenant_id, patient_id, clinician_id, starts_at, ends_at, status,
			location, reason, created_by, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, 'scheduled', $7, $8, $9, $10, $10, 1)
		RETURNING `+appointmentCols,
		id, a.TenantID, a.PatientID, a.ClinicianID, a.StartsAt, a.EndsAt,
		a.Location, a.Reason, a.CreatedBy, a.CreatedAt)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", mapWriteError(err))
	}
	return created, nil
}

func (r *PgRepository) Get(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)

	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (r *PgRepository) Reschedule(ctx context.Context, p RescheduleParams) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET starts_at = $3,
		    ends_at = $4,
		    updated_at = $5,
		    version = version + 1
		WHERE tenant_id = $1
		  AND id = $2
		  AND status = 'scheduled'
		  AND starts_at > $5
		  AND version = $6
		RETURNING `+appointmentCols,
		p.TenantID, p.ID, p.StartsAt, p.EndsAt, p.Now, p.ExpectedVersion)

	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPreconditionFailed
		}
		return nil, fmt.Errorf("reschedule appointment: %w", mapWriteError(err))
	}
	return a, nil
}

func (r *PgRepository) Cancel(ctx context.Context, tenantID, id uuid.UUID, now time.Time) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'canceled',
		    updated_at = $3,
		    version = version + 1
		WHERE tenant_id = $1
		  AND id = $2
		  AND status = 'scheduled'
		  AND starts_at > $3
		RETURNING `+appointmentCols,
		tenantID, id, now)

	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPreconditionFailed
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}
	return a, nil
}

func (r *PgRepository) List(ctx context.Context, tenantID uuid.UUID, f ListFilter, limit, offset int) ([]Appointment, int, error) {
	where := []string{"tenant_id = $1"}
	args := []any{tenantID}

	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.ClinicianID != nil {
		add("clinician_id = $%d", *f.ClinicianID)
	}
	if f.From != nil {
		add("starts_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("starts_at <= $%d", *f.To)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM appointments WHERE %s ORDER BY starts_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		appointmentCols, cond, len(args)+1, len(args)+2)
	rows, err := r.db.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	items := make([]Appointment, 0, limit)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan appointment: %w", err)
		}
		items = append(items, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}

	return items, total, nil
}

func (r *PgRepository) HasOverlap(ctx context.Context, tenantID, clinicianID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE tenant_id = $1
			  AND clinician_id = $2
			  AND status = 'scheduled'
			  AND starts_at < $4
			  AND ends_at > $3
			  AND id <> $5
		)
	`, tenantID, clinicianID, start, end, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check overlap: %w", err)
	}
	return exists, nil
}
