package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rowColumns = []string{
	"id", "tenant_id", "patient_id", "clinician_id", "starts_at", "ends_at", "status",
	"location", "reason", "created_by", "created_at", "updated_at", "version",
}

func strPtr(s string) *string { return &s }

func sampleAppointment() *Appointment {
	start := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	return &Appointment{
		ID:          uuid.New(),
		TenantID:    uuid.New(),
		PatientID:   uuid.New(),
		ClinicianID: uuid.New(),
		StartsAt:    start,
		EndsAt:      start.Add(30 * time.Minute),
		Status:      StatusScheduled,
		Location:    strPtr("Room 2"),
		Reason:      strPtr("follow-up"),
		CreatedBy:   uuid.New(),
		CreatedAt:   start.Add(-24 * time.Hour),
		UpdatedAt:   start.Add(-24 * time.Hour),
		Version:     1,
	}
}

func addRow(rows *pgxmock.Rows, a *Appointment) *pgxmock.Rows {
	return rows.AddRow(a.ID, a.TenantID, a.PatientID, a.ClinicianID, a.StartsAt, a.EndsAt, string(a.Status),
		a.Location, a.Reason, a.CreatedBy, a.CreatedAt, a.UpdatedAt, a.Version)
}

func newMockRepo(t *testing.T) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgRepository(mock), mock
}

func TestPgRepositoryInsert(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment()

	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(a.ID, a.TenantID, a.PatientID, a.ClinicianID, a.StartsAt, a.EndsAt,
			a.Location, a.Reason, a.CreatedBy, a.CreatedAt).
		WillReturnRows(addRow(mock.NewRows(rowColumns), a))

	got, err := repo.Insert(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, StatusScheduled, got.Status)
	assert.Equal(t, "Room 2", *got.Location)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryInsertMapsExclusionViolation(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("INSERT INTO appointments").
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: OverlapConstraint})

	_, err := repo.Insert(context.Background(), sampleAppointment())
	require.ErrorIs(t, err, ErrConflict)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, OverlapConstraint, conflict.Constraint)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryInsertPassesOtherErrors(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("INSERT INTO appointments").
		WillReturnError(&pgconn.PgError{Code: "23514", ConstraintName: "appointments_valid_range"})

	_, err := repo.Insert(context.Background(), sampleAppointment())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrConflict))
}

func TestPgRepositoryGet(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment()

	mock.ExpectQuery("SELECT (.+) FROM appointments").
		WithArgs(a.TenantID, a.ID).
		WillReturnRows(addRow(mock.NewRows(rowColumns), a))

	got, err := repo.Get(context.Background(), a.TenantID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ClinicianID, got.ClinicianID)
	assert.True(t, got.StartsAt.Equal(a.StartsAt))

	mock.ExpectQuery("SELECT (.+) FROM appointments").
		WithArgs(a.TenantID, a.ID).
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.Get(context.Background(), a.TenantID, a.ID)
	require.ErrorIs(t, err, ErrRecordNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryReschedule(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment()
	now := a.StartsAt.Add(-2 * time.Hour)
	p := RescheduleParams{
		TenantID:        a.TenantID,
		ID:              a.ID,
		StartsAt:        a.StartsAt.Add(time.Hour),
		EndsAt:          a.EndsAt.Add(time.Hour),
		ExpectedVersion: 1,
		Now:             now,
	}

	moved := *a
	moved.StartsAt, moved.EndsAt, moved.Version = p.StartsAt, p.EndsAt, 2

	mock.ExpectQuery("UPDATE appointments").
		WithArgs(p.TenantID, p.ID, p.StartsAt, p.EndsAt, p.Now, p.ExpectedVersion).
		WillReturnRows(addRow(mock.NewRows(rowColumns), &moved))

	got, err := repo.Reschedule(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)

	t.Run("no matching row", func(t *testing.T) {
		mock.ExpectQuery("UPDATE appointments").
			WithArgs(p.TenantID, p.ID, p.StartsAt, p.EndsAt, p.Now, p.ExpectedVersion).
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.Reschedule(context.Background(), p)
		require.ErrorIs(t, err, ErrPreconditionFailed)
	})

	t.Run("exclusion violation", func(t *testing.T) {
		mock.ExpectQuery("UPDATE appointments").
			WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: OverlapConstraint})

		_, err := repo.Reschedule(context.Background(), p)
		require.ErrorIs(t, err, ErrConflict)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryCancel(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment()
	now := a.StartsAt.Add(-time.Hour)

	canceled := *a
	canceled.Status, canceled.Version = StatusCanceled, 2

	mock.ExpectQuery("UPDATE appointments").
		WithArgs(a.TenantID, a.ID, now).
		WillReturnRows(addRow(mock.NewRows(rowColumns), &canceled))

	got, err := repo.Cancel(context.Background(), a.TenantID, a.ID, now)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, got.Status)

	mock.ExpectQuery("UPDATE appointments").
		WithArgs(a.TenantID, a.ID, now).
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.Cancel(context.Background(), a.TenantID, a.ID, now)
	require.ErrorIs(t, err, ErrPreconditionFailed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryList(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := sampleAppointment()
	b := sampleAppointment()
	b.TenantID = a.TenantID
	b.StartsAt = a.StartsAt.Add(-time.Hour)

	from := a.StartsAt.Add(-24 * time.Hour)
	status := StatusScheduled
	f := ListFilter{ClinicianID: &a.ClinicianID, From: &from, Status: &status}

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM appointments WHERE tenant_id = \$1 AND clinician_id = \$2 AND starts_at >= \$3 AND status = \$4`).
		WithArgs(a.TenantID, a.ClinicianID, from, "scheduled").
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(7))

	rows := mock.NewRows(rowColumns)
	addRow(rows, a)
	addRow(rows, b)
	mock.ExpectQuery(`ORDER BY starts_at DESC, id DESC LIMIT \$5 OFFSET \$6`).
		WithArgs(a.TenantID, a.ClinicianID, from, "scheduled", 2, 4).
		WillReturnRows(rows)

	items, total, err := repo.List(context.Background(), a.TenantID, f, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, items, 2)
	assert.Equal(t, a.ID, items[0].ID)
	assert.Equal(t, b.ID, items[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryHasOverlap(t *testing.T) {
	repo, mock := newMockRepo(t)
	tenant, clinician, exclude := uuid.New(), uuid.New(), uuid.New()
	start := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(tenant, clinician, start, end, exclude).
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(true))

	overlap, err := repo.HasOverlap(context.Background(), tenant, clinician, start, end, exclude)
	require.NoError(t, err)
	assert.True(t, overlap)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPgRepositoryPanicsWithoutPool(t *testing.T) {
	assert.Panics(t, func() { NewPgRepository(nil) })
}
