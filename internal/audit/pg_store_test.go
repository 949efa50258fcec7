package audit

import (
	"context"
	"errors"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgStoreAppend(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPgStore(mock)
	ev := sampleEvent()

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(pgxmock.AnyArg(), ev.TenantID, ev.ActorID, "create", ev.SubjectID, ev.OccurredAt, []byte(`{"status":"scheduled"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Append(context.Background(), ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreAppendWrapsErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPgStore(mock)

	mock.ExpectExec("INSERT INTO audit_events").WillReturnError(errors.New("disk full"))

	err = store.Append(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit: insert event")
	require.NoError(t, mock.ExpectationsWereMet())
}
