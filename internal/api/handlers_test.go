package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinical-scheduling/internal/appointment"
	"github.com/hackgods/clinical-scheduling/internal/audit"
	"github.com/hackgods/clinical-scheduling/internal/clock"
	"github.com/hackgods/clinical-scheduling/internal/config"
	"github.com/hackgods/clinical-scheduling/internal/observability/metrics"
	"github.com/hackgods/clinical-scheduling/internal/tenancy"
)

var now = time.Date(2025, 5, 5, 8, 0, 0, 0, time.UTC)

type discardAudit struct{}

func (discardAudit) Emit(audit.Event) {}

type testServer struct {
	handler http.Handler
	clock   *clock.Mock
	tenant  uuid.UUID
	actor   uuid.UUID
}

func newTestServer(t *testing.T, rps float64) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	clk := clock.NewMock(now)
	svc := appointment.NewService(appointment.NewMemoryRepository(), discardAudit{}, config.Config{}, zerolog.Nop()).
		WithClock(clk).
		WithMetrics(metrics.NewSchedulingMetrics(reg))

	return &testServer{
		handler: NewRouter(RouterConfig{
			Service:        svc,
			Gatherer:       reg,
			Logger:         zerolog.Nop(),
			Env:            "test",
			Version:        "test",
			RequestTimeout: time.Second,
			RateLimitRPS:   rps,
			RateLimitBurst: 2,
		}),
		clock:  clk,
		tenant: uuid.New(),
		actor:  uuid.New(),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tenancy.TenantHeader, s.tenant.String())
	req.Header.Set(tenancy.ActorHeader, s.actor.String())
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func createBody(clinician uuid.UUID, start time.Time, d time.Duration) map[string]any {
	return map[string]any{
		"patient_id":   uuid.New().String(),
		"clinician_id": clinician.String(),
		"starts_at":    start.Format(time.RFC3339),
		"ends_at":      start.Add(d).Format(time.RFC3339),
		"location":     "Room 1",
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (s *testServer) createOK(t *testing.T, clinician uuid.UUID, start time.Time) uuid.UUID {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/appointments", createBody(clinician, start, time.Hour))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp CreateAppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ID
}

func TestAppointmentLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, 0)
	clinician := uuid.New()
	start := now.Add(24 * time.Hour)

	id := s.createOK(t, clinician, start)

	rec := s.do(t, http.MethodGet, "/v1/appointments/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "scheduled", got.Status)
	assert.Equal(t, s.actor, got.CreatedBy)

	rec = s.do(t, http.MethodPost, "/v1/appointments/"+id.String()+"/reschedule", map[string]any{
		"starts_at": start.Add(2 * time.Hour).Format(time.RFC3339),
		"ends_at":   start.Add(3 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/v1/appointments/"+id.String()+"/cancel", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/appointments/"+id.String()+"/cancel", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, appointment.KindAlreadyCanceled, decodeError(t, rec).Error)

	rec = s.do(t, http.MethodGet, "/v1/appointments?status=canceled&clinician_id="+clinician.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListAppointmentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Items, 1)
	assert.Equal(t, id, list.Items[0].ID)
}

func TestCreateAppointmentErrorsOverHTTP(t *testing.T) {
	s := newTestServer(t, 0)
	clinician := uuid.New()
	start := now.Add(time.Hour)
	s.createOK(t, clinician, start)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"overlap", createBody(clinician, start.Add(30*time.Minute), time.Hour), http.StatusConflict, appointment.KindOverlap},
		{"equal instants", createBody(uuid.New(), start, 0), http.StatusBadRequest, appointment.KindInvalidRange},
		{"bad patient id", map[string]any{"patient_id": "nope", "clinician_id": clinician.String()}, http.StatusBadRequest, appointment.KindInvalidInput},
		{"unknown field", map[string]any{"slot_id": uuid.NewString()}, http.StatusBadRequest, appointment.KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/v1/appointments", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}
}

func TestIdempotencyKeyHeaderIsPassedThrough(t *testing.T) {
	s := newTestServer(t, 0)
	rec := s.do(t, http.MethodPost, "/v1/appointments", createBody(uuid.New(), now.Add(time.Hour), time.Hour),
		IdempotencyKeyHeader, "abc")
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestPastAppointmentOverHTTP(t *testing.T) {
	s := newTestServer(t, 0)
	start := now.Add(time.Hour)
	id := s.createOK(t, uuid.New(), start)

	s.clock.Set(start)

	rec := s.do(t, http.MethodPost, "/v1/appointments/"+id.String()+"/cancel", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, appointment.KindPastAppointment, decodeError(t, rec).Error)
}

func TestTenantIsolationOverHTTP(t *testing.T) {
	s := newTestServer(t, 0)
	id := s.createOK(t, uuid.New(), now.Add(time.Hour))

	other := *s
	other.tenant = uuid.New()

	rec := other.do(t, http.MethodGet, "/v1/appointments/"+id.String(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	unknown := s.do(t, http.MethodGet, "/v1/appointments/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, unknown.Code)
	assert.Equal(t, rec.Body.String(), unknown.Body.String())

	malformed := s.do(t, http.MethodGet, "/v1/appointments/not-a-uuid", nil)
	require.Equal(t, http.StatusNotFound, malformed.Code)
}

func TestMissingIdentityIsUnauthorized(t *testing.T) {
	s := newTestServer(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/v1/appointments", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/appointments", nil)
	req.Header.Set(tenancy.TenantHeader, uuid.NewString())
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, decodeError(t, rec).Details, "actor")
}

func TestListQueryValidation(t *testing.T) {
	s := newTestServer(t, 0)

	for _, q := range []string{"from=yesterday", "status=pending", "page=0", "patient_id=42", "page=4611686018427387904", "page=99999999999999999999"} {
		rec := s.do(t, http.MethodGet, "/v1/appointments?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestRateLimitPerTenant(t *testing.T) {
	s := newTestServer(t, 0.001)

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodGet, "/v1/appointments", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := s.do(t, http.MethodGet, "/v1/appointments", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	other := *s
	other.tenant = uuid.New()
	rec = other.do(t, http.MethodGet, "/v1/appointments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, 0)
	s.createOK(t, uuid.New(), now.Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `scheduling_appointments_operations_total{operation="create",outcome="ok"} 1`)
}
