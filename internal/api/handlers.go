package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hackgods/clinical-scheduling/internal/appointment"
	"github.com/hackgods/clinical-scheduling/internal/tenancy"
)

const IdempotencyKeyHeader = "Idempotency-Key"

var validate = validator.New()

func createAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := tenancy.ActorFromContext(r.Context())

		var req CreateAppointmentRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, appointment.KindInvalidInput, err.Error())
			return
		}

		id, err := svc.CreateAppointment(r.Context(), actor.TenantID, actor.ActorID, appointment.CreateInput{
			PatientID:      uuid.MustParse(req.PatientID),
			ClinicianID:    uuid.MustParse(req.ClinicianID),
			StartsAt:       req.StartsAt,
			EndsAt:         req.EndsAt,
			Location:       req.Location,
			Reason:         req.Reason,
			IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)),
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, CreateAppointmentResponse{ID: id})
	}
}

func rescheduleAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := tenancy.ActorFromContext(r.Context())

		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var req RescheduleAppointmentRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, appointment.KindInvalidInput, err.Error())
			return
		}

		if err := svc.RescheduleAppointment(r.Context(), actor.TenantID, actor.ActorID, id, req.StartsAt, req.EndsAt); err != nil {
			handleServiceError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func cancelAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := tenancy.ActorFromContext(r.Context())

		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		if err := svc.CancelAppointment(r.Context(), actor.TenantID, actor.ActorID, id); err != nil {
			handleServiceError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := tenancy.ActorFromContext(r.Context())

		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), actor.TenantID, id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := tenancy.ActorFromContext(r.Context())

		filter, page, err := parseListQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, appointment.KindInvalidInput, err.Error())
			return
		}

		res, err := svc.ListAppointments(r.Context(), actor.TenantID, filter, page)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		items := make([]AppointmentResponse, 0, len(res.Items))
		for i := range res.Items {
			items = append(items, toAppointmentResponse(&res.Items[i]))
		}

		writeJSON(w, http.StatusOK, ListAppointmentsResponse{
			Items:    items,
			Total:    res.Total,
			Page:     res.Page,
			PageSize: res.PageSize,
		})
	}
}

func handleServiceError(w http.ResponseWriter, err error) {
	kind := appointment.Kind(err)
	msg := appointment.PublicMessage(err)

	switch kind {
	case appointment.KindInvalidInput, appointment.KindInvalidRange:
		writeError(w, http.StatusBadRequest, kind, msg)
	case appointment.KindOverlap, appointment.KindAlreadyCanceled:
		writeError(w, http.StatusConflict, kind, msg)
	case appointment.KindPastAppointment:
		writeError(w, http.StatusUnprocessableEntity, kind, msg)
	case appointment.KindNotFound:
		writeError(w, http.StatusNotFound, kind, msg)
	case appointment.KindUnknownOutcome:
		writeError(w, http.StatusGatewayTimeout, kind, msg)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", msg)
	}
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		// Malformed ids are indistinguishable from unknown ones.
		writeError(w, http.StatusNotFound, appointment.KindNotFound, appointment.PublicMessage(appointment.ErrNotFound))
		return uuid.Nil, false
	}
	return id, true
}

func decodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("could not parse JSON body")
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", jsonName(fe), fe.Tag()))
			}
			return errors.New(strings.Join(fields, "; "))
		}
		return err
	}
	return nil
}

func jsonName(fe validator.FieldError) string {
	switch fe.Field() {
	case "PatientID":
		return "patient_id"
	case "ClinicianID":
		return "clinician_id"
	default:
		return strings.ToLower(fe.Field())
	}
}

func parseListQuery(r *http.Request) (appointment.ListFilter, appointment.Page, error) {
	q := r.URL.Query()
	var f appointment.ListFilter

	parseID := func(name string) (*uuid.UUID, error) {
		raw := q.Get(name)
		if raw == "" {
			return nil, nil
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%s must be a valid UUID", name)
		}
		return &id, nil
	}
	parseTime := func(name string) (*time.Time, error) {
		raw := q.Get(name)
		if raw == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
		}
		return &t, nil
	}
	parseInt := func(name string) (int, error) {
		raw := q.Get(name)
		if raw == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return 0, fmt.Errorf("%s must be a positive integer", name)
		}
		return n, nil
	}

	var err error
	if f.PatientID, err = parseID("patient_id"); err != nil {
		return f, appointment.Page{}, err
	}
	if f.ClinicianID, err = parseID("clinician_id"); err != nil {
		return f, appointment.Page{}, err
	}
	if f.From, err = parseTime("from"); err != nil {
		return f, appointment.Page{}, err
	}
	if f.To, err = parseTime("to"); err != nil {
		return f, appointment.Page{}, err
	}
	if raw := q.Get("status"); raw != "" {
		status := appointment.Status(raw)
		if !status.Valid() {
			return f, appointment.Page{}, fmt.Errorf("status must be scheduled or canceled")
		}
		f.Status = &status
	}

	var page appointment.Page
	if page.Number, err = parseInt("page"); err != nil {
		return f, page, err
	}
	if page.Size, err = parseInt("page_size"); err != nil {
		return f, page, err
	}
	if page.Number > page.Normalize().Number {
		return f, page, fmt.Errorf("page is out of range")
	}

	return f, page, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
