package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinical-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	PatientID   string    `json:"patient_id" validate:"required,uuid"`
	ClinicianID string    `json:"clinician_id" validate:"required,uuid"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Location    *string   `json:"location,omitempty" validate:"omitempty,max=200"`
	Reason      *string   `json:"reason,omitempty" validate:"omitempty,max=2000"`
}

type RescheduleAppointmentRequest struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type CreateAppointmentResponse struct {
	ID uuid.UUID `json:"id"`
}

type AppointmentResponse struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patient_id"`
	ClinicianID uuid.UUID `json:"clinician_id"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Status      string    `json:"status"`
	Location    *string   `json:"location,omitempty"`
	Reason      *string   `json:"reason,omitempty"`
	CreatedBy   uuid.UUID `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ListAppointmentsResponse struct {
	Items    []AppointmentResponse `json:"items"`
	Total    int                   `json:"total"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		PatientID:   a.PatientID,
		ClinicianID: a.ClinicianID,
		StartsAt:    a.StartsAt,
		EndsAt:      a.EndsAt,
		Status:      string(a.Status),
		Location:    a.Location,
		Reason:      a.Reason,
		CreatedBy:   a.CreatedBy,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}
