package api

import (
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/availability"
)

type WeeklyScheduleRequest struct {
	Rules []availability.WeeklyRule `json:"rules"`
}

type WeeklyScheduleResponse struct {
	DoctorID uuid.UUID                 `json:"doctor_id"`
	Rules    []availability.WeeklyRule `json:"rules"`
}

type SlotsResponse struct {
	DoctorID uuid.UUID                `json:"doctor_id"`
	Slots    []availability.Candidate `json:"slots"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type CompleteRequest struct {
	DoctorNotes string `json:"doctor_notes"`
}

type StatusRequest struct {
	Status appointment.Status `json:"status"`
	Note   string             `json:"note"`
}

type BulkStatusRequest struct {
	AppointmentIDs []uuid.UUID        `json:"appointment_ids"`
	Status         appointment.Status `json:"status"`
	Note           string             `json:"note"`
}

type BulkStatusItem struct {
	ID          uuid.UUID                `json:"id"`
	Appointment *appointment.Appointment `json:"appointment,omitempty"`
	Error       *ErrorResponse           `json:"error,omitempty"`
}

type BulkStatusResponse struct {
	Updated int              `json:"updated"`
	Failed  int              `json:"failed"`
	Results []BulkStatusItem `json:"results"`
}

type AppointmentsResponse struct {
	Appointments []appointment.Appointment `json:"appointments"`
}

type HistoryResponse struct {
	AppointmentID uuid.UUID                  `json:"appointment_id"`
	Entries       []appointment.HistoryEntry `json:"entries"`
}

type ErrorResponse struct {
	Error   string              `json:"error"`
	Details string              `json:"details,omitempty"`
	Fields  []apperr.FieldError `json:"fields,omitempty"`
}
