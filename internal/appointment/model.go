package appointment

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

type ConsultationType string

const (
	ConsultationGeneral    ConsultationType = "general"
	ConsultationFollowUp   ConsultationType = "follow_up"
	ConsultationEmergency  ConsultationType = "emergency"
	ConsultationRoutine    ConsultationType = "routine_checkup"
	ConsultationSpecialist ConsultationType = "specialist"
)

func (c ConsultationType) Valid() bool {
	switch c {
	case ConsultationGeneral, ConsultationFollowUp, ConsultationEmergency, ConsultationRoutine, ConsultationSpecialist:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor || r == RoleAdmin
}

// Actor is whoever requested an operation.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

type Appointment struct {
	ID               uuid.UUID        `json:"id"`
	PatientID        uuid.UUID        `json:"patient_id"`
	DoctorID         uuid.UUID        `json:"doctor_id"`
	SlotID           uuid.UUID        `json:"slot_id"`
	Date             calendar.Date    `json:"date"`
	Start            calendar.Clock   `json:"start_time"`
	End              calendar.Clock   `json:"end_time"`
	ConsultationType ConsultationType `json:"consultation_type"`
	Status           Status           `json:"status"`
	Priority         Priority         `json:"priority"`
	ReasonForVisit   string           `json:"reason_for_visit"`
	Symptoms         string           `json:"symptoms,omitempty"`
	ContactPhone     string           `json:"contact_phone,omitempty"`
	PatientNotes     string           `json:"patient_notes,omitempty"`
	DoctorNotes      string           `json:"doctor_notes,omitempty"`
	CreatedBy        uuid.UUID        `json:"created_by"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// StartsAt is the instant of the booked slot in the clinic's location.
func (a Appointment) StartsAt(loc *time.Location) time.Time {
	return a.Date.At(a.Start, loc)
}

// IsParticipant reports whether the actor is the patient or the doctor.
func (a Appointment) IsParticipant(actor Actor) bool {
	return actor.ID == a.PatientID || actor.ID == a.DoctorID
}

// Details is the free-form part of a booking.
type Details struct {
	ConsultationType ConsultationType `json:"consultation_type"`
	Priority         Priority         `json:"priority"`
	ReasonForVisit   string           `json:"reason_for_visit"`
	Symptoms         string           `json:"symptoms"`
	ContactPhone     string           `json:"contact_phone"`
	PatientNotes     string           `json:"patient_notes"`
}

var phonePattern = regexp.MustCompile(`^\+?1?\d{9,15}$`)

func (d *Details) Normalize() {
	d.ReasonForVisit = strings.TrimSpace(d.ReasonForVisit)
	d.ContactPhone = strings.TrimSpace(d.ContactPhone)
	if d.ConsultationType == "" {
		d.ConsultationType = ConsultationGeneral
	}
	if d.Priority == "" {
		d.Priority = PriorityMedium
	}
}

func (d Details) Validate() *apperr.ValidationError {
	v := &apperr.ValidationError{}
	if !d.ConsultationType.Valid() {
		v.Add("consultation_type", "unknown consultation type %q", d.ConsultationType)
	}
	if !d.Priority.Valid() {
		v.Add("priority", "unknown priority %q", d.Priority)
	}
	if d.ReasonForVisit == "" {
		v.Add("reason_for_visit", "is required")
	}
	if d.ContactPhone != "" && !phonePattern.MatchString(d.ContactPhone) {
		v.Add("contact_phone", "must be 9 to 15 digits with an optional leading +")
	}
	return v
}

// ListFilter selects appointments. Nil ids, zero dates and an empty
// Statuses do not restrict.
type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	// Statuses matches any of the listed statuses.
	Statuses []Status
	// From and To bound the slot date, both inclusive.
	From calendar.Date
	To   calendar.Date
	// Ascending orders earliest slot first instead of most recent first.
	Ascending bool
	Limit     int
	Offset    int
}

// StartTimeCount is how many appointments start at a time of day.
type StartTimeCount struct {
	Start calendar.Clock `json:"start_time"`
	Count int            `json:"count"`
}

// Stats summarises the appointments visible to an actor.
type Stats struct {
	Total     int `json:"total"`
	Scheduled int `json:"scheduled"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
	Today     int `json:"today"`
	// Upcoming counts scheduled or confirmed appointments from today on.
	Upcoming  int `json:"upcoming"`
	ThisMonth int `json:"this_month"`
	LastMonth int `json:"last_month"`
	// PopularStartTimes is only filled for doctors and admins.
	PopularStartTimes []StartTimeCount `json:"popular_start_times,omitempty"`
}
