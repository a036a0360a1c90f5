package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

type scheduleHandlers struct {
	appointments *appointment.Service
	availability *availability.Service
	log          *zap.Logger
}

func (h *scheduleHandlers) availableSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := doctorParam(w, r)
	if !ok {
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	slots, err := h.appointments.GetAvailableSlots(r.Context(), doctorID, from, to)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, SlotsResponse{DoctorID: doctorID, Slots: slots})
}

func (h *scheduleHandlers) getWeeklySchedule(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := doctorParam(w, r)
	if !ok {
		return
	}

	rules, err := h.availability.WeeklySchedule(r.Context(), doctorID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if rules == nil {
		rules = []availability.WeeklyRule{}
	}
	writeJSON(w, http.StatusOK, WeeklyScheduleResponse{DoctorID: doctorID, Rules: rules})
}

func (h *scheduleHandlers) putWeeklySchedule(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.ownedDoctor(w, r)
	if !ok {
		return
	}

	var req WeeklyScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	rules, err := h.availability.SetWeeklySchedule(r.Context(), doctorID, req.Rules)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, WeeklyScheduleResponse{DoctorID: doctorID, Rules: rules})
}

func (h *scheduleHandlers) initializeWeeklySchedule(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.ownedDoctor(w, r)
	if !ok {
		return
	}

	rules, err := h.availability.InitializeWeeklySchedule(r.Context(), doctorID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, WeeklyScheduleResponse{DoctorID: doctorID, Rules: rules})
}

func (h *scheduleHandlers) listDayOffs(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := doctorParam(w, r)
	if !ok {
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	offs, err := h.availability.DayOffs(r.Context(), doctorID, from, to)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if offs == nil {
		offs = []availability.DayOff{}
	}
	writeJSON(w, http.StatusOK, offs)
}

func (h *scheduleHandlers) putDayOff(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.ownedDoctor(w, r)
	if !ok {
		return
	}
	date, ok := dateParam(w, r)
	if !ok {
		return
	}

	var d availability.DayOff
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	d.DoctorID = doctorID
	d.Date = date

	stored, err := h.availability.SetDayOff(r.Context(), d)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (h *scheduleHandlers) deleteDayOff(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.ownedDoctor(w, r)
	if !ok {
		return
	}
	date, ok := dateParam(w, r)
	if !ok {
		return
	}

	if err := h.availability.RemoveDayOff(r.Context(), doctorID, date); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *scheduleHandlers) listExceptionalSchedules(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := doctorParam(w, r)
	if !ok {
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	list, err := h.availability.ExceptionalSchedules(r.Context(), doctorID, from, to)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if list == nil {
		list = []availability.ExceptionalSchedule{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *scheduleHandlers) putExceptionalSchedule(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.ownedDoctor(w, r)
	if !ok {
		return
	}
	date, ok := dateParam(w, r)
	if !ok {
		return
	}

	var e availability.ExceptionalSchedule
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	e.DoctorID = doctorID
	e.Date = date

	stored, err := h.availability.SetExceptionalSchedule(r.Context(), e)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (h *scheduleHandlers) deleteExceptionalSchedule(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.ownedDoctor(w, r)
	if !ok {
		return
	}
	date, ok := dateParam(w, r)
	if !ok {
		return
	}

	if err := h.availability.RemoveExceptionalSchedule(r.Context(), doctorID, date); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedDoctor resolves the doctor in the path and checks that the caller
// may change that doctor's schedule: the doctor themselves or an admin.
func (h *scheduleHandlers) ownedDoctor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	doctorID, ok := doctorParam(w, r)
	if !ok {
		return uuid.Nil, false
	}

	actor := actorFrom(r.Context())
	if actor.Role == appointment.RoleAdmin || (actor.Role == appointment.RoleDoctor && actor.ID == doctorID) {
		return doctorID, true
	}

	err := fmt.Errorf("%w: only the doctor or an admin may change this schedule", apperr.ErrForbidden)
	writeServiceError(w, r, h.log, err)
	return uuid.Nil, false
}

func doctorParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func dateParam(w http.ResponseWriter, r *http.Request) (calendar.Date, bool) {
	date, err := calendar.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return calendar.Date{}, false
	}
	return date, true
}

// dateRange reads the start and end query parameters. Missing values are
// left zero for the service to report.
func dateRange(r *http.Request) (calendar.Date, calendar.Date, error) {
	v := &apperr.ValidationError{}
	parse := func(field string) calendar.Date {
		raw := r.URL.Query().Get(field)
		if raw == "" {
			return calendar.Date{}
		}
		d, err := calendar.ParseDate(raw)
		if err != nil {
			v.Add(field, "must be YYYY-MM-DD, got %q", raw)
		}
		return d
	}

	from, to := parse("start"), parse("end")
	return from, to, v.Err()
}
