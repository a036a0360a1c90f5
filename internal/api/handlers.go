package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

type appointmentHandlers struct {
	svc *appointment.Service
	log *zap.Logger
}

func (h *appointmentHandlers) book(w http.ResponseWriter, r *http.Request) {
	var req appointment.BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	appt, err := h.svc.Book(r.Context(), actorFrom(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (h *appointmentHandlers) upcoming(w http.ResponseWriter, r *http.Request) {
	v := &apperr.ValidationError{}
	limit := optionalInt(v, r.URL.Query().Get("limit"), "limit")
	if err := v.Err(); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	list, err := h.svc.Upcoming(r.Context(), actorFrom(r.Context()), limit)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeAppointments(w, list)
}

func (h *appointmentHandlers) today(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Today(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeAppointments(w, list)
}

func (h *appointmentHandlers) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context(), actorFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeAppointments(w http.ResponseWriter, list []appointment.Appointment) {
	if list == nil {
		list = []appointment.Appointment{}
	}
	writeJSON(w, http.StatusOK, AppointmentsResponse{Appointments: list})
}

func (h *appointmentHandlers) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	v := &apperr.ValidationError{}
	var f appointment.ListFilter

	f.PatientID = optionalUUID(v, q.Get("patient_id"), "patient_id")
	f.DoctorID = optionalUUID(v, q.Get("doctor_id"), "doctor_id")
	if raw := q.Get("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, appointment.Status(strings.TrimSpace(st)))
		}
	}
	switch order := q.Get("order"); order {
	case "", "desc":
	case "asc":
		f.Ascending = true
	default:
		v.Add("order", "must be asc or desc, got %q", order)
	}
	f.Limit = optionalInt(v, q.Get("limit"), "limit")
	f.Offset = optionalInt(v, q.Get("offset"), "offset")
	if err := v.Err(); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	f.From, f.To = from, to

	list, err := h.svc.List(r.Context(), actorFrom(r.Context()), f)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeAppointments(w, list)
}

func (h *appointmentHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentParam(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *appointmentHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentParam(w, r)
	if !ok {
		return
	}

	var req CancelRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	appt, err := h.svc.Cancel(r.Context(), actorFrom(r.Context()), id, req.Reason)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *appointmentHandlers) reschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentParam(w, r)
	if !ok {
		return
	}

	var req appointment.RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	appt, err := h.svc.Reschedule(r.Context(), actorFrom(r.Context()), id, req)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *appointmentHandlers) complete(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentParam(w, r)
	if !ok {
		return
	}

	var req CompleteRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	appt, err := h.svc.Complete(r.Context(), actorFrom(r.Context()), id, req.DoctorNotes)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *appointmentHandlers) status(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentParam(w, r)
	if !ok {
		return
	}

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	appt, err := h.svc.UpdateStatus(r.Context(), actorFrom(r.Context()), id, req.Status, req.Note)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *appointmentHandlers) bulkStatus(w http.ResponseWriter, r *http.Request) {
	var req BulkStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	results, err := h.svc.BulkUpdateStatus(r.Context(), actorFrom(r.Context()), req.AppointmentIDs, req.Status, req.Note)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	resp := BulkStatusResponse{Results: make([]BulkStatusItem, 0, len(results))}
	for _, res := range results {
		item := BulkStatusItem{ID: res.ID, Appointment: res.Appointment}
		if res.Err != nil {
			_, body := classify(res.Err)
			item.Error = &body
			resp.Failed++
		} else {
			resp.Updated++
		}
		resp.Results = append(resp.Results, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *appointmentHandlers) history(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentParam(w, r)
	if !ok {
		return
	}

	entries, err := h.svc.GetAppointmentHistory(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}
	if entries == nil {
		entries = []appointment.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{AppointmentID: id, Entries: entries})
}

func appointmentParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// decodeOptional accepts an empty body for endpoints whose payload is
// entirely optional.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func optionalUUID(v *apperr.ValidationError, raw, field string) *uuid.UUID {
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		v.Add(field, "must be a valid UUID")
		return nil
	}
	return &id
}

func optionalInt(v *apperr.ValidationError, raw, field string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		v.Add(field, "must be a non-negative integer")
		return 0
	}
	return n
}
