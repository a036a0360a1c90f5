package appointment

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/lock"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBulkSize      = 100
)

// CandidateSource answers which intervals a doctor's rules offer.
type CandidateSource interface {
	Candidates(ctx context.Context, doctorID uuid.UUID, from, to calendar.Date) (iter.Seq[availability.Candidate], error)
	Lookup(ctx context.Context, doctorID uuid.UUID, date calendar.Date, start, end calendar.Clock) (availability.Candidate, bool, error)
}

// Policy holds the tunable business rules.
type Policy struct {
	// CancellationWindow is how long before the start a cancellation must
	// arrive.
	CancellationWindow time.Duration
	// AllowDirectCompletion lets Scheduled and Confirmed appointments be
	// completed without passing through InProgress.
	AllowDirectCompletion bool
	// MaxRangeDays caps the span of an availability query.
	MaxRangeDays int
}

func DefaultPolicy() Policy {
	return Policy{
		CancellationWindow: 24 * time.Hour,
		MaxRangeDays:       92,
	}
}

type Deps struct {
	Repo       Repository
	Candidates CandidateSource
	Locker     lock.Locker
	Logger     *zap.Logger
	Now        func() time.Time
	Location   *time.Location
	Policy     Policy
}

type Service struct {
	repo       Repository
	candidates CandidateSource
	locker     lock.Locker
	log        *zap.Logger
	now        func() time.Time
	loc        *time.Location
	policy     Policy
	alloc      *slot.Allocator
	ledger     *Ledger
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Locker == nil {
		d.Locker = lock.NewLocalLocker()
	}
	if d.Policy.MaxRangeDays <= 0 {
		d.Policy.MaxRangeDays = DefaultPolicy().MaxRangeDays
	}

	return &Service{
		repo:       d.Repo,
		candidates: d.Candidates,
		locker:     d.Locker,
		log:        d.Logger,
		now:        d.Now,
		loc:        d.Location,
		policy:     d.Policy,
		alloc:      slot.NewAllocator(d.Now, d.Location),
		ledger:     NewLedger(d.Now),
	}
}

type BookRequest struct {
	PatientID uuid.UUID      `json:"patient_id"`
	DoctorID  uuid.UUID      `json:"doctor_id"`
	Date      calendar.Date  `json:"date"`
	Start     calendar.Clock `json:"start_time"`
	End       calendar.Clock `json:"end_time"`
	Details
}

type RescheduleRequest struct {
	// DoctorID is optional; when set it must match the appointment's doctor.
	DoctorID uuid.UUID      `json:"doctor_id,omitempty"`
	Date     calendar.Date  `json:"date"`
	Start    calendar.Clock `json:"start_time"`
	End      calendar.Clock `json:"end_time"`
	Note     string         `json:"note,omitempty"`
}

// BulkResult is the outcome for one appointment of a bulk status update.
type BulkResult struct {
	ID          uuid.UUID
	Appointment *Appointment
	Err         error
}

// GetAvailableSlots lists the future candidates of a doctor in [from, to]
// that no held slot overlaps. It writes nothing.
func (s *Service) GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, from, to calendar.Date) ([]availability.Candidate, error) {
	if err := s.validateRange(doctorID, from, to); err != nil {
		return nil, err
	}

	seq, err := s.candidates.Candidates(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("resolve candidates: %w", err)
	}

	held, err := s.repo.ListSlots(ctx, doctorID, from, to, slot.Held)
	if err != nil {
		return nil, fmt.Errorf("list held slots: %w", err)
	}
	heldByDate := make(map[calendar.Date][]calendar.Window, len(held))
	for _, h := range held {
		heldByDate[h.Date] = append(heldByDate[h.Date], h.Window())
	}

	now := s.now()
	out := []availability.Candidate{}
	for c := range seq {
		if !c.Date.At(c.Start, s.loc).After(now) {
			continue
		}
		if overlapsAny(c.Window(), heldByDate[c.Date]) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func overlapsAny(w calendar.Window, others []calendar.Window) bool {
	for _, o := range others {
		if w.Overlaps(o) {
			return true
		}
	}
	return false
}

// Book holds the requested slot and creates a Scheduled appointment on it,
// atomically.
func (s *Service) Book(ctx context.Context, actor Actor, req BookRequest) (*Appointment, error) {
	if actor.Role == RolePatient && actor.ID != req.PatientID {
		return nil, fmt.Errorf("%w: patients can only book for themselves", apperr.ErrForbidden)
	}

	req.Details.Normalize()
	v := req.Details.Validate()
	if req.PatientID == uuid.Nil {
		v.Add("patient_id", "is required")
	}
	if req.DoctorID == uuid.Nil {
		v.Add("doctor_id", "is required")
	}
	if req.PatientID != uuid.Nil && req.PatientID == req.DoctorID {
		v.Add("patient_id", "must differ from doctor_id")
	}
	validateTarget(v, req.Date, req.Start, req.End)
	if err := v.Err(); err != nil {
		return nil, err
	}

	if err := s.checkFuture(req.Date, req.Start); err != nil {
		return nil, err
	}
	if err := s.checkOffered(ctx, req.DoctorID, req.Date, req.Start, req.End); err != nil {
		return nil, err
	}

	key := slot.Key{DoctorID: req.DoctorID, Date: req.Date, Start: req.Start}
	var booked *Appointment

	err := s.withSlotLock(ctx, key, func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			held, err := s.hold(ctx, tx, key, req.End, uuid.Nil)
			if err != nil {
				return err
			}

			appt := &Appointment{
				ID:               uuid.New(),
				PatientID:        req.PatientID,
				DoctorID:         req.DoctorID,
				SlotID:           held.ID,
				Date:             held.Date,
				Start:            held.Start,
				End:              held.End,
				ConsultationType: req.ConsultationType,
				Status:           StatusScheduled,
				Priority:         req.Priority,
				ReasonForVisit:   req.ReasonForVisit,
				Symptoms:         req.Symptoms,
				ContactPhone:     req.ContactPhone,
				PatientNotes:     req.PatientNotes,
				CreatedBy:        actor.ID,
			}
			if err := tx.InsertAppointment(ctx, appt); err != nil {
				return err
			}

			_, err = s.ledger.Record(ctx, tx, appt.ID, actor, Change{
				Type:      ChangeCreated,
				NewStatus: statusPtr(StatusScheduled),
				NewSlotID: uuidPtr(held.ID),
				Note:      fmt.Sprintf("booked %s %s-%s", held.Date, held.Start, held.End),
			})
			if err != nil {
				return err
			}

			booked = appt
			return nil
		})
	})
	if err != nil {
		s.logRejected("book", err, zap.Stringer("slot", key), zap.String("actor_id", actor.ID.String()))
		return nil, err
	}

	s.log.Info("appointment booked",
		zap.String("appointment_id", booked.ID.String()),
		zap.Stringer("slot", key),
		zap.String("actor_id", actor.ID.String()),
	)
	return booked, nil
}

// Cancel frees the slot of an appointment that starts more than the
// cancellation window from now.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Appointment, error) {
	var cancelled *Appointment

	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.LockAppointment(ctx, id)
		if err != nil {
			return err
		}
		if !canManage(actor, appt) {
			return fmt.Errorf("%w: only the patient, the doctor or an admin can cancel", apperr.ErrForbidden)
		}
		if !CanTransition(appt.Status, StatusCancelled, false) {
			return fmt.Errorf("%w: cannot cancel a %s appointment", apperr.ErrInvalidTransition, appt.Status)
		}
		if left := appt.StartsAt(s.loc).Sub(s.now()); left <= s.policy.CancellationWindow {
			return fmt.Errorf("%w: appointment starts in %s, cancellations close %s before",
				apperr.ErrCancellationWindowExpired, left.Truncate(time.Minute), s.policy.CancellationWindow)
		}

		if reason == "" {
			reason = "appointment cancelled"
		}
		if err := s.cancelLocked(ctx, tx, appt, actor, reason); err != nil {
			return err
		}
		cancelled = appt
		return nil
	})
	if err != nil {
		s.logRejected("cancel", err, zap.String("appointment_id", id.String()), zap.String("actor_id", actor.ID.String()))
		return nil, err
	}

	s.log.Info("appointment cancelled",
		zap.String("appointment_id", id.String()),
		zap.String("slot_id", cancelled.SlotID.String()),
		zap.String("actor_id", actor.ID.String()),
	)
	return cancelled, nil
}

func (s *Service) cancelLocked(ctx context.Context, tx Tx, appt *Appointment, actor Actor, note string) error {
	old := appt.Status
	appt.Status = StatusCancelled
	if err := tx.UpdateAppointment(ctx, appt); err != nil {
		return err
	}
	if err := s.alloc.Release(ctx, tx, appt.SlotID); err != nil {
		return err
	}
	_, err := s.ledger.Record(ctx, tx, appt.ID, actor, Change{
		Type:      ChangeCancelled,
		OldStatus: statusPtr(old),
		NewStatus: statusPtr(StatusCancelled),
		OldSlotID: uuidPtr(appt.SlotID),
		Note:      note,
	})
	return err
}

// Reschedule moves an appointment to another slot of the same doctor. If
// the new slot cannot be held the appointment and its old slot are left as
// they were.
func (s *Service) Reschedule(ctx context.Context, actor Actor, id uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	v := &apperr.ValidationError{}
	validateTarget(v, req.Date, req.Start, req.End)
	if err := v.Err(); err != nil {
		return nil, err
	}

	current, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, current) {
		return nil, fmt.Errorf("%w: only the patient, the doctor or an admin can reschedule", apperr.ErrForbidden)
	}
	if req.DoctorID != uuid.Nil && req.DoctorID != current.DoctorID {
		return nil, apperr.Invalid("doctor_id", "a reschedule must stay with doctor %s", current.DoctorID)
	}
	if err := s.checkFuture(req.Date, req.Start); err != nil {
		return nil, err
	}
	if err := s.checkOffered(ctx, current.DoctorID, req.Date, req.Start, req.End); err != nil {
		return nil, err
	}

	key := slot.Key{DoctorID: current.DoctorID, Date: req.Date, Start: req.Start}
	var moved *Appointment

	err = s.withSlotLock(ctx, key, func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			appt, err := tx.LockAppointment(ctx, id)
			if err != nil {
				return err
			}
			if appt.Status != StatusScheduled && appt.Status != StatusConfirmed {
				return fmt.Errorf("%w: cannot reschedule a %s appointment", apperr.ErrInvalidTransition, appt.Status)
			}
			if appt.Date == key.Date && appt.Start == key.Start {
				return apperr.Invalid("start_time", "the appointment already occupies %s %s", key.Date, key.Start)
			}

			held, err := s.hold(ctx, tx, key, req.End, appt.SlotID)
			if err != nil {
				return err
			}
			oldSlot, oldStatus := appt.SlotID, appt.Status
			oldDate, oldStart := appt.Date, appt.Start
			if err := s.alloc.Release(ctx, tx, oldSlot); err != nil {
				return err
			}

			appt.SlotID = held.ID
			appt.Date, appt.Start, appt.End = held.Date, held.Start, held.End
			appt.Status = StatusScheduled
			if err := tx.UpdateAppointment(ctx, appt); err != nil {
				return err
			}

			note := req.Note
			if note == "" {
				note = fmt.Sprintf("rescheduled from %s %s to %s %s", oldDate, oldStart, held.Date, held.Start)
			}
			_, err = s.ledger.Record(ctx, tx, appt.ID, actor, Change{
				Type:      ChangeRescheduled,
				OldStatus: statusPtr(oldStatus),
				NewStatus: statusPtr(StatusScheduled),
				OldSlotID: uuidPtr(oldSlot),
				NewSlotID: uuidPtr(held.ID),
				Note:      note,
			})
			if err != nil {
				return err
			}

			moved = appt
			return nil
		})
	})
	if err != nil {
		s.logRejected("reschedule", err, zap.String("appointment_id", id.String()), zap.Stringer("slot", key))
		return nil, err
	}

	s.log.Info("appointment rescheduled",
		zap.String("appointment_id", id.String()),
		zap.Stringer("slot", key),
		zap.String("actor_id", actor.ID.String()),
	)
	return moved, nil
}

// Complete closes an appointment. Only its doctor may do so.
func (s *Service) Complete(ctx context.Context, actor Actor, id uuid.UUID, notes string) (*Appointment, error) {
	var done *Appointment

	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.LockAppointment(ctx, id)
		if err != nil {
			return err
		}
		if actor.Role != RoleDoctor || actor.ID != appt.DoctorID {
			return fmt.Errorf("%w: only the assigned doctor can complete an appointment", apperr.ErrForbidden)
		}
		if !CanTransition(appt.Status, StatusCompleted, s.policy.AllowDirectCompletion) {
			return fmt.Errorf("%w: cannot complete a %s appointment", apperr.ErrInvalidTransition, appt.Status)
		}

		old := appt.Status
		appt.Status = StatusCompleted
		if notes != "" {
			appt.DoctorNotes = notes
		}
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return err
		}
		_, err = s.ledger.Record(ctx, tx, appt.ID, actor, Change{
			Type:      ChangeCompleted,
			OldStatus: statusPtr(old),
			NewStatus: statusPtr(StatusCompleted),
			Note:      notes,
		})
		if err != nil {
			return err
		}
		done = appt
		return nil
	})
	if err != nil {
		s.logRejected("complete", err, zap.String("appointment_id", id.String()), zap.String("actor_id", actor.ID.String()))
		return nil, err
	}

	s.log.Info("appointment completed", zap.String("appointment_id", id.String()), zap.String("actor_id", actor.ID.String()))
	return done, nil
}

// UpdateStatus is the generic transition entry point. Cancelling through
// it is an administrative action and ignores the cancellation window.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id uuid.UUID, to Status, note string) (*Appointment, error) {
	if !to.Valid() {
		return nil, apperr.Invalid("status", "unknown status %q", to)
	}

	var updated *Appointment
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := s.updateStatusLocked(ctx, tx, actor, id, to, note)
		if err != nil {
			return err
		}
		updated = appt
		return nil
	})
	if err != nil {
		s.logRejected("update status", err, zap.String("appointment_id", id.String()), zap.String("to", string(to)))
		return nil, err
	}

	s.log.Info("appointment status updated",
		zap.String("appointment_id", id.String()),
		zap.String("status", string(to)),
		zap.String("actor_id", actor.ID.String()),
	)
	return updated, nil
}

func (s *Service) updateStatusLocked(ctx context.Context, tx Tx, actor Actor, id uuid.UUID, to Status, note string) (*Appointment, error) {
	appt, err := tx.LockAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canSetStatus(actor, appt, to) {
		return nil, fmt.Errorf("%w: %s %s cannot set status %s", apperr.ErrForbidden, actor.Role, actor.ID, to)
	}
	if !CanTransition(appt.Status, to, s.policy.AllowDirectCompletion) {
		return nil, fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, appt.Status, to)
	}
	if to == StatusScheduled && !appt.StartsAt(s.loc).After(s.now()) {
		return nil, fmt.Errorf("%w: cannot reschedule an appointment whose slot has passed", apperr.ErrPastSlot)
	}

	if to == StatusCancelled {
		if note == "" {
			note = "cancelled by status update"
		}
		if err := s.cancelLocked(ctx, tx, appt, actor, note); err != nil {
			return nil, err
		}
		return appt, nil
	}

	old := appt.Status
	appt.Status = to
	if err := tx.UpdateAppointment(ctx, appt); err != nil {
		return nil, err
	}

	change := ChangeUpdated
	if to == StatusCompleted {
		change = ChangeCompleted
	}
	if note == "" {
		note = fmt.Sprintf("status changed from %s to %s", old, to)
	}
	_, err = s.ledger.Record(ctx, tx, appt.ID, actor, Change{
		Type:      change,
		OldStatus: statusPtr(old),
		NewStatus: statusPtr(to),
		Note:      note,
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// BulkUpdateStatus applies one status to many appointments. Each runs in
// its own transaction and leaves its own history entry; one failure does
// not stop the others.
func (s *Service) BulkUpdateStatus(ctx context.Context, actor Actor, ids []uuid.UUID, to Status, note string) ([]BulkResult, error) {
	if actor.Role != RoleAdmin && actor.Role != RoleDoctor {
		return nil, fmt.Errorf("%w: bulk updates need a doctor or an admin", apperr.ErrForbidden)
	}
	v := &apperr.ValidationError{}
	if len(ids) == 0 || len(ids) > maxBulkSize {
		v.Add("appointment_ids", "between 1 and %d ids are required, got %d", maxBulkSize, len(ids))
	}
	if !to.Valid() {
		v.Add("status", "unknown status %q", to)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool, len(ids))
	results := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		appt, err := s.UpdateStatus(ctx, actor, id, to, note)
		results = append(results, BulkResult{ID: id, Appointment: appt, Err: err})
	}
	return results, nil
}

func (s *Service) GetAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != RoleAdmin && !appt.IsParticipant(actor) {
		return nil, fmt.Errorf("%w: not a participant of appointment %s", apperr.ErrForbidden, id)
	}
	return appt, nil
}

// List returns appointments, most recent slot first unless f asks for
// ascending order. Admins see the whole clinic; everyone else is pinned to
// their own side of their appointments.
func (s *Service) List(ctx context.Context, actor Actor, f ListFilter) ([]Appointment, error) {
	v := &apperr.ValidationError{}
	for _, st := range f.Statuses {
		if !st.Valid() {
			v.Add("status", "unknown status %q", st)
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		v.Add("end", "%s is before start %s", f.To, f.From)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	if err := scopeToActor(actor, &f); err != nil {
		return nil, err
	}

	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	appointments, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appointments, nil
}

// Upcoming returns the scheduled or confirmed appointments from today on,
// earliest first. A non-positive limit picks 5 for patients and 10 for
// everyone else.
func (s *Service) Upcoming(ctx context.Context, actor Actor, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 10
		if actor.Role == RolePatient {
			limit = 5
		}
	}
	return s.List(ctx, actor, ListFilter{
		Statuses:  []Status{StatusScheduled, StatusConfirmed},
		From:      s.today(),
		Ascending: true,
		Limit:     limit,
	})
}

// Today returns every appointment of the current date in start order,
// cancelled ones included.
func (s *Service) Today(ctx context.Context, actor Actor) ([]Appointment, error) {
	today := s.today()
	return s.List(ctx, actor, ListFilter{From: today, To: today, Ascending: true, Limit: maxListLimit})
}

// Stats counts the appointments the actor may list.
func (s *Service) Stats(ctx context.Context, actor Actor) (*Stats, error) {
	var scope ListFilter
	if err := scopeToActor(actor, &scope); err != nil {
		return nil, err
	}

	today := s.today()
	monthStart := calendar.NewDate(today.Year, today.Month, 1)
	nextMonthStart := calendar.NewDate(today.Year, today.Month+1, 1)
	lastMonthStart := calendar.NewDate(today.Year, today.Month-1, 1)

	var st Stats
	for _, q := range []struct {
		dst    *int
		narrow func(*ListFilter)
	}{
		{&st.Total, func(*ListFilter) {}},
		{&st.Scheduled, func(f *ListFilter) { f.Statuses = []Status{StatusScheduled} }},
		{&st.Completed, func(f *ListFilter) { f.Statuses = []Status{StatusCompleted} }},
		{&st.Cancelled, func(f *ListFilter) { f.Statuses = []Status{StatusCancelled} }},
		{&st.Today, func(f *ListFilter) { f.From, f.To = today, today }},
		{&st.Upcoming, func(f *ListFilter) {
			f.From = today
			f.Statuses = []Status{StatusScheduled, StatusConfirmed}
		}},
		{&st.ThisMonth, func(f *ListFilter) { f.From, f.To = monthStart, nextMonthStart.AddDays(-1) }},
		{&st.LastMonth, func(f *ListFilter) { f.From, f.To = lastMonthStart, monthStart.AddDays(-1) }},
	} {
		f := scope
		q.narrow(&f)
		n, err := s.repo.CountAppointments(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("count appointments: %w", err)
		}
		*q.dst = n
	}

	if actor.Role != RolePatient {
		popular, err := s.repo.PopularStartTimes(ctx, scope, 5)
		if err != nil {
			return nil, fmt.Errorf("popular start times: %w", err)
		}
		st.PopularStartTimes = popular
	}
	return &st, nil
}

// GetAppointmentHistory returns the audit trail newest first.
func (s *Service) GetAppointmentHistory(ctx context.Context, actor Actor, id uuid.UUID) ([]HistoryEntry, error) {
	if _, err := s.GetAppointment(ctx, actor, id); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

// hold materialises the slot at key and moves it to Held. It refuses when
// another held slot of the doctor, other than ignore, overlaps the interval,
// which happens after the slot grid of a day changed.
func (s *Service) hold(ctx context.Context, tx Tx, key slot.Key, end calendar.Clock, ignore uuid.UUID) (*slot.Slot, error) {
	if err := tx.LockDoctorDay(ctx, key.DoctorID, key.Date); err != nil {
		return nil, err
	}

	want := calendar.NewWindow(key.Start, end)
	held, err := tx.ListSlots(ctx, key.DoctorID, key.Date, key.Date, slot.Held)
	if err != nil {
		return nil, fmt.Errorf("list held slots: %w", err)
	}
	for _, h := range held {
		if h.ID != ignore && h.Key() != key && h.Window().Overlaps(want) {
			return nil, fmt.Errorf("%w: overlaps held slot %s", apperr.ErrSlotUnavailable, h.Key())
		}
	}

	sl, err := s.alloc.EnsureSlot(ctx, tx, key, end)
	if err != nil {
		return nil, err
	}
	if err := s.alloc.TryHold(ctx, tx, sl); err != nil {
		return nil, err
	}
	return sl, nil
}

func (s *Service) withSlotLock(ctx context.Context, key slot.Key, fn func(ctx context.Context) error) error {
	err := s.locker.WithLock(ctx, key.String(), fn)
	if errors.Is(err, lock.ErrLockNotAcquired) {
		return fmt.Errorf("%w: slot %s is being booked, please retry", apperr.ErrSlotUnavailable, key)
	}
	return err
}

func (s *Service) today() calendar.Date {
	return calendar.DateOf(s.now().In(s.loc))
}

func (s *Service) checkFuture(date calendar.Date, start calendar.Clock) error {
	at := date.At(start, s.loc)
	if !at.After(s.now()) {
		return fmt.Errorf("%w: %s %s", apperr.ErrPastSlot, date, start)
	}
	return nil
}

func (s *Service) checkOffered(ctx context.Context, doctorID uuid.UUID, date calendar.Date, start, end calendar.Clock) error {
	_, ok, err := s.candidates.Lookup(ctx, doctorID, date, start, end)
	if err != nil {
		return fmt.Errorf("look up candidate: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s %s-%s is not offered by the doctor's schedule", apperr.ErrSlotUnavailable, date, start, end)
	}
	return nil
}

func (s *Service) validateRange(doctorID uuid.UUID, from, to calendar.Date) error {
	v := &apperr.ValidationError{}
	if doctorID == uuid.Nil {
		v.Add("doctor_id", "is required")
	}
	if from.IsZero() {
		v.Add("start", "is required")
	}
	if to.IsZero() {
		v.Add("end", "is required")
	}
	if !from.IsZero() && !to.IsZero() {
		switch span := from.DaysUntil(to); {
		case span < 0:
			v.Add("end", "%s is before start %s", to, from)
		case span >= s.policy.MaxRangeDays:
			v.Add("end", "range spans %d days, at most %d allowed", span+1, s.policy.MaxRangeDays)
		}
	}
	return v.Err()
}

func (s *Service) logRejected(op string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	switch {
	case apperr.Retryable(err):
		s.log.Warn(op+" rejected", fields...)
	case apperr.Known(err):
		s.log.Debug(op+" rejected", fields...)
	default:
		s.log.Error(op+" failed", fields...)
	}
}

func validateTarget(v *apperr.ValidationError, date calendar.Date, start, end calendar.Clock) {
	if date.IsZero() {
		v.Add("date", "is required")
	}
	if !calendar.NewWindow(start, end).Valid() {
		v.Add("end_time", "must be after start_time %s", start)
	}
}

// scopeToActor pins a non-admin listing to the actor's own participant
// column and rejects a filter naming someone else there.
func scopeToActor(actor Actor, f *ListFilter) error {
	own := &f.PatientID
	switch actor.Role {
	case RoleAdmin:
		return nil
	case RolePatient:
	case RoleDoctor:
		own = &f.DoctorID
	default:
		return fmt.Errorf("%w: unknown role %q", apperr.ErrForbidden, actor.Role)
	}
	if *own != nil && **own != actor.ID {
		return fmt.Errorf("%w: can only list your own appointments", apperr.ErrForbidden)
	}
	id := actor.ID
	*own = &id
	return nil
}

func canManage(actor Actor, appt *Appointment) bool {
	return actor.Role == RoleAdmin || appt.IsParticipant(actor)
}

// canSetStatus: admins set anything, the assigned doctor sets anything on
// their appointments, a patient may only confirm their own.
func canSetStatus(actor Actor, appt *Appointment, to Status) bool {
	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleDoctor:
		return actor.ID == appt.DoctorID
	case RolePatient:
		return actor.ID == appt.PatientID && to == StatusConfirmed
	}
	return false
}
