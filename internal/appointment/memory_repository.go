package appointment

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

type memState struct {
	*slot.Table
	appointments map[uuid.UUID]Appointment
	history      []HistoryEntry
	nextEntryID  int64
	now          func() time.Time
}

func (s *memState) clone() *memState {
	c := &memState{
		Table:        s.Table.Clone(),
		appointments: make(map[uuid.UUID]Appointment, len(s.appointments)),
		history:      append([]HistoryEntry(nil), s.history...),
		nextEntryID:  s.nextEntryID,
		now:          s.now,
	}
	for id, a := range s.appointments {
		c.appointments[id] = a
	}
	return c
}

// MemoryRepository keeps everything in process. Transactions are
// serialised by one mutex and rolled back by restoring a snapshot.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memState
}

// NewMemoryRepository stamps rows with now, or time.Now when nil.
func NewMemoryRepository(now func() time.Time) *MemoryRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryRepository{
		state: &memState{
			Table:        slot.NewTable(now),
			appointments: make(map[uuid.UUID]Appointment),
			now:          now,
		},
	}
}

// WithinTx must not be re-entered from fn; use tx for every access.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.state.clone()
	if err := fn(ctx, r.state); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

func (r *MemoryRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.LockAppointment(ctx, id)
}

func (r *MemoryRepository) ListAppointments(_ context.Context, f ListFilter) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := r.state.matching(f)
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.Date != b.Date {
			return a.Date.Before(b.Date) == f.Ascending
		}
		if a.Start != b.Start {
			return (a.Start < b.Start) == f.Ascending
		}
		return a.ID.String() < b.ID.String()
	})

	if f.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (r *MemoryRepository) CountAppointments(_ context.Context, f ListFilter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.matching(f)), nil
}

func (r *MemoryRepository) PopularStartTimes(_ context.Context, f ListFilter, n int) ([]StartTimeCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[calendar.Clock]int)
	for _, a := range r.state.matching(f) {
		counts[a.Start]++
	}
	out := make([]StartTimeCount, 0, len(counts))
	for start, c := range counts {
		out = append(out, StartTimeCount{Start: start, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Start < out[j].Start
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out, nil
}

func (r *MemoryRepository) ListHistory(_ context.Context, appointmentID uuid.UUID) ([]HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []HistoryEntry
	for _, e := range r.state.history {
		if e.AppointmentID == appointmentID {
			out = append(out, e)
		}
	}
	newestFirst(out)
	return out, nil
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) UpsertSlot(ctx context.Context, s slot.Slot) (*slot.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.UpsertSlot(ctx, s)
}

func (r *MemoryRepository) GetSlot(ctx context.Context, id uuid.UUID) (*slot.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.GetSlot(ctx, id)
}

func (r *MemoryRepository) SetSlotState(ctx context.Context, id uuid.UUID, from, to slot.State) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.SetSlotState(ctx, id, from, to)
}

func (r *MemoryRepository) ListSlots(ctx context.Context, doctorID uuid.UUID, from, to calendar.Date, state slot.State) ([]slot.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.ListSlots(ctx, doctorID, from, to, state)
}

func (r *MemoryRepository) DeleteFreeSlotsBefore(ctx context.Context, date calendar.Date) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.DeleteFreeSlotsBefore(ctx, date)
}

// memState is also the Tx handed to WithinTx callbacks.

func (s *memState) DeleteFreeSlotsBefore(ctx context.Context, date calendar.Date) (int64, error) {
	referenced := make(map[uuid.UUID]bool, len(s.appointments))
	for _, a := range s.appointments {
		referenced[a.SlotID] = true
	}
	return s.Table.DeleteFreeSlotsBeforeExcept(ctx, date, func(id uuid.UUID) bool { return referenced[id] })
}

func (s *memState) matching(f ListFilter) []Appointment {
	var out []Appointment
	for _, a := range s.appointments {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, a.Status) {
			continue
		}
		if !f.From.IsZero() && a.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && a.Date.After(f.To) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// LockDoctorDay has nothing to do; the repository mutex already serialises
// every transaction.
func (s *memState) LockDoctorDay(context.Context, uuid.UUID, calendar.Date) error { return nil }

func (s *memState) LockAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := s.appointments[id]
	if !ok {
		return nil, fmt.Errorf("%w: appointment %s", apperr.ErrNotFound, id)
	}
	return &a, nil
}

func (s *memState) liveAppointmentOn(slotID, except uuid.UUID) bool {
	for _, a := range s.appointments {
		if a.ID != except && a.SlotID == slotID && a.Status != StatusCancelled {
			return true
		}
	}
	return false
}

func (s *memState) InsertAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if _, err := s.GetSlot(ctx, a.SlotID); err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	if s.liveAppointmentOn(a.SlotID, a.ID) {
		return fmt.Errorf("%w: slot %s already has a live appointment", apperr.ErrSlotUnavailable, a.SlotID)
	}
	now := s.now()
	a.CreatedAt = now
	a.UpdatedAt = now
	s.appointments[a.ID] = *a
	return nil
}

func (s *memState) UpdateAppointment(_ context.Context, a *Appointment) error {
	prev, ok := s.appointments[a.ID]
	if !ok {
		return fmt.Errorf("%w: appointment %s", apperr.ErrNotFound, a.ID)
	}
	if a.Status != StatusCancelled && s.liveAppointmentOn(a.SlotID, a.ID) {
		return fmt.Errorf("%w: slot %s already has a live appointment", apperr.ErrSlotUnavailable, a.SlotID)
	}
	prev.SlotID = a.SlotID
	prev.Date, prev.Start, prev.End = a.Date, a.Start, a.End
	prev.Status = a.Status
	prev.DoctorNotes = a.DoctorNotes
	prev.UpdatedAt = s.now()
	a.UpdatedAt = prev.UpdatedAt
	s.appointments[a.ID] = prev
	return nil
}

func (s *memState) AppendHistory(_ context.Context, e *HistoryEntry) error {
	s.nextEntryID++
	e.ID = s.nextEntryID
	s.history = append(s.history, *e)
	return nil
}
