package slot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

// Table is an in-memory Repository. It does no locking of its own; the
// owner serialises access.
type Table struct {
	byID  map[uuid.UUID]Slot
	byKey map[Key]uuid.UUID
	now   func() time.Time
}

// NewTable stamps rows with now, or time.Now when nil.
func NewTable(now func() time.Time) *Table {
	if now == nil {
		now = time.Now
	}
	return &Table{
		byID:  make(map[uuid.UUID]Slot),
		byKey: make(map[Key]uuid.UUID),
		now:   now,
	}
}

// Clone returns a deep copy, used to snapshot state before a transaction.
func (t *Table) Clone() *Table {
	c := NewTable(t.now)
	for id, s := range t.byID {
		c.byID[id] = s
	}
	for k, id := range t.byKey {
		c.byKey[k] = id
	}
	return c
}

func (t *Table) UpsertSlot(_ context.Context, s Slot) (*Slot, error) {
	now := t.now()
	if id, ok := t.byKey[s.Key()]; ok {
		existing := t.byID[id]
		if existing.State == Free {
			existing.End = s.End
			existing.DurationMinutes = s.DurationMinutes
		}
		existing.UpdatedAt = now
		t.byID[id] = existing
		return &existing, nil
	}

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.State == "" {
		s.State = Free
	}
	s.CreatedAt = now
	s.UpdatedAt = now
	t.byID[s.ID] = s
	t.byKey[s.Key()] = s.ID
	return &s, nil
}

func (t *Table) GetSlot(_ context.Context, id uuid.UUID) (*Slot, error) {
	s, ok := t.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: slot %s", apperr.ErrNotFound, id)
	}
	return &s, nil
}

func (t *Table) SetSlotState(_ context.Context, id uuid.UUID, from, to State) (bool, error) {
	s, ok := t.byID[id]
	if !ok || s.State != from {
		return false, nil
	}
	s.State = to
	s.UpdatedAt = t.now()
	t.byID[id] = s
	return true, nil
}

func (t *Table) ListSlots(_ context.Context, doctorID uuid.UUID, from, to calendar.Date, state State) ([]Slot, error) {
	var out []Slot
	for _, s := range t.byID {
		if s.DoctorID != doctorID || s.Date.Before(from) || s.Date.After(to) {
			continue
		}
		if state != "" && s.State != state {
			continue
		}
		out = append(out, s)
	}
	sortSlots(out)
	return out, nil
}

func (t *Table) DeleteFreeSlotsBefore(ctx context.Context, date calendar.Date) (int64, error) {
	return t.DeleteFreeSlotsBeforeExcept(ctx, date, nil)
}

// DeleteFreeSlotsBeforeExcept is DeleteFreeSlotsBefore that spares every
// slot for which keep returns true.
func (t *Table) DeleteFreeSlotsBeforeExcept(_ context.Context, date calendar.Date, keep func(uuid.UUID) bool) (int64, error) {
	var n int64
	for id, s := range t.byID {
		if keep != nil && keep(id) {
			continue
		}
		if s.State == Free && s.Date.Before(date) {
			delete(t.byID, id)
			delete(t.byKey, s.Key())
			n++
		}
	}
	return n, nil
}

func sortSlots(slots []Slot) {
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Date != slots[j].Date {
			return slots[i].Date.Before(slots[j].Date)
		}
		return slots[i].Start < slots[j].Start
	})
}
