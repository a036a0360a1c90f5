package slot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

// Allocator moves slots between Free and Held. Every call takes the
// repository to act on, so callers decide the transaction boundary.
type Allocator struct {
	now func() time.Time
	loc *time.Location
}

func NewAllocator(now func() time.Time, loc *time.Location) *Allocator {
	return &Allocator{now: now, loc: loc}
}

// EnsureSlot returns the slot for key, creating it when missing. It fails
// with ErrSlotUnavailable when a held slot at key has different bounds.
func (a *Allocator) EnsureSlot(ctx context.Context, repo Repository, key Key, end calendar.Clock) (*Slot, error) {
	w := calendar.NewWindow(key.Start, end)
	if !w.Valid() {
		return nil, apperr.Invalid("end_time", "must be after start %s", key.Start)
	}

	s, err := repo.UpsertSlot(ctx, Slot{
		ID:              uuid.New(),
		DoctorID:        key.DoctorID,
		Date:            key.Date,
		Start:           key.Start,
		End:             end,
		DurationMinutes: w.Minutes(),
		State:           Free,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert slot %s: %w", key, err)
	}
	if s.End != end {
		return nil, fmt.Errorf("%w: slot %s is held until %s", apperr.ErrSlotUnavailable, key, s.End)
	}
	return s, nil
}

// TryHold moves s from Free to Held. Only one of several concurrent callers
// for the same slot succeeds; the rest get ErrSlotUnavailable.
func (a *Allocator) TryHold(ctx context.Context, repo Repository, s *Slot) error {
	if !s.StartsAt(a.loc).After(a.now()) {
		return fmt.Errorf("%w: %s starts at %s", apperr.ErrPastSlot, s.Key(), s.StartsAt(a.loc).Format(time.RFC3339))
	}

	ok, err := repo.SetSlotState(ctx, s.ID, Free, Held)
	if err != nil {
		return fmt.Errorf("hold slot %s: %w", s.Key(), err)
	}
	if !ok {
		return fmt.Errorf("%w: slot %s is already held", apperr.ErrSlotUnavailable, s.Key())
	}
	s.State = Held
	return nil
}

// Release frees a slot. Releasing a free slot is a no-op.
func (a *Allocator) Release(ctx context.Context, repo Repository, id uuid.UUID) error {
	if _, err := repo.SetSlotState(ctx, id, Held, Free); err != nil {
		return fmt.Errorf("release slot %s: %w", id, err)
	}
	return nil
}
