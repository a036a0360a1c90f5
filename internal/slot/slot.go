package slot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

type State string

const (
	Free State = "free"
	Held State = "held"
)

// Key is the natural key of a slot. No two slots of a doctor share one.
type Key struct {
	DoctorID uuid.UUID
	Date     calendar.Date
	Start    calendar.Clock
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.DoctorID, k.Date, k.Start)
}

type Slot struct {
	ID              uuid.UUID      `json:"id"`
	DoctorID        uuid.UUID      `json:"doctor_id"`
	Date            calendar.Date  `json:"date"`
	Start           calendar.Clock `json:"start_time"`
	End             calendar.Clock `json:"end_time"`
	DurationMinutes int            `json:"duration_minutes"`
	State           State          `json:"state"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (s Slot) Key() Key {
	return Key{DoctorID: s.DoctorID, Date: s.Date, Start: s.Start}
}

func (s Slot) Window() calendar.Window {
	return calendar.NewWindow(s.Start, s.End)
}

// StartsAt is the instant the slot begins in the clinic's location.
func (s Slot) StartsAt(loc *time.Location) time.Time {
	return s.Date.At(s.Start, loc)
}

// Repository persists slots. Implementations bound to a transaction see
// that transaction's writes.
type Repository interface {
	// UpsertSlot creates the slot for s.Key() or returns the existing one.
	// A free slot has its bounds refreshed from s; a held slot keeps them.
	UpsertSlot(ctx context.Context, s Slot) (*Slot, error)
	GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	// SetSlotState moves a slot from one state to another and reports
	// whether the slot was in the expected state.
	SetSlotState(ctx context.Context, id uuid.UUID, from, to State) (bool, error)
	// ListSlots returns slots of a doctor in [from, to]. An empty state
	// matches every state.
	ListSlots(ctx context.Context, doctorID uuid.UUID, from, to calendar.Date, state State) ([]Slot, error)
	// DeleteFreeSlotsBefore removes free slots dated strictly before date.
	DeleteFreeSlotsBefore(ctx context.Context, date calendar.Date) (int64, error)
}
