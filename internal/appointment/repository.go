package appointment

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

// Tx is the unit of work every state-changing operation runs in. Nothing
// written through it survives if the surrounding WithinTx returns an error.
type Tx interface {
	slot.Repository
	HistoryAppender

	// LockDoctorDay serialises the holds of one doctor on one date until
	// the transaction ends, so overlapping slots with different keys cannot
	// both be held.
	LockDoctorDay(ctx context.Context, doctorID uuid.UUID, date calendar.Date) error
	// LockAppointment loads an appointment and keeps concurrent writers off
	// it until the transaction ends.
	LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// InsertAppointment fails with apperr.ErrSlotUnavailable when another
	// live appointment already references the slot.
	InsertAppointment(ctx context.Context, a *Appointment) error
	// UpdateAppointment persists slot, status and doctor notes.
	UpdateAppointment(ctx context.Context, a *Appointment) error
}

// Repository contains all storage interactions needed by the service.
type Repository interface {
	slot.Repository

	// WithinTx runs fn in one atomic boundary. Returning an error from fn
	// rolls every write back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// ListAppointments treats a zero Limit as no limit.
	ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error)
	// CountAppointments ignores the ordering and paging fields of f.
	CountAppointments(ctx context.Context, f ListFilter) (int, error)
	// PopularStartTimes returns the n most booked start times among the
	// appointments f selects, busiest first.
	PopularStartTimes(ctx context.Context, f ListFilter, n int) ([]StartTimeCount, error)
	// ListHistory returns an appointment's entries newest first.
	ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]HistoryEntry, error)

	Ping(ctx context.Context) error
}
