package appointment

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

type ChangeType string

const (
	ChangeCreated     ChangeType = "created"
	ChangeUpdated     ChangeType = "updated"
	ChangeCancelled   ChangeType = "cancelled"
	ChangeRescheduled ChangeType = "rescheduled"
	ChangeCompleted   ChangeType = "completed"
)

// HistoryEntry is one immutable line of an appointment's audit trail.
type HistoryEntry struct {
	ID            int64      `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	ChangedBy     uuid.UUID  `json:"changed_by"`
	ChangedByRole Role       `json:"changed_by_role"`
	ChangeType    ChangeType `json:"change_type"`
	OldStatus     *Status    `json:"old_status,omitempty"`
	NewStatus     *Status    `json:"new_status,omitempty"`
	OldSlotID     *uuid.UUID `json:"old_slot_id,omitempty"`
	NewSlotID     *uuid.UUID `json:"new_slot_id,omitempty"`
	Note          string     `json:"note,omitempty"`
	RecordedAt    time.Time  `json:"recorded_at"`
}

// HistoryAppender is the only write the ledger performs. There is no
// update or delete.
type HistoryAppender interface {
	AppendHistory(ctx context.Context, e *HistoryEntry) error
}

// Change describes a transition to be recorded.
type Change struct {
	Type      ChangeType
	OldStatus *Status
	NewStatus *Status
	OldSlotID *uuid.UUID
	NewSlotID *uuid.UUID
	Note      string
}

// Ledger stamps and appends history entries. Callers never supply the
// timestamp.
type Ledger struct {
	now func() time.Time
}

func NewLedger(now func() time.Time) *Ledger {
	return &Ledger{now: now}
}

func (l *Ledger) Record(ctx context.Context, w HistoryAppender, appointmentID uuid.UUID, actor Actor, c Change) (*HistoryEntry, error) {
	e := &HistoryEntry{
		AppointmentID: appointmentID,
		ChangedBy:     actor.ID,
		ChangedByRole: actor.Role,
		ChangeType:    c.Type,
		OldStatus:     c.OldStatus,
		NewStatus:     c.NewStatus,
		OldSlotID:     c.OldSlotID,
		NewSlotID:     c.NewSlotID,
		Note:          c.Note,
		RecordedAt:    l.now().UTC(),
	}
	if err := w.AppendHistory(ctx, e); err != nil {
		return nil, fmt.Errorf("append %s history for %s: %w", c.Type, appointmentID, err)
	}
	return e, nil
}

// newestFirst orders entries reverse-chronologically; the id breaks ties
// between entries stamped in the same instant.
func newestFirst(entries []HistoryEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].RecordedAt.Equal(entries[j].RecordedAt) {
			return entries[i].RecordedAt.After(entries[j].RecordedAt)
		}
		return entries[i].ID > entries[j].ID
	})
}

func statusPtr(s Status) *Status { return &s }

func uuidPtr(id uuid.UUID) *uuid.UUID { return &id }
