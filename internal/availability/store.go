package availability

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

// RuleReader is the read side of the rule store. Reads may be stale; they
// only shape future availability.
type RuleReader interface {
	WeeklyRules(ctx context.Context, doctorID uuid.UUID) ([]WeeklyRule, error)
	DayOffs(ctx context.Context, doctorID uuid.UUID, from, to calendar.Date) ([]DayOff, error)
	ExceptionalSchedules(ctx context.Context, doctorID uuid.UUID, from, to calendar.Date) ([]ExceptionalSchedule, error)
	DoctorsWithRules(ctx context.Context) ([]uuid.UUID, error)
}

// RuleStore persists the three rule sources of a doctor.
type RuleStore interface {
	RuleReader

	// ReplaceWeeklyRules atomically swaps the whole weekly schedule.
	ReplaceWeeklyRules(ctx context.Context, doctorID uuid.UUID, rules []WeeklyRule) error
	// CreateWeeklyRules stores rules only if the doctor has none yet and
	// reports whether it did.
	CreateWeeklyRules(ctx context.Context, doctorID uuid.UUID, rules []WeeklyRule) (bool, error)

	UpsertDayOff(ctx context.Context, d DayOff) (*DayOff, error)
	// DeleteDayOff returns apperr.ErrNotFound when nothing was removed.
	DeleteDayOff(ctx context.Context, doctorID uuid.UUID, date calendar.Date) error

	UpsertExceptionalSchedule(ctx context.Context, e ExceptionalSchedule) (*ExceptionalSchedule, error)
	DeleteExceptionalSchedule(ctx context.Context, doctorID uuid.UUID, date calendar.Date) error
}

// RuleSet is an in-memory snapshot of a doctor's rules for a date range.
type RuleSet struct {
	DoctorID   uuid.UUID
	Weekly     map[calendar.Weekday]WeeklyRule
	DayOffs    map[calendar.Date]DayOff
	Exceptions map[calendar.Date]ExceptionalSchedule
}

func NewRuleSet(doctorID uuid.UUID, weekly []WeeklyRule, dayOffs []DayOff, exceptions []ExceptionalSchedule) RuleSet {
	rs := RuleSet{
		DoctorID:   doctorID,
		Weekly:     make(map[calendar.Weekday]WeeklyRule, len(weekly)),
		DayOffs:    make(map[calendar.Date]DayOff, len(dayOffs)),
		Exceptions: make(map[calendar.Date]ExceptionalSchedule, len(exceptions)),
	}
	for _, r := range weekly {
		rs.Weekly[r.DayOfWeek] = r
	}
	for _, d := range dayOffs {
		rs.DayOffs[d.Date] = d
	}
	for _, e := range exceptions {
		rs.Exceptions[e.Date] = e
	}
	return rs
}

// LoadRuleSet reads everything needed to resolve [from, to] for a doctor.
func LoadRuleSet(ctx context.Context, rules RuleReader, doctorID uuid.UUID, from, to calendar.Date) (RuleSet, error) {
	weekly, err := rules.WeeklyRules(ctx, doctorID)
	if err != nil {
		return RuleSet{}, err
	}
	dayOffs, err := rules.DayOffs(ctx, doctorID, from, to)
	if err != nil {
		return RuleSet{}, err
	}
	exceptions, err := rules.ExceptionalSchedules(ctx, doctorID, from, to)
	if err != nil {
		return RuleSet{}, err
	}
	return NewRuleSet(doctorID, weekly, dayOffs, exceptions), nil
}
