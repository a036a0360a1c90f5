package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

// Service manages the rule sources of each doctor. Ownership checks happen
// in the caller; every input is validated here.
type Service struct {
	store RuleStore
	now   func() time.Time
	loc   *time.Location
	log   *zap.Logger
}

func NewService(store RuleStore, now func() time.Time, loc *time.Location, log *zap.Logger) *Service {
	return &Service{store: store, now: now, loc: loc, log: log}
}

func (s *Service) today() calendar.Date {
	return calendar.DateOf(s.now().In(s.loc))
}

// SetWeeklySchedule replaces the doctor's weekly rules in bulk. Each day is
// validated on its own; any violation rejects the whole batch.
func (s *Service) SetWeeklySchedule(ctx context.Context, doctorID uuid.UUID, rules []WeeklyRule) ([]WeeklyRule, error) {
	v := &apperr.ValidationError{}
	if doctorID == uuid.Nil {
		v.Add("doctor_id", "is required")
	}
	if len(rules) == 0 || len(rules) > 7 {
		v.Add("rules", "between 1 and 7 day rules are required, got %d", len(rules))
	}

	seen := make(map[calendar.Weekday]bool, len(rules))
	normalized := make([]WeeklyRule, 0, len(rules))
	for i, r := range rules {
		r.DoctorID = doctorID
		r.Normalize()
		v.Merge(fmt.Sprintf("rules[%d]", i), r.Validate())
		if seen[r.DayOfWeek] {
			v.Add(fmt.Sprintf("rules[%d].day_of_week", i), "%s appears more than once", r.DayOfWeek)
		}
		seen[r.DayOfWeek] = true
		normalized = append(normalized, r)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	if err := s.store.ReplaceWeeklyRules(ctx, doctorID, normalized); err != nil {
		return nil, fmt.Errorf("replace weekly rules: %w", err)
	}

	s.log.Info("weekly schedule replaced",
		zap.String("doctor_id", doctorID.String()),
		zap.Int("days", len(normalized)),
	)
	return s.store.WeeklyRules(ctx, doctorID)
}

// InitializeWeeklySchedule installs DefaultWeek for a doctor who has no
// weekly rules yet. An existing schedule is left alone and reported as a
// validation error.
func (s *Service) InitializeWeeklySchedule(ctx context.Context, doctorID uuid.UUID) ([]WeeklyRule, error) {
	if doctorID == uuid.Nil {
		return nil, apperr.Invalid("doctor_id", "is required")
	}

	created, err := s.store.CreateWeeklyRules(ctx, doctorID, DefaultWeek(doctorID))
	if err != nil {
		return nil, fmt.Errorf("create weekly rules: %w", err)
	}
	if !created {
		return nil, apperr.Invalid("weekly_schedule", "already exists; replace it instead")
	}

	s.log.Info("weekly schedule initialized", zap.String("doctor_id", doctorID.String()))
	return s.store.WeeklyRules(ctx, doctorID)
}

func (s *Service) WeeklySchedule(ctx context.Context, doctorID uuid.UUID) ([]WeeklyRule, error) {
	return s.store.WeeklyRules(ctx, doctorID)
}

// SetDayOff creates or replaces the day off of a doctor on a date.
func (s *Service) SetDayOff(ctx context.Context, d DayOff) (*DayOff, error) {
	d.Normalize()
	v := d.Validate()
	if d.DoctorID == uuid.Nil {
		v.Add("doctor_id", "is required")
	}
	if !d.Date.IsZero() && d.Date.Before(s.today()) {
		v.Add("date", "%s is in the past", d.Date)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	stored, err := s.store.UpsertDayOff(ctx, d)
	if err != nil {
		return nil, err
	}

	s.log.Info("day off set",
		zap.String("doctor_id", d.DoctorID.String()),
		zap.Stringer("date", d.Date),
		zap.Bool("full_day", d.IsFullDay),
	)
	return stored, nil
}

func (s *Service) RemoveDayOff(ctx context.Context, doctorID uuid.UUID, date calendar.Date) error {
	if err := s.store.DeleteDayOff(ctx, doctorID, date); err != nil {
		return err
	}
	s.log.Info("day off removed", zap.String("doctor_id", doctorID.String()), zap.Stringer("date", date))
	return nil
}

func (s *Service) DayOffs(ctx context.Context, doctorID uuid.UUID, from, to calendar.Date) ([]DayOff, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	return s.store.DayOffs(ctx, doctorID, from, to)
}

// SetExceptionalSchedule creates or replaces the replacement hours of a
// doctor on a date.
func (s *Service) SetExceptionalSchedule(ctx context.Context, e ExceptionalSchedule) (*ExceptionalSchedule, error) {
	e.Normalize()
	v := e.Validate()
	if e.DoctorID == uuid.Nil {
		v.Add("doctor_id", "is required")
	}
	if !e.Date.IsZero() && e.Date.Before(s.today()) {
		v.Add("date", "%s is in the past", e.Date)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	stored, err := s.store.UpsertExceptionalSchedule(ctx, e)
	if err != nil {
		return nil, err
	}

	s.log.Info("exceptional schedule set",
		zap.String("doctor_id", e.DoctorID.String()),
		zap.Stringer("date", e.Date),
		zap.Int("slot_minutes", e.SlotDurationMinutes),
	)
	return stored, nil
}

func (s *Service) RemoveExceptionalSchedule(ctx context.Context, doctorID uuid.UUID, date calendar.Date) error {
	if err := s.store.DeleteExceptionalSchedule(ctx, doctorID, date); err != nil {
		return err
	}
	s.log.Info("exceptional schedule removed", zap.String("doctor_id", doctorID.String()), zap.Stringer("date", date))
	return nil
}

func (s *Service) ExceptionalSchedules(ctx context.Context, doctorID uuid.UUID, from, to calendar.Date) ([]ExceptionalSchedule, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	return s.store.ExceptionalSchedules(ctx, doctorID, from, to)
}

func checkRange(from, to calendar.Date) error {
	v := &apperr.ValidationError{}
	if from.IsZero() {
		v.Add("start", "is required")
	}
	if to.IsZero() {
		v.Add("end", "is required")
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		v.Add("end", "%s is before start %s", to, from)
	}
	return v.Err()
}
