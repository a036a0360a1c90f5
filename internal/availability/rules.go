package availability

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

const (
	DefaultSlotMinutes = 30
	MinSlotMinutes     = 15
	MaxSlotMinutes     = 120
)

// WeeklyRule is a doctor's recurring availability for one day of the week.
type WeeklyRule struct {
	DoctorID            uuid.UUID        `json:"doctor_id"`
	DayOfWeek           calendar.Weekday `json:"day_of_week"`
	IsAvailable         bool             `json:"is_available"`
	Morning             *calendar.Window `json:"morning,omitempty"`
	Afternoon           *calendar.Window `json:"afternoon,omitempty"`
	SlotDurationMinutes int              `json:"slot_duration_minutes"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// Normalize clears the windows of an unavailable day and fills in the
// default slot duration.
func (r *WeeklyRule) Normalize() {
	if !r.IsAvailable {
		r.Morning = nil
		r.Afternoon = nil
	}
	if r.SlotDurationMinutes == 0 {
		r.SlotDurationMinutes = DefaultSlotMinutes
	}
}

func (r WeeklyRule) Validate() *apperr.ValidationError {
	v := &apperr.ValidationError{}
	if !r.DayOfWeek.Valid() {
		v.Add("day_of_week", "must be between 0 (monday) and 6 (sunday), got %d", int(r.DayOfWeek))
	}
	validateDuration(v, r.SlotDurationMinutes)
	if r.IsAvailable {
		validateSessions(v, r.Morning, r.Afternoon)
	}
	return v
}

func (r WeeklyRule) Windows() []calendar.Window {
	return sessionWindows(r.Morning, r.Afternoon)
}

// DefaultWeek is the starter schedule: weekdays 09:00-12:00 and
// 13:00-17:00 in 30 minute slots, weekends off.
func DefaultWeek(doctorID uuid.UUID) []WeeklyRule {
	rules := make([]WeeklyRule, 0, 7)
	for day := calendar.Monday; day <= calendar.Sunday; day++ {
		r := WeeklyRule{DoctorID: doctorID, DayOfWeek: day, SlotDurationMinutes: DefaultSlotMinutes}
		if day <= calendar.Friday {
			morning := calendar.NewWindow(calendar.NewClock(9, 0), calendar.NewClock(12, 0))
			afternoon := calendar.NewWindow(calendar.NewClock(13, 0), calendar.NewClock(17, 0))
			r.IsAvailable = true
			r.Morning, r.Afternoon = &morning, &afternoon
		}
		rules = append(rules, r)
	}
	return rules
}

// DayOff blacks out a date, fully or for a window of it.
type DayOff struct {
	DoctorID  uuid.UUID        `json:"doctor_id"`
	Date      calendar.Date    `json:"date"`
	IsFullDay bool             `json:"is_full_day"`
	Window    *calendar.Window `json:"window,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (d *DayOff) Normalize() {
	if d.IsFullDay {
		d.Window = nil
	}
}

func (d DayOff) Validate() *apperr.ValidationError {
	v := &apperr.ValidationError{}
	if d.Date.IsZero() {
		v.Add("date", "is required")
	}
	if !d.IsFullDay {
		switch {
		case d.Window == nil:
			v.Add("window", "a partial day off needs a start and an end time")
		case !d.Window.Valid():
			v.Add("window", "start %s must be before end %s", d.Window.Start, d.Window.End)
		}
	}
	return v
}

// ExceptionalSchedule replaces the weekly hours of a single date.
type ExceptionalSchedule struct {
	DoctorID            uuid.UUID        `json:"doctor_id"`
	Date                calendar.Date    `json:"date"`
	Morning             *calendar.Window `json:"morning,omitempty"`
	Afternoon           *calendar.Window `json:"afternoon,omitempty"`
	SlotDurationMinutes int              `json:"slot_duration_minutes"`
	Reason              string           `json:"reason,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// Normalize fills in the default slot duration. The default does not
// follow the doctor's weekly duration.
func (e *ExceptionalSchedule) Normalize() {
	if e.SlotDurationMinutes == 0 {
		e.SlotDurationMinutes = DefaultSlotMinutes
	}
}

func (e ExceptionalSchedule) Validate() *apperr.ValidationError {
	v := &apperr.ValidationError{}
	if e.Date.IsZero() {
		v.Add("date", "is required")
	}
	validateDuration(v, e.SlotDurationMinutes)
	validateSessions(v, e.Morning, e.Afternoon)
	return v
}

func (e ExceptionalSchedule) Windows() []calendar.Window {
	return sessionWindows(e.Morning, e.Afternoon)
}

func validateDuration(v *apperr.ValidationError, minutes int) {
	if minutes < MinSlotMinutes || minutes > MaxSlotMinutes {
		v.Add("slot_duration_minutes", "must be between %d and %d, got %d", MinSlotMinutes, MaxSlotMinutes, minutes)
	}
}

// validateSessions requires at least one ordered window and a morning that
// ends no later than the afternoon starts.
func validateSessions(v *apperr.ValidationError, morning, afternoon *calendar.Window) {
	if morning == nil && afternoon == nil {
		v.Add("windows", "at least one of morning or afternoon must be set")
		return
	}
	if morning != nil && !morning.Valid() {
		v.Add("morning", "start %s must be before end %s", morning.Start, morning.End)
	}
	if afternoon != nil && !afternoon.Valid() {
		v.Add("afternoon", "start %s must be before end %s", afternoon.Start, afternoon.End)
	}
	if morning != nil && afternoon != nil && morning.End > afternoon.Start {
		v.Add("afternoon", "must start at or after the morning ends (%s)", morning.End)
	}
}

func sessionWindows(morning, afternoon *calendar.Window) []calendar.Window {
	var out []calendar.Window
	if morning != nil {
		out = append(out, *morning)
	}
	if afternoon != nil {
		out = append(out, *afternoon)
	}
	return out
}
