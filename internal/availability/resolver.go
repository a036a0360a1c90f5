package availability

import (
	"context"
	"fmt"
	"iter"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

// Candidate is a bookable interval implied by the rules. It does not mean a
// slot row exists yet.
type Candidate struct {
	DoctorID        uuid.UUID      `json:"doctor_id"`
	Date            calendar.Date  `json:"date"`
	Start           calendar.Clock `json:"start_time"`
	End             calendar.Clock `json:"end_time"`
	DurationMinutes int            `json:"duration_minutes"`
}

func (c Candidate) Window() calendar.Window {
	return calendar.NewWindow(c.Start, c.End)
}

// dayPlan accumulates the decision for a single date as the precedence
// layers run.
type dayPlan struct {
	windows  []calendar.Window
	duration int
	based    bool
}

// layer inspects one rule source. Returning true ends evaluation for the date.
type layer struct {
	name  string
	apply func(rs *RuleSet, date calendar.Date, p *dayPlan) bool
}

// precedence is evaluated top to bottom for every date:
// full day off > exceptional schedule > weekly rule > partial day off.
var precedence = []layer{
	{name: "full-day-off", apply: applyFullDayOff},
	{name: "exceptional-schedule", apply: applyExceptionalSchedule},
	{name: "weekly-rule", apply: applyWeeklyRule},
	{name: "partial-day-off", apply: applyPartialDayOff},
}

func applyFullDayOff(rs *RuleSet, date calendar.Date, p *dayPlan) bool {
	off, ok := rs.DayOffs[date]
	if ok && off.IsFullDay {
		p.windows = nil
		return true
	}
	return false
}

func applyExceptionalSchedule(rs *RuleSet, date calendar.Date, p *dayPlan) bool {
	exc, ok := rs.Exceptions[date]
	if !ok {
		return false
	}
	p.windows = exc.Windows()
	p.duration = exc.SlotDurationMinutes
	if p.duration == 0 {
		p.duration = DefaultSlotMinutes
	}
	p.based = true
	return false
}

func applyWeeklyRule(rs *RuleSet, date calendar.Date, p *dayPlan) bool {
	if p.based {
		return false
	}
	rule, ok := rs.Weekly[date.Weekday()]
	if !ok || !rule.IsAvailable {
		p.windows = nil
		return true
	}
	p.windows = rule.Windows()
	p.duration = rule.SlotDurationMinutes
	if p.duration == 0 {
		p.duration = DefaultSlotMinutes
	}
	p.based = true
	return false
}

func applyPartialDayOff(rs *RuleSet, date calendar.Date, p *dayPlan) bool {
	off, ok := rs.DayOffs[date]
	if !ok || off.IsFullDay || off.Window == nil {
		return false
	}
	var remaining []calendar.Window
	for _, w := range p.windows {
		remaining = append(remaining, w.Subtract(*off.Window)...)
	}
	p.windows = remaining
	return false
}

// PlanDay returns the windows open for booking on date and the slot
// duration that applies to them.
func (rs *RuleSet) PlanDay(date calendar.Date) ([]calendar.Window, int) {
	var p dayPlan
	for _, l := range precedence {
		if l.apply(rs, date, &p) {
			break
		}
	}
	return p.windows, p.duration
}

// Resolve lazily yields every candidate in [from, to], in chronological
// order. The sequence has no side effects and can be ranged over repeatedly.
func Resolve(rs RuleSet, from, to calendar.Date) iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		for date := from; !date.After(to); date = date.AddDays(1) {
			windows, duration := rs.PlanDay(date)
			for _, w := range windows {
				for _, step := range w.Split(duration) {
					c := Candidate{
						DoctorID:        rs.DoctorID,
						Date:            date,
						Start:           step.Start,
						End:             step.End,
						DurationMinutes: duration,
					}
					if !yield(c) {
						return
					}
				}
			}
		}
	}
}

// Resolver binds Resolve to a rule store.
type Resolver struct {
	rules RuleReader
}

func NewResolver(rules RuleReader) *Resolver {
	return &Resolver{rules: rules}
}

// Candidates loads the rules once and returns a restartable sequence over them.
func (r *Resolver) Candidates(ctx context.Context, doctorID uuid.UUID, from, to calendar.Date) (iter.Seq[Candidate], error) {
	rs, err := LoadRuleSet(ctx, r.rules, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load rules for doctor %s: %w", doctorID, err)
	}
	return Resolve(rs, from, to), nil
}

// Lookup reports whether the rules currently offer exactly the interval
// [start, end) on date.
func (r *Resolver) Lookup(ctx context.Context, doctorID uuid.UUID, date calendar.Date, start, end calendar.Clock) (Candidate, bool, error) {
	seq, err := r.Candidates(ctx, doctorID, date, date)
	if err != nil {
		return Candidate{}, false, err
	}
	for c := range seq {
		if c.Start == start && c.End == end {
			return c, true, nil
		}
	}
	return Candidate{}, false, nil
}
