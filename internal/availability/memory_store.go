package availability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

type dateKey struct {
	doctorID uuid.UUID
	date     calendar.Date
}

// MemoryRuleStore keeps rules in process. It backs STORAGE_BACKEND=memory
// and the tests.
type MemoryRuleStore struct {
	mu         sync.RWMutex
	weekly     map[uuid.UUID][]WeeklyRule
	dayOffs    map[dateKey]DayOff
	exceptions map[dateKey]ExceptionalSchedule
	now        func() time.Time
}

// NewMemoryRuleStore stamps rows with now, or time.Now when nil.
func NewMemoryRuleStore(now func() time.Time) *MemoryRuleStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryRuleStore{
		weekly:     make(map[uuid.UUID][]WeeklyRule),
		dayOffs:    make(map[dateKey]DayOff),
		exceptions: make(map[dateKey]ExceptionalSchedule),
		now:        now,
	}
}

func (s *MemoryRuleStore) WeeklyRules(_ context.Context, doctorID uuid.UUID) ([]WeeklyRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := s.weekly[doctorID]
	out := make([]WeeklyRule, len(rules))
	copy(out, rules)
	return out, nil
}

func (s *MemoryRuleStore) ReplaceWeeklyRules(_ context.Context, doctorID uuid.UUID, rules []WeeklyRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.storeWeekly(doctorID, rules)
	return nil
}

func (s *MemoryRuleStore) CreateWeeklyRules(_ context.Context, doctorID uuid.UUID, rules []WeeklyRule) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.weekly[doctorID]) > 0 {
		return false, nil
	}
	s.storeWeekly(doctorID, rules)
	return true, nil
}

func (s *MemoryRuleStore) storeWeekly(doctorID uuid.UUID, rules []WeeklyRule) {
	now := s.now()
	created := make(map[calendar.Weekday]time.Time)
	for _, r := range s.weekly[doctorID] {
		created[r.DayOfWeek] = r.CreatedAt
	}

	stored := make([]WeeklyRule, 0, len(rules))
	for _, r := range rules {
		r.DoctorID = doctorID
		r.CreatedAt = now
		if at, ok := created[r.DayOfWeek]; ok {
			r.CreatedAt = at
		}
		r.UpdatedAt = now
		stored = append(stored, r)
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].DayOfWeek < stored[j].DayOfWeek })

	if len(stored) == 0 {
		delete(s.weekly, doctorID)
		return
	}
	s.weekly[doctorID] = stored
}

func (s *MemoryRuleStore) UpsertDayOff(_ context.Context, d DayOff) (*DayOff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dateKey{d.DoctorID, d.Date}
	now := s.now()
	d.CreatedAt = now
	if prev, ok := s.dayOffs[key]; ok {
		d.CreatedAt = prev.CreatedAt
	}
	d.UpdatedAt = now
	s.dayOffs[key] = d
	return &d, nil
}

func (s *MemoryRuleStore) DeleteDayOff(_ context.Context, doctorID uuid.UUID, date calendar.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dateKey{doctorID, date}
	if _, ok := s.dayOffs[key]; !ok {
		return fmt.Errorf("%w: no day off on %s", apperr.ErrNotFound, date)
	}
	delete(s.dayOffs, key)
	return nil
}

func (s *MemoryRuleStore) DayOffs(_ context.Context, doctorID uuid.UUID, from, to calendar.Date) ([]DayOff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []DayOff
	for key, d := range s.dayOffs {
		if key.doctorID == doctorID && inRange(key.date, from, to) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *MemoryRuleStore) UpsertExceptionalSchedule(_ context.Context, e ExceptionalSchedule) (*ExceptionalSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dateKey{e.DoctorID, e.Date}
	now := s.now()
	e.CreatedAt = now
	if prev, ok := s.exceptions[key]; ok {
		e.CreatedAt = prev.CreatedAt
	}
	e.UpdatedAt = now
	s.exceptions[key] = e
	return &e, nil
}

func (s *MemoryRuleStore) DeleteExceptionalSchedule(_ context.Context, doctorID uuid.UUID, date calendar.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dateKey{doctorID, date}
	if _, ok := s.exceptions[key]; !ok {
		return fmt.Errorf("%w: no exceptional schedule on %s", apperr.ErrNotFound, date)
	}
	delete(s.exceptions, key)
	return nil
}

func (s *MemoryRuleStore) ExceptionalSchedules(_ context.Context, doctorID uuid.UUID, from, to calendar.Date) ([]ExceptionalSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ExceptionalSchedule
	for key, e := range s.exceptions {
		if key.doctorID == doctorID && inRange(key.date, from, to) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *MemoryRuleStore) DoctorsWithRules(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[uuid.UUID]struct{})
	for id := range s.weekly {
		seen[id] = struct{}{}
	}
	for key := range s.exceptions {
		seen[key.doctorID] = struct{}{}
	}

	out := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func inRange(d, from, to calendar.Date) bool {
	return !d.Before(from) && !d.After(to)
}
