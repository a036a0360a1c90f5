package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

type PgRuleStore struct {
	pool *pgxpool.Pool
}

func NewPgRuleStore(pool *pgxpool.Pool) *PgRuleStore {
	return &PgRuleStore{pool: pool}
}

// Helpers

func windowArgs(w *calendar.Window) (start, end *int) {
	if w == nil {
		return nil, nil
	}
	s, e := int(w.Start), int(w.End)
	return &s, &e
}

func windowFrom(start, end *int) *calendar.Window {
	if start == nil || end == nil {
		return nil
	}
	w := calendar.NewWindow(calendar.Clock(*start), calendar.Clock(*end))
	return &w
}

func dateArg(d calendar.Date) time.Time {
	return d.In(time.UTC)
}

func scanWeeklyRule(row pgx.Row) (*WeeklyRule, error) {
	var (
		r            WeeklyRule
		day          int
		mStart, mEnd *int
		aStart, aEnd *int
	)
	err := row.Scan(
		&r.DoctorID,
		&day,
		&r.IsAvailable,
		&mStart, &mEnd,
		&aStart, &aEnd,
		&r.SlotDurationMinutes,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.DayOfWeek = calendar.Weekday(day)
	r.Morning = windowFrom(mStart, mEnd)
	r.Afternoon = windowFrom(aStart, aEnd)
	return &r, nil
}

func scanDayOff(row pgx.Row) (*DayOff, error) {
	var (
		d          DayOff
		date       time.Time
		start, end *int
	)
	err := row.Scan(
		&d.DoctorID,
		&date,
		&d.IsFullDay,
		&start, &end,
		&d.Reason,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Date = calendar.DateOf(date)
	d.Window = windowFrom(start, end)
	return &d, nil
}

func scanExceptionalSchedule(row pgx.Row) (*ExceptionalSchedule, error) {
	var (
		e            ExceptionalSchedule
		date         time.Time
		mStart, mEnd *int
		aStart, aEnd *int
	)
	err := row.Scan(
		&e.DoctorID,
		&date,
		&mStart, &mEnd,
		&aStart, &aEnd,
		&e.SlotDurationMinutes,
		&e.Reason,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Date = calendar.DateOf(date)
	e.Morning = windowFrom(mStart, mEnd)
	e.Afternoon = windowFrom(aStart, aEnd)
	return &e, nil
}

// Interface methods

func (s *PgRuleStore) WeeklyRules(ctx context.Context, doctorID uuid.UUID) ([]WeeklyRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT doctor_id, day_of_week, is_available,
		       morning_start, morning_end, afternoon_start, afternoon_end,
		       slot_duration_minutes, created_at, updated_at
		FROM weekly_schedule_rules
		WHERE doctor_id = $1
		ORDER BY day_of_week
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("query weekly rules: %w", err)
	}
	defer rows.Close()

	var out []WeeklyRule
	for rows.Next() {
		r, err := scanWeeklyRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan weekly rule: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PgRuleStore) ReplaceWeeklyRules(ctx context.Context, doctorID uuid.UUID, rules []WeeklyRule) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace weekly rules: %w", err)
	}
	defer tx.Rollback(ctx)

	days := make([]int, 0, len(rules))
	for _, r := range rules {
		days = append(days, int(r.DayOfWeek))
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM weekly_schedule_rules
		WHERE doctor_id = $1 AND NOT (day_of_week = ANY($2))
	`, doctorID, days); err != nil {
		return fmt.Errorf("delete dropped weekly rules: %w", err)
	}

	for _, r := range rules {
		mStart, mEnd := windowArgs(r.Morning)
		aStart, aEnd := windowArgs(r.Afternoon)
		_, err := tx.Exec(ctx, `
			INSERT INTO weekly_schedule_rules (
				doctor_id, day_of_week, is_available,
				morning_start, morning_end, afternoon_start, afternoon_end,
				slot_duration_minutes, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
			ON CONFLICT (doctor_id, day_of_week) DO UPDATE
			SET is_available = EXCLUDED.is_available,
			    morning_start = EXCLUDED.morning_start,
			    morning_end = EXCLUDED.morning_end,
			    afternoon_start = EXCLUDED.afternoon_start,
			    afternoon_end = EXCLUDED.afternoon_end,
			    slot_duration_minutes = EXCLUDED.slot_duration_minutes,
			    updated_at = now()
		`, doctorID, int(r.DayOfWeek), r.IsAvailable, mStart, mEnd, aStart, aEnd, r.SlotDurationMinutes)
		if err != nil {
			return fmt.Errorf("upsert weekly rule for %s: %w", r.DayOfWeek, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit weekly rules: %w", err)
	}
	return nil
}

// CreateWeeklyRules inserts with DO NOTHING; a concurrent creator that
// committed first leaves a day unwritten and the whole insert rolls back.
func (s *PgRuleStore) CreateWeeklyRules(ctx context.Context, doctorID uuid.UUID, rules []WeeklyRule) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin create weekly rules: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM weekly_schedule_rules WHERE doctor_id = $1)
	`, doctorID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check weekly rules: %w", err)
	}
	if exists {
		return false, nil
	}

	for _, r := range rules {
		mStart, mEnd := windowArgs(r.Morning)
		aStart, aEnd := windowArgs(r.Afternoon)
		tag, err := tx.Exec(ctx, `
			INSERT INTO weekly_schedule_rules (
				doctor_id, day_of_week, is_available,
				morning_start, morning_end, afternoon_start, afternoon_end,
				slot_duration_minutes, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
			ON CONFLICT (doctor_id, day_of_week) DO NOTHING
		`, doctorID, int(r.DayOfWeek), r.IsAvailable, mStart, mEnd, aStart, aEnd, r.SlotDurationMinutes)
		if err != nil {
			return false, fmt.Errorf("insert weekly rule for %s: %w", r.DayOfWeek, err)
		}
		if tag.RowsAffected() == 0 {
			return false, nil
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit weekly rules: %w", err)
	}
	return true, nil
}

func (s *PgRuleStore) UpsertDayOff(ctx context.Context, d DayOff) (*DayOff, error) {
	start, end := windowArgs(d.Window)
	row := s.pool.QueryRow(ctx, `
		INSERT INTO doctor_day_offs (
			doctor_id, date, is_full_day, window_start, window_end, reason, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (doctor_id, date) DO UPDATE
		SET is_full_day = EXCLUDED.is_full_day,
		    window_start = EXCLUDED.window_start,
		    window_end = EXCLUDED.window_end,
		    reason = EXCLUDED.reason,
		    updated_at = now()
		RETURNING doctor_id, date, is_full_day, window_start, window_end, reason, created_at, updated_at
	`, d.DoctorID, dateArg(d.Date), d.IsFullDay, start, end, d.Reason)

	stored, err := scanDayOff(row)
	if err != nil {
		return nil, fmt.Errorf("upsert day off: %w", err)
	}
	return stored, nil
}

func (s *PgRuleStore) DeleteDayOff(ctx context.Context, doctorID uuid.UUID, date calendar.Date) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM doctor_day_offs WHERE doctor_id = $1 AND date = $2
	`, doctorID, dateArg(date))
	if err != nil {
		return fmt.Errorf("delete day off: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: no day off on %s", apperr.ErrNotFound, date)
	}
	return nil
}

func (s *PgRuleStore) DayOffs(ctx context.Context, doctorID uuid.UUID, from, to calendar.Date) ([]DayOff, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT doctor_id, date, is_full_day, window_start, window_end, reason, created_at, updated_at
		FROM doctor_day_offs
		WHERE doctor_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date
	`, doctorID, dateArg(from), dateArg(to))
	if err != nil {
		return nil, fmt.Errorf("query day offs: %w", err)
	}
	defer rows.Close()

	var out []DayOff
	for rows.Next() {
		d, err := scanDayOff(rows)
		if err != nil {
			return nil, fmt.Errorf("scan day off: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *PgRuleStore) UpsertExceptionalSchedule(ctx context.Context, e ExceptionalSchedule) (*ExceptionalSchedule, error) {
	mStart, mEnd := windowArgs(e.Morning)
	aStart, aEnd := windowArgs(e.Afternoon)
	row := s.pool.QueryRow(ctx, `
		INSERT INTO exceptional_schedules (
			doctor_id, date, morning_start, morning_end, afternoon_start, afternoon_end,
			slot_duration_minutes, reason, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (doctor_id, date) DO UPDATE
		SET morning_start = EXCLUDED.morning_start,
		    morning_end = EXCLUDED.morning_end,
		    afternoon_start = EXCLUDED.afternoon_start,
		    afternoon_end = EXCLUDED.afternoon_end,
		    slot_duration_minutes = EXCLUDED.slot_duration_minutes,
		    reason = EXCLUDED.reason,
		    updated_at = now()
		RETURNING doctor_id, date, morning_start, morning_end, afternoon_start, afternoon_end,
		          slot_duration_minutes, reason, created_at, updated_at
	`, e.DoctorID, dateArg(e.Date), mStart, mEnd, aStart, aEnd, e.SlotDurationMinutes, e.Reason)

	stored, err := scanExceptionalSchedule(row)
	if err != nil {
		return nil, fmt.Errorf("upsert exceptional schedule: %w", err)
	}
	return stored, nil
}

func (s *PgRuleStore) DeleteExceptionalSchedule(ctx context.Context, doctorID uuid.UUID, date calendar.Date) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM exceptional_schedules WHERE doctor_id = $1 AND date = $2
	`, doctorID, dateArg(date))
	if err != nil {
		return fmt.Errorf("delete exceptional schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: no exceptional schedule on %s", apperr.ErrNotFound, date)
	}
	return nil
}

func (s *PgRuleStore) ExceptionalSchedules(ctx context.Context, doctorID uuid.UUID, from, to calendar.Date) ([]ExceptionalSchedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT doctor_id, date, morning_start, morning_end, afternoon_start, afternoon_end,
		       slot_duration_minutes, reason, created_at, updated_at
		FROM exceptional_schedules
		WHERE doctor_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date
	`, doctorID, dateArg(from), dateArg(to))
	if err != nil {
		return nil, fmt.Errorf("query exceptional schedules: %w", err)
	}
	defer rows.Close()

	var out []ExceptionalSchedule
	for rows.Next() {
		e, err := scanExceptionalSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exceptional schedule: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *PgRuleStore) DoctorsWithRules(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT doctor_id FROM weekly_schedule_rules
		UNION
		SELECT doctor_id FROM exceptional_schedules
		ORDER BY 1
	`)
	if err != nil {
		return nil, fmt.Errorf("query doctors with rules: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan doctor id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
