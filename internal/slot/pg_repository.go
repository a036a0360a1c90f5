package slot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	q Querier
}

func NewPgRepository(q Querier) *PgRepository {
	return &PgRepository{q: q}
}

const slotColumns = `id, doctor_id, date, start_minute, end_minute, duration_minutes, state, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var (
		s          Slot
		date       time.Time
		start, end int
	)
	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&date,
		&start,
		&end,
		&s.DurationMinutes,
		&s.State,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: slot", apperr.ErrNotFound)
		}
		return nil, err
	}
	s.Date = calendar.DateOf(date)
	s.Start = calendar.Clock(start)
	s.End = calendar.Clock(end)
	return &s, nil
}

// DateArg encodes a civil date for a DATE column.
func DateArg(d calendar.Date) time.Time {
	return d.In(time.UTC)
}

func (r *PgRepository) UpsertSlot(ctx context.Context, s Slot) (*Slot, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	row := r.q.QueryRow(ctx, `
		INSERT INTO slots (id, doctor_id, date, start_minute, end_minute, duration_minutes, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'free', now(), now())
		ON CONFLICT (doctor_id, date, start_minute) DO UPDATE
		SET end_minute = CASE WHEN slots.state = 'free' THEN EXCLUDED.end_minute ELSE slots.end_minute END,
		    duration_minutes = CASE WHEN slots.state = 'free' THEN EXCLUDED.duration_minutes ELSE slots.duration_minutes END,
		    updated_at = now()
		RETURNING `+slotColumns,
		s.ID, s.DoctorID, DateArg(s.Date), int(s.Start), int(s.End), s.DurationMinutes)

	stored, err := scanSlot(row)
	if err != nil {
		return nil, fmt.Errorf("upsert slot: %w", err)
	}
	return stored, nil
}

func (r *PgRepository) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.q.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id)
	return scanSlot(row)
}

func (r *PgRepository) SetSlotState(ctx context.Context, id uuid.UUID, from, to State) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE slots
		SET state = $3,
		    updated_at = now()
		WHERE id = $1
		  AND state = $2
	`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("update slot state: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) ListSlots(ctx context.Context, doctorID uuid.UUID, from, to calendar.Date, state State) ([]Slot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE doctor_id = $1
		  AND date BETWEEN $2 AND $3
		  AND ($4 = '' OR state = $4)
		ORDER BY date, start_minute
	`, doctorID, DateArg(from), DateArg(to), string(state))
	if err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}
	defer rows.Close()

	var out []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// DeleteFreeSlotsBefore keeps slots that an appointment still points at,
// so history of cancelled bookings stays resolvable.
func (r *PgRepository) DeleteFreeSlotsBefore(ctx context.Context, date calendar.Date) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		DELETE FROM slots s
		WHERE s.state = 'free'
		  AND s.date < $1
		  AND NOT EXISTS (SELECT 1 FROM appointments a WHERE a.slot_id = s.id)
	`, DateArg(date))
	if err != nil {
		return 0, fmt.Errorf("delete past free slots: %w", err)
	}
	return tag.RowsAffected(), nil
}
