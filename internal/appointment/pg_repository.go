package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

// uniqueViolation is the SQLSTATE raised when the one-live-appointment
// per slot index rejects an insert.
const uniqueViolation = "23505"

type PgRepository struct {
	*slot.PgRepository
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{
		PgRepository: slot.NewPgRepository(pool),
		pool:         pool,
	}
}

type pgTx struct {
	*slot.PgRepository
	tx pgx.Tx
}

// Helpers

const appointmentSelect = `
	SELECT a.id, a.patient_id, a.doctor_id, a.slot_id,
	       s.date, s.start_minute, s.end_minute,
	       a.consultation_type, a.status, a.priority,
	       a.reason_for_visit, a.symptoms, a.contact_phone, a.patient_notes, a.doctor_notes,
	       a.created_by, a.created_at, a.updated_at
	FROM appointments a
	JOIN slots s ON s.id = a.slot_id
`

// appointmentFilter binds a ListFilter through filterArgs as $1 to $5.
const appointmentFilter = `
	WHERE ($1::uuid IS NULL OR a.patient_id = $1)
	  AND ($2::uuid IS NULL OR a.doctor_id = $2)
	  AND ($3::text[] IS NULL OR a.status = ANY($3))
	  AND ($4::date IS NULL OR s.date >= $4)
	  AND ($5::date IS NULL OR s.date <= $5)
`

func filterArgs(f ListFilter) []any {
	var statuses []string
	for _, st := range f.Statuses {
		statuses = append(statuses, string(st))
	}
	return []any{f.PatientID, f.DoctorID, statuses, optionalDate(f.From), optionalDate(f.To)}
}

func optionalDate(d calendar.Date) *time.Time {
	if d.IsZero() {
		return nil
	}
	t := slot.DateArg(d)
	return &t
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a          Appointment
		date       time.Time
		start, end int
	)
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.SlotID,
		&date,
		&start,
		&end,
		&a.ConsultationType,
		&a.Status,
		&a.Priority,
		&a.ReasonForVisit,
		&a.Symptoms,
		&a.ContactPhone,
		&a.PatientNotes,
		&a.DoctorNotes,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: appointment", apperr.ErrNotFound)
		}
		return nil, err
	}
	a.Date = calendar.DateOf(date)
	a.Start = calendar.Clock(start)
	a.End = calendar.Clock(end)
	return &a, nil
}

func scanHistoryEntry(row pgx.Row) (*HistoryEntry, error) {
	var e HistoryEntry
	err := row.Scan(
		&e.ID,
		&e.AppointmentID,
		&e.ChangedBy,
		&e.ChangedByRole,
		&e.ChangeType,
		&e.OldStatus,
		&e.NewStatus,
		&e.OldSlotID,
		&e.NewSlotID,
		&e.Note,
		&e.RecordedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Interface methods

func (r *PgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{PgRepository: slot.NewPgRepository(tx), tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, appointmentSelect+`WHERE a.id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	order := `ORDER BY s.date DESC, s.start_minute DESC, a.id`
	if f.Ascending {
		order = `ORDER BY s.date, s.start_minute, a.id`
	}
	var limit *int
	if f.Limit > 0 {
		limit = &f.Limit
	}

	args := append(filterArgs(f), limit, f.Offset)
	rows, err := r.pool.Query(ctx, appointmentSelect+appointmentFilter+order+`
		LIMIT $6 OFFSET $7
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CountAppointments(ctx context.Context, f ListFilter) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN slots s ON s.id = a.slot_id
	`+appointmentFilter, filterArgs(f)...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count appointments: %w", err)
	}
	return n, nil
}

func (r *PgRepository) PopularStartTimes(ctx context.Context, f ListFilter, n int) ([]StartTimeCount, error) {
	args := append(filterArgs(f), n)
	rows, err := r.pool.Query(ctx, `
		SELECT s.start_minute, count(*) AS booked
		FROM appointments a
		JOIN slots s ON s.id = a.slot_id
	`+appointmentFilter+`
		GROUP BY s.start_minute
		ORDER BY booked DESC, s.start_minute
		LIMIT $6
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query popular start times: %w", err)
	}
	defer rows.Close()

	var result []StartTimeCount
	for rows.Next() {
		var start, count int
		if err := rows.Scan(&start, &count); err != nil {
			return nil, fmt.Errorf("scan start time count: %w", err)
		}
		result = append(result, StartTimeCount{Start: calendar.Clock(start), Count: count})
	}
	return result, rows.Err()
}

func (r *PgRepository) ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, changed_by, changed_by_role, change_type,
		       old_status, new_status, old_slot_id, new_slot_id, note, recorded_at
		FROM appointment_history
		WHERE appointment_id = $1
		ORDER BY recorded_at DESC, id DESC
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("query appointment history: %w", err)
	}
	defer rows.Close()

	var result []HistoryEntry
	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

func (r *PgRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (t *pgTx) LockDoctorDay(ctx context.Context, doctorID uuid.UUID, date calendar.Date) error {
	_, err := t.tx.Exec(ctx, `
		SELECT pg_advisory_xact_lock(hashtextextended($1::text || '/' || $2::text, 0))
	`, doctorID.String(), date.String())
	if err != nil {
		return fmt.Errorf("lock doctor day: %w", err)
	}
	return nil
}

func (t *pgTx) LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, appointmentSelect+`WHERE a.id = $1 FOR UPDATE OF a`, id)
	return scanAppointment(row)
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, slot_id, consultation_type, status, priority,
			reason_for_visit, symptoms, contact_phone, patient_notes, doctor_notes,
			created_by, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())
		RETURNING created_at, updated_at
	`,
		a.ID, a.PatientID, a.DoctorID, a.SlotID, a.ConsultationType, a.Status, a.Priority,
		a.ReasonForVisit, a.Symptoms, a.ContactPhone, a.PatientNotes, a.DoctorNotes, a.CreatedBy,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: slot %s already has a live appointment", apperr.ErrSlotUnavailable, a.SlotID)
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateAppointment(ctx context.Context, a *Appointment) error {
	err := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET slot_id = $2,
		    status = $3,
		    doctor_notes = $4,
		    updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, a.ID, a.SlotID, a.Status, a.DoctorNotes).Scan(&a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: appointment %s", apperr.ErrNotFound, a.ID)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: slot %s already has a live appointment", apperr.ErrSlotUnavailable, a.SlotID)
		}
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

func (t *pgTx) AppendHistory(ctx context.Context, e *HistoryEntry) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointment_history (
			appointment_id, changed_by, changed_by_role, change_type,
			old_status, new_status, old_slot_id, new_slot_id, note, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`,
		e.AppointmentID, e.ChangedBy, e.ChangedByRole, e.ChangeType,
		e.OldStatus, e.NewStatus, e.OldSlotID, e.NewSlotID, e.Note, e.RecordedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert appointment history: %w", err)
	}
	return nil
}
