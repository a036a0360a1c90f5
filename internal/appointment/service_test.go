package appointment

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/lock"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

// 2026-10-19 is a Monday.
var start = time.Date(2026, time.October, 19, 8, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// allowAll lets every caller through, leaving exclusivity to the
// repository alone.
type allowAll struct{}

func (allowAll) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	svc     *Service
	repo    Repository
	rules   *availability.MemoryRuleStore
	clock   *testClock
	doctor  uuid.UUID
	patient uuid.UUID
}

type option func(*Deps)

func withLocker(l lock.Locker) option { return func(d *Deps) { d.Locker = l } }

func withPolicy(p Policy) option { return func(d *Deps) { d.Policy = p } }

func withRepo(r Repository) option { return func(d *Deps) { d.Repo = r } }

func withCandidates(c CandidateSource) option { return func(d *Deps) { d.Candidates = c } }

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	clock := &testClock{now: start}
	f := &fixture{
		rules:   availability.NewMemoryRuleStore(clock.Now),
		clock:   clock,
		doctor:  uuid.New(),
		patient: uuid.New(),
	}

	// open around the clock, every day, in 30 minute slots
	rules := make([]availability.WeeklyRule, 0, 7)
	for d := calendar.Monday; d <= calendar.Sunday; d++ {
		morning := calendar.NewWindow(0, calendar.NewClock(12, 0))
		afternoon := calendar.NewWindow(calendar.NewClock(12, 0), calendar.MinutesPerDay)
		rules = append(rules, availability.WeeklyRule{
			DayOfWeek: d, IsAvailable: true, Morning: &morning, Afternoon: &afternoon, SlotDurationMinutes: 30,
		})
	}
	require.NoError(t, f.rules.ReplaceWeeklyRules(context.Background(), f.doctor, rules))

	deps := Deps{
		Repo:       NewMemoryRepository(clock.Now),
		Candidates: availability.NewResolver(f.rules),
		Locker:     lock.NewLocalLocker(),
		Logger:     zap.NewNop(),
		Now:        f.clock.Now,
		Location:   time.UTC,
		Policy:     DefaultPolicy(),
	}
	for _, o := range opts {
		o(&deps)
	}
	f.repo = deps.Repo
	f.svc = NewService(deps)
	return f
}

func (f *fixture) patientActor() Actor { return Actor{ID: f.patient, Role: RolePatient} }
func (f *fixture) doctorActor() Actor  { return Actor{ID: f.doctor, Role: RoleDoctor} }

var admin = Actor{ID: uuid.New(), Role: RoleAdmin}

// at returns the booking request for the slot starting in d from the
// fixture's start time.
func (f *fixture) at(patient uuid.UUID, d time.Duration) BookRequest {
	t := start.Add(d)
	c := calendar.NewClock(t.Hour(), t.Minute())
	return BookRequest{
		PatientID: patient,
		DoctorID:  f.doctor,
		Date:      calendar.DateOf(t),
		Start:     c,
		End:       c.Add(30),
		Details:   Details{ReasonForVisit: "persistent cough"},
	}
}

func (f *fixture) book(t *testing.T, d time.Duration) *Appointment {
	t.Helper()
	appt, err := f.svc.Book(context.Background(), f.patientActor(), f.at(f.patient, d))
	require.NoError(t, err)
	return appt
}

func (f *fixture) slotState(t *testing.T, id uuid.UUID) slot.State {
	t.Helper()
	s, err := f.repo.GetSlot(context.Background(), id)
	require.NoError(t, err)
	return s.State
}

func (f *fixture) history(t *testing.T, id uuid.UUID) []HistoryEntry {
	t.Helper()
	entries, err := f.svc.GetAppointmentHistory(context.Background(), admin, id)
	require.NoError(t, err)
	return entries
}

func TestBook(t *testing.T) {
	f := newFixture(t)

	appt := f.book(t, 48*time.Hour)

	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, ConsultationGeneral, appt.ConsultationType)
	assert.Equal(t, PriorityMedium, appt.Priority)
	assert.Equal(t, f.patient, appt.CreatedBy)
	assert.Equal(t, calendar.NewDate(2026, time.October, 21), appt.Date)
	assert.Equal(t, calendar.NewClock(8, 0), appt.Start)
	assert.Equal(t, slot.Held, f.slotState(t, appt.SlotID))

	entries := f.history(t, appt.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, ChangeCreated, entries[0].ChangeType)
	assert.Nil(t, entries[0].OldStatus)
	assert.Equal(t, StatusScheduled, *entries[0].NewStatus)
	assert.Equal(t, start, entries[0].RecordedAt)
}

func TestBook_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		actor  Actor
		mutate func(*BookRequest)
		want   error
		fields []string
	}{
		{
			name:   "patient equals doctor",
			actor:  admin,
			mutate: func(r *BookRequest) { r.PatientID = r.DoctorID },
			want:   apperr.ErrValidation,
			fields: []string{"patient_id"},
		},
		{
			name:   "missing reason and bad phone",
			actor:  f.patientActor(),
			mutate: func(r *BookRequest) { r.ReasonForVisit = "  "; r.ContactPhone = "12-34" },
			want:   apperr.ErrValidation,
			fields: []string{"reason_for_visit", "contact_phone"},
		},
		{
			name:   "unknown enums",
			actor:  f.patientActor(),
			mutate: func(r *BookRequest) { r.ConsultationType = "spa"; r.Priority = "whenever" },
			want:   apperr.ErrValidation,
			fields: []string{"consultation_type", "priority"},
		},
		{
			name:   "inverted interval",
			actor:  f.patientActor(),
			mutate: func(r *BookRequest) { r.End = r.Start },
			want:   apperr.ErrValidation,
			fields: []string{"end_time"},
		},
		{
			name:   "patient booking for someone else",
			actor:  Actor{ID: uuid.New(), Role: RolePatient},
			mutate: func(*BookRequest) {},
			want:   apperr.ErrForbidden,
		},
		{
			name:   "slot not on the grid",
			actor:  f.patientActor(),
			mutate: func(r *BookRequest) { r.Start = r.Start.Add(15); r.End = r.End.Add(15) },
			want:   apperr.ErrSlotUnavailable,
		},
		{
			name:  "slot already started",
			actor: f.patientActor(),
			mutate: func(r *BookRequest) {
				r.Date = calendar.DateOf(start)
				r.Start = calendar.NewClock(8, 0)
				r.End = calendar.NewClock(8, 30)
			},
			want: apperr.ErrPastSlot,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := f.at(f.patient, 48*time.Hour)
			c.mutate(&req)
			_, err := f.svc.Book(ctx, c.actor, req)
			require.Error(t, err)
			assert.ErrorIs(t, err, c.want)
			if c.fields != nil {
				var got []string
				for _, fe := range apperr.FieldsOf(err) {
					got = append(got, fe.Field)
				}
				assert.ElementsMatch(t, c.fields, got)
			}
		})
	}

	held, err := f.repo.ListSlots(ctx, f.doctor, calendar.DateOf(start), calendar.DateOf(start).AddDays(7), slot.Held)
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestBook_Exclusive(t *testing.T) {
	checkBookExclusive(t, func() Repository { return NewMemoryRepository(nil) })
}

func checkBookExclusive(t *testing.T, newRepo func() Repository) {
	lockers := map[string]lock.Locker{
		"local locker":     lock.NewLocalLocker(),
		"compare and swap": allowAll{},
	}

	for name, l := range lockers {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, withLocker(l), withRepo(newRepo()))
			const n = 20

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
				conflicts int
			)
			ready := make(chan struct{})
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-ready
					_, err := f.svc.Book(context.Background(), admin, f.at(uuid.New(), 48*time.Hour))
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						successes++
					case errors.Is(err, apperr.ErrSlotUnavailable):
						conflicts++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			close(ready)
			wg.Wait()

			assert.Equal(t, 1, successes)
			assert.Equal(t, n-1, conflicts)

			list, err := f.svc.List(context.Background(), admin, ListFilter{DoctorID: &f.doctor})
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestBook_RollsBackOnFailure(t *testing.T) {
	checkBookRollsBackOnFailure(t, NewMemoryRepository(nil))
}

func checkBookRollsBackOnFailure(t *testing.T, repo Repository) {
	t.Helper()
	f := newFixture(t, withRepo(failingHistoryRepo{repo}))

	_, err := f.svc.Book(context.Background(), f.patientActor(), f.at(f.patient, 48*time.Hour))
	require.Error(t, err)
	assert.False(t, apperr.Known(err))

	date := calendar.DateOf(start.Add(48 * time.Hour))
	slots, err := repo.ListSlots(context.Background(), f.doctor, date, date, "")
	require.NoError(t, err)
	assert.Empty(t, slots, "the slot created inside the failed transaction is gone")

	list, err := repo.ListAppointments(context.Background(), ListFilter{PatientID: &f.patient})
	require.NoError(t, err)
	assert.Empty(t, list)
}

type failingHistoryTx struct{ Tx }

func (failingHistoryTx) AppendHistory(context.Context, *HistoryEntry) error {
	return errors.New("disk full")
}

type failingHistoryRepo struct{ Repository }

func (r failingHistoryRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return r.Repository.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, failingHistoryTx{tx})
	})
}

func TestCancel_Window(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	far := f.book(t, 48*time.Hour)
	cancelled, err := f.svc.Cancel(ctx, f.patientActor(), far.ID, "feeling better")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, slot.Free, f.slotState(t, far.SlotID))

	entries := f.history(t, far.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, ChangeCancelled, entries[0].ChangeType)
	assert.Equal(t, "feeling better", entries[0].Note)
	assert.Equal(t, StatusScheduled, *entries[0].OldStatus)

	near := f.book(t, 10*time.Hour)
	_, err = f.svc.Cancel(ctx, f.patientActor(), near.ID, "")
	assert.ErrorIs(t, err, apperr.ErrCancellationWindowExpired)

	still, err := f.svc.GetAppointment(ctx, f.patientActor(), near.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, still.Status)
	assert.Equal(t, slot.Held, f.slotState(t, near.SlotID))
	assert.Len(t, f.history(t, near.ID), 1)
}

func TestCancel_WindowBoundary(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, 24*time.Hour)

	_, err := f.svc.Cancel(context.Background(), f.patientActor(), appt.ID, "")
	assert.ErrorIs(t, err, apperr.ErrCancellationWindowExpired, "exactly 24h ahead is too late")
}

func TestCancel_Permissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, 72*time.Hour)

	_, err := f.svc.Cancel(ctx, Actor{ID: uuid.New(), Role: RolePatient}, appt.ID, "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.Cancel(ctx, Actor{ID: uuid.New(), Role: RoleDoctor}, appt.ID, "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.Cancel(ctx, f.doctorActor(), appt.ID, "")
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, admin, appt.ID, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.svc.Cancel(ctx, admin, uuid.New(), "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCancel_FreesSlotForOthers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := uuid.New()

	first := f.book(t, 48*time.Hour)
	_, err := f.svc.Book(ctx, Actor{ID: other, Role: RolePatient}, f.at(other, 48*time.Hour))
	require.ErrorIs(t, err, apperr.ErrSlotUnavailable)

	_, err = f.svc.Cancel(ctx, f.patientActor(), first.ID, "")
	require.NoError(t, err)

	second, err := f.svc.Book(ctx, Actor{ID: other, Role: RolePatient}, f.at(other, 48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first.SlotID, second.SlotID, "the slot row is reused, not recreated")
	assert.Equal(t, slot.Held, f.slotState(t, second.SlotID))
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, 48*time.Hour)
	_, err := f.svc.UpdateStatus(ctx, f.patientActor(), appt.ID, StatusConfirmed, "")
	require.NoError(t, err)

	target := f.at(f.patient, 50*time.Hour)
	moved, err := f.svc.Reschedule(ctx, f.patientActor(), appt.ID, RescheduleRequest{
		Date: target.Date, Start: target.Start, End: target.End,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusScheduled, moved.Status)
	assert.Equal(t, calendar.NewClock(10, 0), moved.Start)
	assert.NotEqual(t, appt.SlotID, moved.SlotID)
	assert.Equal(t, slot.Free, f.slotState(t, appt.SlotID))
	assert.Equal(t, slot.Held, f.slotState(t, moved.SlotID))

	entries := f.history(t, appt.ID)
	require.Len(t, entries, 3)
	last := entries[0]
	assert.Equal(t, ChangeRescheduled, last.ChangeType)
	assert.Equal(t, StatusConfirmed, *last.OldStatus)
	assert.Equal(t, StatusScheduled, *last.NewStatus)
	assert.Equal(t, appt.SlotID, *last.OldSlotID)
	assert.Equal(t, moved.SlotID, *last.NewSlotID)
	assert.Contains(t, last.Note, "rescheduled from 2026-10-21 08:00 to 2026-10-21 10:00")
}

func TestReschedule_ToHeldSlotLeavesEverythingUntouched(t *testing.T) {
	checkRescheduleToHeldSlot(t)
}

func checkRescheduleToHeldSlot(t *testing.T, opts ...option) {
	f := newFixture(t, opts...)
	ctx := context.Background()
	other := uuid.New()

	mine := f.book(t, 48*time.Hour)
	theirs, err := f.svc.Book(ctx, admin, f.at(other, 49*time.Hour))
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, f.patientActor(), mine.ID, RescheduleRequest{
		Date: theirs.Date, Start: theirs.Start, End: theirs.End,
	})
	require.ErrorIs(t, err, apperr.ErrSlotUnavailable)
	assert.True(t, apperr.Retryable(err))

	after, err := f.svc.GetAppointment(ctx, f.patientActor(), mine.ID)
	require.NoError(t, err)
	assert.Equal(t, mine.SlotID, after.SlotID)
	assert.Equal(t, mine.Start, after.Start)
	assert.Equal(t, StatusScheduled, after.Status)
	assert.Equal(t, slot.Held, f.slotState(t, mine.SlotID))
	assert.Len(t, f.history(t, mine.ID), 1)

	theirsAfter, err := f.svc.GetAppointment(ctx, admin, theirs.ID)
	require.NoError(t, err)
	assert.Equal(t, theirs.SlotID, theirsAfter.SlotID)
}

func TestReschedule_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, 48*time.Hour)
	target := f.at(f.patient, 52*time.Hour)

	_, err := f.svc.Reschedule(ctx, f.patientActor(), appt.ID, RescheduleRequest{
		DoctorID: uuid.New(), Date: target.Date, Start: target.Start, End: target.End,
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.Reschedule(ctx, Actor{ID: uuid.New(), Role: RolePatient}, appt.ID, RescheduleRequest{
		Date: target.Date, Start: target.Start, End: target.End,
	})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	past := calendar.DateOf(start).AddDays(-1)
	_, err = f.svc.Reschedule(ctx, f.patientActor(), appt.ID, RescheduleRequest{
		Date: past, Start: target.Start, End: target.End,
	})
	assert.ErrorIs(t, err, apperr.ErrPastSlot)

	_, err = f.svc.Reschedule(ctx, f.patientActor(), appt.ID, RescheduleRequest{
		Date: appt.Date, Start: appt.Start, End: appt.End,
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.Cancel(ctx, f.patientActor(), appt.ID, "")
	require.NoError(t, err)
	_, err = f.svc.Reschedule(ctx, f.patientActor(), appt.ID, RescheduleRequest{
		Date: target.Date, Start: target.Start, End: target.End,
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	assert.Equal(t, slot.Free, f.slotState(t, appt.SlotID))
}

func TestLifecycle_HistoryCompleteness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, 48*time.Hour)

	f.clock.Advance(time.Minute)
	_, err := f.svc.UpdateStatus(ctx, f.patientActor(), appt.ID, StatusConfirmed, "")
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)
	_, err = f.svc.UpdateStatus(ctx, f.doctorActor(), appt.ID, StatusInProgress, "")
	require.NoError(t, err)

	f.clock.Advance(20 * time.Minute)
	done, err := f.svc.Complete(ctx, f.doctorActor(), appt.ID, "prescribed rest")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, "prescribed rest", done.DoctorNotes)

	entries := f.history(t, appt.ID)
	require.Len(t, entries, 4)

	// read newest first; walk it oldest first
	want := []struct {
		change   ChangeType
		old, new Status
	}{
		{ChangeCreated, "", StatusScheduled},
		{ChangeUpdated, StatusScheduled, StatusConfirmed},
		{ChangeUpdated, StatusConfirmed, StatusInProgress},
		{ChangeCompleted, StatusInProgress, StatusCompleted},
	}
	for i, w := range want {
		e := entries[len(entries)-1-i]
		assert.Equal(t, w.change, e.ChangeType, "entry %d", i)
		if w.old == "" {
			assert.Nil(t, e.OldStatus)
		} else {
			require.NotNil(t, e.OldStatus)
			assert.Equal(t, w.old, *e.OldStatus, "entry %d", i)
		}
		assert.Equal(t, w.new, *e.NewStatus, "entry %d", i)
		if i > 0 {
			assert.True(t, e.RecordedAt.After(entries[len(entries)-i].RecordedAt), "entry %d is later than its predecessor", i)
		}
	}
}

func TestComplete(t *testing.T) {
	ctx := context.Background()

	t.Run("only the assigned doctor", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t, 48*time.Hour)
		_, err := f.svc.UpdateStatus(ctx, admin, appt.ID, StatusConfirmed, "")
		require.NoError(t, err)
		_, err = f.svc.UpdateStatus(ctx, admin, appt.ID, StatusInProgress, "")
		require.NoError(t, err)

		for _, actor := range []Actor{f.patientActor(), admin, {ID: uuid.New(), Role: RoleDoctor}, {ID: f.doctor, Role: RolePatient}} {
			_, err = f.svc.Complete(ctx, actor, appt.ID, "")
			assert.ErrorIs(t, err, apperr.ErrForbidden, "%s %s", actor.Role, actor.ID)
		}
		_, err = f.svc.Complete(ctx, f.doctorActor(), appt.ID, "")
		assert.NoError(t, err)
	})

	t.Run("requires in progress", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t, 48*time.Hour)

		_, err := f.svc.Complete(ctx, f.doctorActor(), appt.ID, "")
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
		assert.Len(t, f.history(t, appt.ID), 1)
	})

	t.Run("direct completion when allowed", func(t *testing.T) {
		p := DefaultPolicy()
		p.AllowDirectCompletion = true
		f := newFixture(t, withPolicy(p))
		appt := f.book(t, 48*time.Hour)

		done, err := f.svc.Complete(ctx, f.doctorActor(), appt.ID, "")
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, done.Status)
	})
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("patient may only confirm", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t, 48*time.Hour)

		_, err := f.svc.UpdateStatus(ctx, f.patientActor(), appt.ID, StatusNoShow, "")
		assert.ErrorIs(t, err, apperr.ErrForbidden)
		_, err = f.svc.UpdateStatus(ctx, f.patientActor(), appt.ID, StatusConfirmed, "")
		assert.NoError(t, err)
	})

	t.Run("unknown and illegal targets", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t, 48*time.Hour)

		_, err := f.svc.UpdateStatus(ctx, admin, appt.ID, "archived", "")
		assert.ErrorIs(t, err, apperr.ErrValidation)
		_, err = f.svc.UpdateStatus(ctx, admin, appt.ID, StatusInProgress, "")
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
		_, err = f.svc.UpdateStatus(ctx, admin, appt.ID, StatusScheduled, "")
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	})

	t.Run("back to scheduled only before the slot", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t, 48*time.Hour)
		_, err := f.svc.UpdateStatus(ctx, admin, appt.ID, StatusConfirmed, "")
		require.NoError(t, err)

		_, err = f.svc.UpdateStatus(ctx, admin, appt.ID, StatusScheduled, "")
		require.NoError(t, err)
		_, err = f.svc.UpdateStatus(ctx, admin, appt.ID, StatusConfirmed, "")
		require.NoError(t, err)

		f.clock.Advance(49 * time.Hour)
		_, err = f.svc.UpdateStatus(ctx, admin, appt.ID, StatusScheduled, "")
		assert.ErrorIs(t, err, apperr.ErrPastSlot)
	})

	t.Run("administrative cancel ignores the window and frees the slot", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t, 2*time.Hour)

		cancelled, err := f.svc.UpdateStatus(ctx, admin, appt.ID, StatusCancelled, "")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, cancelled.Status)
		assert.Equal(t, slot.Free, f.slotState(t, appt.SlotID))
		assert.Equal(t, ChangeCancelled, f.history(t, appt.ID)[0].ChangeType)
	})

	t.Run("no show keeps the slot held", func(t *testing.T) {
		f := newFixture(t)
		appt := f.book(t, 2*time.Hour)

		_, err := f.svc.UpdateStatus(ctx, f.doctorActor(), appt.ID, StatusNoShow, "")
		require.NoError(t, err)
		assert.Equal(t, slot.Held, f.slotState(t, appt.SlotID))
	})
}

func TestBulkUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.book(t, 48*time.Hour)
	b := f.book(t, 49*time.Hour)
	c := f.book(t, 50*time.Hour)
	_, err := f.svc.Cancel(ctx, f.patientActor(), c.ID, "")
	require.NoError(t, err)
	missing := uuid.New()

	results, err := f.svc.BulkUpdateStatus(ctx, admin, []uuid.UUID{a.ID, b.ID, a.ID, c.ID, missing}, StatusConfirmed, "")
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, StatusConfirmed, results[0].Appointment.Status)
	assert.NoError(t, results[1].Err)
	assert.ErrorIs(t, results[2].Err, apperr.ErrInvalidTransition)
	assert.ErrorIs(t, results[3].Err, apperr.ErrNotFound)

	assert.Len(t, f.history(t, a.ID), 2)
	assert.Len(t, f.history(t, b.ID), 2)
	assert.Len(t, f.history(t, c.ID), 2)

	_, err = f.svc.BulkUpdateStatus(ctx, f.patientActor(), []uuid.UUID{a.ID}, StatusConfirmed, "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.BulkUpdateStatus(ctx, admin, nil, StatusConfirmed, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestGetAvailableSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	today := calendar.DateOf(start)

	got, err := f.svc.GetAvailableSlots(ctx, f.doctor, today, today)
	require.NoError(t, err)
	require.Len(t, got, 31, "08:30 through 23:30")
	assert.Equal(t, calendar.NewClock(8, 30), got[0].Start)

	again, err := f.svc.GetAvailableSlots(ctx, f.doctor, today, today)
	require.NoError(t, err)
	assert.Equal(t, got, again)

	appt := f.book(t, 2*time.Hour)
	after, err := f.svc.GetAvailableSlots(ctx, f.doctor, today, today)
	require.NoError(t, err)
	assert.Len(t, after, 30)
	for _, c := range after {
		assert.NotEqual(t, appt.Start, c.Start)
	}

	slots, err := f.repo.ListSlots(ctx, f.doctor, today, today, "")
	require.NoError(t, err)
	assert.Len(t, slots, 1, "listing availability materialises nothing")
}

func TestGetAvailableSlots_HidesOverlapsWithHeldSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tomorrow := calendar.DateOf(start).AddDays(1)

	appt := f.book(t, 26*time.Hour) // 10:00-10:30 tomorrow

	// the doctor switches tomorrow to 45 minute slots
	morning := calendar.NewWindow(calendar.NewClock(9, 0), calendar.NewClock(12, 0))
	_, err := f.rules.UpsertExceptionalSchedule(ctx, availability.ExceptionalSchedule{
		DoctorID: f.doctor, Date: tomorrow, Morning: &morning, SlotDurationMinutes: 45,
	})
	require.NoError(t, err)

	got, err := f.svc.GetAvailableSlots(ctx, f.doctor, tomorrow, tomorrow)
	require.NoError(t, err)
	var starts []string
	for _, c := range got {
		starts = append(starts, c.Start.String())
	}
	assert.Equal(t, []string{"09:00", "10:30", "11:15"}, starts)

	_, err = f.svc.Book(ctx, admin, BookRequest{
		PatientID: uuid.New(), DoctorID: f.doctor, Date: tomorrow,
		Start: calendar.NewClock(9, 45), End: calendar.NewClock(10, 30),
		Details: Details{ReasonForVisit: "checkup"},
	})
	assert.ErrorIs(t, err, apperr.ErrSlotUnavailable)
	assert.Equal(t, slot.Held, f.slotState(t, appt.SlotID))
}

func TestGetAvailableSlots_Range(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	today := calendar.DateOf(start)

	_, err := f.svc.GetAvailableSlots(ctx, f.doctor, today, today.AddDays(-1))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.GetAvailableSlots(ctx, f.doctor, today, today.AddDays(92))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.GetAvailableSlots(ctx, f.doctor, today, today.AddDays(91))
	assert.NoError(t, err)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		f.book(t, time.Duration(48+i)*time.Hour)
	}

	// without a participant filter a patient lists their own appointments
	page, err := f.svc.List(ctx, f.patientActor(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, page, 20)
	assert.True(t, page[0].StartsAt(time.UTC).After(page[1].StartsAt(time.UTC)), "most recent first")

	rest, err := f.svc.List(ctx, f.patientActor(), ListFilter{PatientID: &f.patient, Offset: 20, Limit: 500})
	require.NoError(t, err)
	assert.Len(t, rest, 5)

	withDoctor, err := f.svc.List(ctx, f.patientActor(), ListFilter{DoctorID: &f.doctor, Limit: 100})
	require.NoError(t, err)
	assert.Len(t, withDoctor, 25)

	stranger := uuid.New()
	_, err = f.svc.List(ctx, f.patientActor(), ListFilter{PatientID: &stranger})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.List(ctx, f.doctorActor(), ListFilter{DoctorID: &stranger})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.List(ctx, Actor{ID: f.patient, Role: "nurse"}, ListFilter{})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	mine, err := f.svc.List(ctx, f.doctorActor(), ListFilter{Statuses: []Status{StatusScheduled}, Limit: 100})
	require.NoError(t, err)
	assert.Len(t, mine, 25)

	_, err = f.svc.List(ctx, f.doctorActor(), ListFilter{Statuses: []Status{"booked"}})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	today := calendar.DateOf(start)
	_, err = f.svc.List(ctx, admin, ListFilter{From: today, To: today.AddDays(-1)})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestList_Filters(t *testing.T) {
	checkListFilters(t)
}

func checkListFilters(t *testing.T, opts ...option) {
	f := newFixture(t, opts...)
	ctx := context.Background()
	day2 := calendar.DateOf(start).AddDays(2)

	a := f.book(t, 48*time.Hour)
	b := f.book(t, 50*time.Hour)
	c := f.book(t, 73*time.Hour)
	_, err := f.svc.Cancel(ctx, f.patientActor(), b.ID, "")
	require.NoError(t, err)

	ids := func(list []Appointment) []uuid.UUID {
		out := make([]uuid.UUID, 0, len(list))
		for _, appt := range list {
			out = append(out, appt.ID)
		}
		return out
	}

	list, err := f.svc.List(ctx, f.patientActor(), ListFilter{Statuses: []Status{StatusCancelled}})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID}, ids(list))

	list, err = f.svc.List(ctx, f.patientActor(), ListFilter{Statuses: []Status{StatusScheduled, StatusCancelled}, Ascending: true})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID}, ids(list))

	list, err = f.svc.List(ctx, f.doctorActor(), ListFilter{From: day2.AddDays(1), To: day2.AddDays(1)})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{c.ID}, ids(list))

	list, err = f.svc.List(ctx, f.doctorActor(), ListFilter{To: day2})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID, a.ID}, ids(list))

	list, err = f.svc.List(ctx, admin, ListFilter{DoctorID: &f.doctor, From: day2, Statuses: []Status{StatusScheduled}})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{c.ID, a.ID}, ids(list))
}

func TestList_AdminSeesClinic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, 48*time.Hour)
	_, err := f.svc.Book(ctx, admin, f.at(uuid.New(), 49*time.Hour))
	require.NoError(t, err)

	all, err := f.svc.List(ctx, admin, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	own, err := f.svc.List(ctx, f.patientActor(), ListFilter{})
	require.NoError(t, err)
	assert.Len(t, own, 1)
}

// seedStats books four appointments for the fixture patient and one for
// another patient:
//
//	2026-09-21 08:00 completed
//	2026-10-19 10:00 scheduled (today)
//	2026-10-21 08:00 cancelled
//	2026-10-21 09:00 confirmed
//	2026-10-22 08:00 scheduled, other patient
func seedStats(t *testing.T, f *fixture) (today, confirmed *Appointment) {
	t.Helper()
	ctx := context.Background()

	f.clock.Advance(-30 * 24 * time.Hour)
	past, err := f.svc.Book(ctx, f.patientActor(), f.at(f.patient, -28*24*time.Hour))
	require.NoError(t, err)
	f.clock.Advance(30 * 24 * time.Hour)
	for _, to := range []Status{StatusConfirmed, StatusInProgress} {
		_, err = f.svc.UpdateStatus(ctx, f.doctorActor(), past.ID, to, "")
		require.NoError(t, err)
	}
	_, err = f.svc.Complete(ctx, f.doctorActor(), past.ID, "")
	require.NoError(t, err)

	today = f.book(t, 2*time.Hour)
	cancelled := f.book(t, 48*time.Hour)
	_, err = f.svc.Cancel(ctx, f.patientActor(), cancelled.ID, "")
	require.NoError(t, err)
	confirmed = f.book(t, 49*time.Hour)
	_, err = f.svc.UpdateStatus(ctx, f.patientActor(), confirmed.ID, StatusConfirmed, "")
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, admin, f.at(uuid.New(), 72*time.Hour))
	require.NoError(t, err)
	return today, confirmed
}

func TestUpcomingAndToday(t *testing.T) {
	checkUpcomingAndToday(t)
}

func checkUpcomingAndToday(t *testing.T, opts ...option) {
	f := newFixture(t, opts...)
	ctx := context.Background()
	today, confirmed := seedStats(t, f)

	upcoming, err := f.svc.Upcoming(ctx, f.patientActor(), 0)
	require.NoError(t, err)
	require.Len(t, upcoming, 2)
	assert.Equal(t, today.ID, upcoming[0].ID)
	assert.Equal(t, confirmed.ID, upcoming[1].ID)

	upcoming, err = f.svc.Upcoming(ctx, f.doctorActor(), 0)
	require.NoError(t, err)
	assert.Len(t, upcoming, 3)

	upcoming, err = f.svc.Upcoming(ctx, f.doctorActor(), 1)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, today.ID, upcoming[0].ID)

	list, err := f.svc.Today(ctx, f.doctorActor())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, today.ID, list[0].ID)
}

func TestUpcoming_DefaultLimitByRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		f.book(t, time.Duration(48+i)*time.Hour)
	}

	patient, err := f.svc.Upcoming(ctx, f.patientActor(), 0)
	require.NoError(t, err)
	assert.Len(t, patient, 5)

	doctor, err := f.svc.Upcoming(ctx, f.doctorActor(), 0)
	require.NoError(t, err)
	assert.Len(t, doctor, 10)
	assert.True(t, doctor[0].StartsAt(time.UTC).Before(doctor[1].StartsAt(time.UTC)), "earliest first")
}

func TestStats(t *testing.T) {
	f := checkStats(t)

	clinic, err := f.svc.Stats(context.Background(), admin)
	require.NoError(t, err)
	assert.Equal(t, 5, clinic.Total)
	assert.NotEmpty(t, clinic.PopularStartTimes)
}

func checkStats(t *testing.T, opts ...option) *fixture {
	f := newFixture(t, opts...)
	ctx := context.Background()
	seedStats(t, f)

	patient, err := f.svc.Stats(ctx, f.patientActor())
	require.NoError(t, err)
	assert.Equal(t, Stats{
		Total: 4, Scheduled: 1, Completed: 1, Cancelled: 1,
		Today: 1, Upcoming: 2, ThisMonth: 3, LastMonth: 1,
	}, *patient)

	doctor, err := f.svc.Stats(ctx, f.doctorActor())
	require.NoError(t, err)
	assert.Equal(t, Stats{
		Total: 5, Scheduled: 2, Completed: 1, Cancelled: 1,
		Today: 1, Upcoming: 3, ThisMonth: 4, LastMonth: 1,
		PopularStartTimes: []StartTimeCount{
			{Start: calendar.NewClock(8, 0), Count: 3},
			{Start: calendar.NewClock(9, 0), Count: 1},
			{Start: calendar.NewClock(10, 0), Count: 1},
		},
	}, *doctor)

	_, err = f.svc.Stats(ctx, Actor{ID: uuid.New(), Role: "nurse"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	return f
}

// anyInterval offers whatever interval is asked for, as if the doctor's
// slot grid changed between two bookings.
type anyInterval struct{}

func (anyInterval) Candidates(context.Context, uuid.UUID, calendar.Date, calendar.Date) (iter.Seq[availability.Candidate], error) {
	return func(func(availability.Candidate) bool) {}, nil
}

func (anyInterval) Lookup(_ context.Context, doctorID uuid.UUID, date calendar.Date, start, end calendar.Clock) (availability.Candidate, bool, error) {
	return availability.Candidate{DoctorID: doctorID, Date: date, Start: start, End: end, DurationMinutes: int(end - start)}, true, nil
}

func TestBook_OverlappingKeysAreExclusive(t *testing.T) {
	checkOverlappingKeysExclusive(t)
}

// checkOverlappingKeysExclusive races bookings of 09:00-09:30 and
// 09:15-09:45; the lock is per slot key so only the repository keeps them
// apart.
func checkOverlappingKeysExclusive(t *testing.T, opts ...option) {
	for round := 0; round < 5; round++ {
		f := newFixture(t, append([]option{withCandidates(anyInterval{}), withLocker(allowAll{})}, opts...)...)
		date := calendar.DateOf(start).AddDays(2)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		ready := make(chan struct{})
		for i := 0; i < 10; i++ {
			begin := calendar.NewClock(9, 15*(i%2))
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-ready
				req := BookRequest{
					PatientID: uuid.New(), DoctorID: f.doctor, Date: date,
					Start: begin, End: begin.Add(30),
					Details: Details{ReasonForVisit: "follow-up"},
				}
				_, err := f.svc.Book(context.Background(), admin, req)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case !errors.Is(err, apperr.ErrSlotUnavailable):
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		close(ready)
		wg.Wait()

		require.Equal(t, 1, successes, "round %d", round)
		held, err := f.repo.ListSlots(context.Background(), f.doctor, date, date, slot.Held)
		require.NoError(t, err)
		assert.Len(t, held, 1)
	}
}

func TestMemoryRepository_StampsWithInjectedClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, 48*time.Hour)
	assert.Equal(t, start, appt.CreatedAt)
	assert.Equal(t, start, appt.UpdatedAt)
	sl, err := f.repo.GetSlot(ctx, appt.SlotID)
	require.NoError(t, err)
	assert.Equal(t, start, sl.CreatedAt)

	f.clock.Advance(time.Hour)
	cancelled, err := f.svc.Cancel(ctx, f.patientActor(), appt.ID, "")
	require.NoError(t, err)
	assert.Equal(t, start.Add(time.Hour), cancelled.UpdatedAt)

	stored, err := f.repo.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, start, stored.CreatedAt)
	assert.Equal(t, start.Add(time.Hour), stored.UpdatedAt)

	sl, err = f.repo.GetSlot(ctx, appt.SlotID)
	require.NoError(t, err)
	assert.Equal(t, start.Add(time.Hour), sl.UpdatedAt)
}

func TestGetAppointment_Permissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, 48*time.Hour)

	for _, actor := range []Actor{f.patientActor(), f.doctorActor(), admin} {
		_, err := f.svc.GetAppointment(ctx, actor, appt.ID)
		assert.NoError(t, err, fmt.Sprint(actor.Role))
	}
	_, err := f.svc.GetAppointmentHistory(ctx, Actor{ID: uuid.New(), Role: RoleDoctor}, appt.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}
