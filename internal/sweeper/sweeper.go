// Package sweeper keeps the slot table in step with the doctors' rules:
// it materialises upcoming candidates as free slots and drops free slots
// whose date has passed.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

type DoctorLister interface {
	DoctorsWithRules(ctx context.Context) ([]uuid.UUID, error)
}

type CandidateSource interface {
	Candidates(ctx context.Context, doctorID uuid.UUID, from, to calendar.Date) (iter.Seq[availability.Candidate], error)
}

type Sweeper struct {
	doctors    DoctorLister
	candidates CandidateSource
	slots      slot.Repository
	alloc      *slot.Allocator
	now        func() time.Time
	loc        *time.Location
	horizon    int
	log        *zap.Logger
}

// New builds a sweeper that looks horizonDays ahead, today included.
func New(doctors DoctorLister, candidates CandidateSource, slots slot.Repository, now func() time.Time, loc *time.Location, horizonDays int, log *zap.Logger) *Sweeper {
	if horizonDays < 1 {
		horizonDays = 1
	}
	return &Sweeper{
		doctors:    doctors,
		candidates: candidates,
		slots:      slots,
		alloc:      slot.NewAllocator(now, loc),
		now:        now,
		loc:        loc,
		horizon:    horizonDays,
		log:        log,
	}
}

// Result summarises one sweep.
type Result struct {
	Doctors      int
	Materialised int
	// Conflicts counts candidates whose key is held with other bounds, left
	// untouched until the appointment moves.
	Conflicts int
	Deleted   int64
}

// RunOnce sweeps every doctor. A failure for one doctor is logged and
// reported but does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	now := s.now()
	today := calendar.DateOf(now.In(s.loc))
	last := today.AddDays(s.horizon - 1)

	ids, err := s.doctors.DoctorsWithRules(ctx)
	if err != nil {
		return res, fmt.Errorf("list doctors with rules: %w", err)
	}

	var errs []error
	for _, doctorID := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		made, conflicts, err := s.materialise(ctx, doctorID, today, last, now)
		res.Materialised += made
		res.Conflicts += conflicts
		if err != nil {
			s.log.Error("materialise slots failed", zap.String("doctor_id", doctorID.String()), zap.Error(err))
			errs = append(errs, fmt.Errorf("doctor %s: %w", doctorID, err))
			continue
		}
		res.Doctors++
	}

	deleted, err := s.slots.DeleteFreeSlotsBefore(ctx, today)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete past free slots: %w", err))
	}
	res.Deleted = deleted

	return res, errors.Join(errs...)
}

func (s *Sweeper) materialise(ctx context.Context, doctorID uuid.UUID, from, to calendar.Date, now time.Time) (int, int, error) {
	seq, err := s.candidates.Candidates(ctx, doctorID, from, to)
	if err != nil {
		return 0, 0, err
	}

	made, conflicts := 0, 0
	for c := range seq {
		if !c.Date.At(c.Start, s.loc).After(now) {
			continue
		}
		key := slot.Key{DoctorID: c.DoctorID, Date: c.Date, Start: c.Start}
		if _, err := s.alloc.EnsureSlot(ctx, s.slots, key, c.End); err != nil {
			if errors.Is(err, apperr.ErrSlotUnavailable) {
				conflicts++
				continue
			}
			return made, conflicts, err
		}
		made++
	}
	return made, conflicts, nil
}

// Run sweeps once at start and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	s.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("stopping slot sweeper")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Sweeper) runLogged(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	start := time.Now()
	res, err := s.RunOnce(runCtx)
	if err != nil {
		s.log.Error("slot sweep failed", zap.Error(err))
	}
	s.log.Info("slot sweep complete",
		zap.Int("doctors", res.Doctors),
		zap.Int("materialised", res.Materialised),
		zap.Int("conflicts", res.Conflicts),
		zap.Int64("deleted", res.Deleted),
		zap.Duration("took", time.Since(start)),
	)
}
