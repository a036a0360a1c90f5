package slot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/db/dbtest"
)

func TestPgEnsureSlot_Concurrent(t *testing.T) {
	ctx := context.Background()
	repo := NewPgRepository(dbtest.Pool(t))
	a := newAllocator()
	key := futureKey(uuid.New())

	const n = 20
	ids := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := a.EnsureSlot(ctx, repo, key, calendar.NewClock(9, 30))
			if assert.NoError(t, err) {
				ids[i] = s.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	all, err := repo.ListSlots(ctx, key.DoctorID, key.Date, key.Date, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPgTryHold_Concurrent(t *testing.T) {
	ctx := context.Background()
	repo := NewPgRepository(dbtest.Pool(t))
	a := newAllocator()
	s, err := a.EnsureSlot(ctx, repo, futureKey(uuid.New()), calendar.NewClock(9, 30))
	require.NoError(t, err)

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mine := *s
			err := a.TryHold(ctx, repo, &mine)
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
	wg.Wait()

	assert.Equal(t, 1, successes)
	got, err := repo.GetSlot(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, Held, got.State)
}

func TestPgUpsertSlot_KeepsHeldBounds(t *testing.T) {
	ctx := context.Background()
	repo := NewPgRepository(dbtest.Pool(t))
	a := newAllocator()
	key := futureKey(uuid.New())

	s, err := a.EnsureSlot(ctx, repo, key, calendar.NewClock(9, 30))
	require.NoError(t, err)

	// free slots follow the grid
	s, err = a.EnsureSlot(ctx, repo, key, calendar.NewClock(9, 45))
	require.NoError(t, err)
	assert.Equal(t, 45, s.DurationMinutes)

	require.NoError(t, a.TryHold(ctx, repo, s))
	_, err = a.EnsureSlot(ctx, repo, key, calendar.NewClock(9, 30))
	assert.ErrorIs(t, err, apperr.ErrSlotUnavailable)

	got, err := repo.GetSlot(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, calendar.NewClock(9, 45), got.End)

	ok, err := repo.SetSlotState(ctx, s.ID, Free, Held)
	require.NoError(t, err)
	assert.False(t, ok, "state changes are conditional on the current state")

	require.NoError(t, a.Release(ctx, repo, s.ID))
	require.NoError(t, a.Release(ctx, repo, s.ID))
	got, err = repo.GetSlot(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, Free, got.State)
}
