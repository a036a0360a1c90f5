package db_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/db/dbtest"
)

func TestMigrator_ConcurrentUp(t *testing.T) {
	ctx := context.Background()
	pool := dbtest.Pool(t)

	// goose keeps its dialect and filesystem in package state, so the
	// migrators are built up front and only Up runs concurrently
	migrators := make([]*db.Migrator, 3)
	for i := range migrators {
		m, err := db.NewMigrator(pool, zap.NewNop())
		require.NoError(t, err)
		defer m.Close()
		migrators[i] = m
	}

	var wg sync.WaitGroup
	for _, m := range migrators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Up(ctx))
		}()
	}
	wg.Wait()

	m, err := db.NewMigrator(pool, zap.NewNop())
	require.NoError(t, err)
	defer m.Close()
	version, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Positive(t, version)
}
