package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinokio-tracker/internal/model"
)

func openTestStore(t *testing.T, path string, force bool) *Store {
	t.Helper()
	s, err := Open(path, force)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord(name string) model.RepoRecord {
	return model.RepoRecord{
		Repo: model.Repo{
			Name:        name,
			Description: "a packaged app",
			HTMLURL:     "https://github.com/org/" + name,
			CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			UpdatedAt:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
			PushedAt:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
			OpenIssues:  2,
		},
		Upstream: &model.Upstream{
			Name:       "foo/" + name,
			URL:        "https://github.com/foo/" + name,
			CreatedAt:  time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC),
			UpdatedAt:  time.Date(2024, 5, 20, 8, 0, 0, 0, time.UTC),
			OpenIssues: 41,
		},
		LastChecked: time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestStore_UpsertAndReadAll(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "test.db"), false)

	rec := sampleRecord("app")
	require.NoError(t, s.Upsert(ctx, rec))

	noUpstream := sampleRecord("zeta")
	noUpstream.Upstream = nil
	require.NoError(t, s.Upsert(ctx, noUpstream))

	records, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, rec, records[0])
	assert.Nil(t, records[1].Upstream, "upstream fields must be absent together")
	assert.Equal(t, "zeta", records[1].Name)
}

func TestStore_UpsertPreservesIdentity(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "test.db"), false)

	rec := sampleRecord("app")
	require.NoError(t, s.Upsert(ctx, rec))

	var idBefore int64
	require.NoError(t, s.db.QueryRow(`SELECT id FROM repos WHERE name = 'app'`).Scan(&idBefore))

	rec.OpenIssues = 9
	rec.Upstream = nil // resolution failed this run: upstream cleared
	require.NoError(t, s.Upsert(ctx, rec))

	var idAfter int64
	var count int
	require.NoError(t, s.db.QueryRow(`SELECT id FROM repos WHERE name = 'app'`).Scan(&idAfter))
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM repos`).Scan(&count))

	assert.Equal(t, idBefore, idAfter)
	assert.Equal(t, 1, count)

	records, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 9, records[0].OpenIssues)
	assert.Nil(t, records[0].Upstream)
}

func TestStore_ShouldRefresh(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "test.db"), false)

	rec := sampleRecord("app")
	require.NoError(t, s.Upsert(ctx, rec))

	t.Run("unknown name is stale", func(t *testing.T) {
		stale, err := s.ShouldRefresh(ctx, "brand-new", time.Now())
		require.NoError(t, err)
		assert.True(t, stale)
	})

	t.Run("matching updated_at is fresh", func(t *testing.T) {
		stale, err := s.ShouldRefresh(ctx, "app", rec.UpdatedAt)
		require.NoError(t, err)
		assert.False(t, stale)
	})

	t.Run("changed updated_at is stale", func(t *testing.T) {
		stale, err := s.ShouldRefresh(ctx, "app", rec.UpdatedAt.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, stale)
	})
}

func TestStore_ShouldRefresh_Force(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s := openTestStore(t, path, false)
	rec := sampleRecord("app")
	require.NoError(t, s.Upsert(ctx, rec))
	require.NoError(t, s.Close())

	forced := openTestStore(t, path, true)
	stale, err := forced.ShouldRefresh(ctx, "app", rec.UpdatedAt)
	require.NoError(t, err)
	assert.True(t, stale, "force mode refreshes even fresh records")
}

func TestStore_RecordUsage(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "test.db"), false)

	require.NoError(t, s.RecordUsage(ctx, model.UsageSnapshot{
		LastRun:        time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
		CallsUsed:      17,
		CallsRemaining: 4983,
	}))
	require.NoError(t, s.RecordUsage(ctx, model.UsageSnapshot{
		LastRun:        time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		CallsUsed:      3,
		CallsRemaining: 4997,
	}))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM api_usage`).Scan(&count))
	assert.Equal(t, 2, count, "usage log is append-only")

	var used, remaining int64
	require.NoError(t, s.db.QueryRow(
		`SELECT calls_used, calls_remaining FROM api_usage ORDER BY last_run DESC LIMIT 1`,
	).Scan(&used, &remaining))
	assert.Equal(t, int64(3), used)
	assert.Equal(t, int64(4997), remaining)
}

func TestStore_ReopenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s := openTestStore(t, path, false)
	require.NoError(t, s.Upsert(ctx, sampleRecord("app")))
	require.NoError(t, s.Close())

	reopened := openTestStore(t, path, false)
	records, err := reopened.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1, "migrations must tolerate an up-to-date schema")
}
