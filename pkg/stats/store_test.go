package stats

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "stats", "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_Summary(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordHealth([]HealthRecord{
		{ServiceID: "core", Healthy: true, Latency: 2 * time.Millisecond, CheckedAt: base},
		{ServiceID: "core", Healthy: false, Latency: 4 * time.Millisecond, Reason: "timeout", CheckedAt: base.Add(time.Second)},
		{ServiceID: "core", Healthy: false, Reason: "connection-refused", CheckedAt: base.Add(2 * time.Second)},
		{ServiceID: "proxy", Healthy: true, CheckedAt: base},
	}))
	require.NoError(t, store.RecordRestart(RestartRecord{ServiceID: "core", Attempt: 1, Success: true, At: base}))
	require.NoError(t, store.RecordRestart(RestartRecord{ServiceID: "core", Attempt: 2, Error: "exec failed", At: base}))

	summary, err := store.Summary("core")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Checks)
	assert.Equal(t, 2, summary.Failures)
	assert.Equal(t, 2, summary.Restarts)
	assert.Equal(t, "connection-refused", summary.LastReason)
	assert.Equal(t, base.Add(2*time.Second), summary.LastCheckedAt)
	assert.Equal(t, 2*time.Millisecond, summary.AvgLatency)

	empty, err := store.Summary("ghost")
	require.NoError(t, err)
	assert.Equal(t, ServiceSummary{ServiceID: "ghost"}, empty)

	all, err := store.Summaries([]string{"core", "proxy"})
	require.NoError(t, err)
	assert.Equal(t, 1, all["proxy"].Checks)
	assert.Equal(t, 0, all["proxy"].Failures)
}

func TestStore_Operations(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordOperation(OperationRecord{
			ID:          fmt.Sprintf("op-%d", i),
			Operation:   "deploy",
			Environment: "development",
			Success:     i != 1,
			Warnings:    i,
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			FinishedAt:  base.Add(time.Duration(i)*time.Minute + time.Second),
		}))
	}

	recent, err := store.RecentOperations(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "op-2", recent[0].ID)
	assert.Equal(t, "op-1", recent[1].ID)
	assert.False(t, recent[1].Success)
	assert.Equal(t, base.Add(2*time.Minute), recent[0].StartedAt)
}

func TestStore_PruneAndReset(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordHealth([]HealthRecord{
		{ServiceID: "core", Healthy: true, CheckedAt: base},
		{ServiceID: "core", Healthy: true, CheckedAt: base.Add(time.Hour)},
	}))
	require.NoError(t, store.RecordRestart(RestartRecord{ServiceID: "core", Attempt: 1, At: base}))

	removed, err := store.Prune(base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	summary, err := store.Summary("core")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Checks)
	assert.Equal(t, 0, summary.Restarts)

	require.NoError(t, store.Reset())
	summary, err = store.Summary("core")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Checks)
}

func TestStore_ReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.RecordRestart(RestartRecord{ServiceID: "core", Attempt: 1, At: time.Now()}))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	summary, err := reopened.Summary("core")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Restarts)
}

func TestOpen_DriverFailure(t *testing.T) {
	original := openDB
	defer func() { openDB = original }()
	openDB = func(driverName, dataSourceName string) (*sql.DB, error) {
		return nil, fmt.Errorf("driver unavailable")
	}

	_, err := Open(filepath.Join(t.TempDir(), "stats.db"))
	assert.True(t, errors.IsIOError(err))
}
