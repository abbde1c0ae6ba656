package lock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationLock_SecondAcquireIsLocked(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "op.lock"), 0, nil)

	handle, err := l.Acquire("deploy")
	require.NoError(t, err)

	_, err = l.Acquire("deploy")
	require.True(t, errors.IsLockedError(err))
	domainErr, _ := errors.AsDomainError(err)
	assert.Contains(t, domainErr.Context[errors.ContextKeyHolder], "operation 'deploy'")

	require.NoError(t, handle.Release())

	again, err := l.Acquire("reset")
	require.NoError(t, err)
	assert.Equal(t, "reset", again.Record().Operation)
}

func TestOperationLock_StaleIsReclaimed(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "op.lock"), 30*time.Minute, nil)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	first, err := l.Acquire("deploy")
	require.NoError(t, err)

	now = now.Add(29 * time.Minute)
	_, err = l.Acquire("deploy")
	require.True(t, errors.IsLockedError(err))

	now = now.Add(2 * time.Minute)
	second, err := l.Acquire("deploy")
	require.NoError(t, err)
	assert.NotEqual(t, first.Record().Token, second.Record().Token)

	require.NoError(t, first.Release())
	current, ok := l.Current()
	require.True(t, ok)
	assert.Equal(t, second.Record().Token, current.Token)

	require.NoError(t, second.Release())
	_, ok = l.Current()
	assert.False(t, ok)
}

func writeStaleRecord(t *testing.T, path string) Record {
	t.Helper()
	record := Record{Operation: "deploy", OwnerPID: 999999, Token: "stale", CreatedAt: time.Now().Add(-2 * time.Hour).UTC()}
	data, err := json.Marshal(record)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return record
}

func TestOperationLock_ReclaimKeepsLockTakenMeanwhile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "op.lock")
	writeStaleRecord(t, path)

	// another process reclaims first and takes a fresh lock between this
	// acquirer's stale judgement and its reclaim
	other := New(path, time.Minute, nil)
	var fresh *Handle
	l := New(path, time.Minute, nil)
	l.beforeReclaim = func() {
		var err error
		fresh, err = other.Acquire("reset")
		require.NoError(t, err)
	}

	_, err := l.Acquire("deploy")
	require.True(t, errors.IsLockedError(err), "error: %v", err)
	require.NotNil(t, fresh)

	current, ok := l.Current()
	require.True(t, ok)
	assert.Equal(t, fresh.Record().Token, current.Token)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, fresh.Release())
	_, ok = l.Current()
	assert.False(t, ok)
}

func TestOperationLock_ConcurrentReclaimHasOneWinner(t *testing.T) {
	for round := 0; round < 50; round++ {
		path := filepath.Join(t.TempDir(), "op.lock")
		writeStaleRecord(t, path)

		var winners int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if _, err := New(path, time.Minute, nil).Acquire("deploy"); err == nil {
					atomic.AddInt32(&winners, 1)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), atomic.LoadInt32(&winners), "round %d", round)
	}
}

func TestOperationLock_CorruptRecordUsesFileAge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "op.lock")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	l := New(path, time.Minute, nil)

	_, err := l.Acquire("clean")
	require.True(t, errors.IsLockedError(err))

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	handle, err := l.Acquire("clean")
	require.NoError(t, err)
	require.NoError(t, handle.Release())
}

func TestOperationLock_ForceClear(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "op.lock"), 0, nil)
	_, err := l.Acquire("deploy")
	require.NoError(t, err)

	require.NoError(t, l.ForceClear())
	require.NoError(t, l.ForceClear())

	_, err = l.Acquire("deploy")
	assert.NoError(t, err)
}

func TestHandle_NilRelease(t *testing.T) {
	var h *Handle
	assert.NoError(t, h.Release())
}
