package classroom

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrReuseReturnsSameCodeForSameSession(t *testing.T) {
	d := New(time.Hour, nil)

	code, err := d.CreateOrReuse("session-1")
	require.NoError(t, err)
	assert.Len(t, code, codeLength)
	assert.Regexp(t, codePattern, code)

	again, err := d.CreateOrReuse("session-1")
	require.NoError(t, err)
	assert.Equal(t, code, again)
}

func TestCreateOrReuseDistinctSessionsGetDistinctCodes(t *testing.T) {
	d := New(time.Hour, nil)

	a, err := d.CreateOrReuse("session-a")
	require.NoError(t, err)
	b, err := d.CreateOrReuse("session-b")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestIsValidRejectsMalformedCodes(t *testing.T) {
	d := New(time.Hour, nil)
	assert.False(t, d.IsValid(""))
	assert.False(t, d.IsValid("abc123")) // lowercase not allowed
	assert.False(t, d.IsValid("TOOLONGCODE"))
	assert.False(t, d.IsValid("UNKNWN"))
}

func TestIsValidRefreshesExpiry(t *testing.T) {
	d := New(time.Hour, nil)
	code, err := d.CreateOrReuse("session-1")
	require.NoError(t, err)

	assert.True(t, d.IsValid(code))

	entry, ok := d.GetByCode(code)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), entry.ExpiresAt, 5*time.Second)
}

func TestGetCodeBySession(t *testing.T) {
	d := New(time.Hour, nil)
	code, err := d.CreateOrReuse("session-1")
	require.NoError(t, err)

	got, ok := d.GetCodeBySession("session-1")
	require.True(t, ok)
	assert.Equal(t, code, got)

	_, ok = d.GetCodeBySession("nonexistent")
	assert.False(t, ok)
}

func TestRestoreRebindsCodeToSession(t *testing.T) {
	d := New(time.Hour, nil)
	code, err := d.CreateOrReuse("session-old")
	require.NoError(t, err)

	d.Restore(code, "session-new")

	entry, ok := d.GetByCode(code)
	require.True(t, ok)
	assert.Equal(t, "session-new", entry.SessionID)

	got, ok := d.GetCodeBySession("session-new")
	require.True(t, ok)
	assert.Equal(t, code, got)
}

func TestRunSweepEvictsExpiredEntries(t *testing.T) {
	d := New(-time.Minute, nil) // already-expired entries
	code, err := d.CreateOrReuse("session-1")
	require.NoError(t, err)

	evicted := d.RunSweep()
	assert.Equal(t, 1, evicted)

	_, ok := d.GetByCode(code)
	assert.False(t, ok)
	_, ok = d.GetCodeBySession("session-1")
	assert.False(t, ok)
}

func TestStartSweeperEvictsExpiredEntries(t *testing.T) {
	d := New(-time.Minute, nil)
	_, err := d.CreateOrReuse("session-1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	d.StartSweeper(ctx, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	cancel()

	d.mu.RLock()
	remaining := len(d.byCode)
	d.mu.RUnlock()
	assert.Equal(t, 0, remaining)
}

func TestFreshCodeSkipsOccupiedCodes(t *testing.T) {
	d := New(time.Hour, nil)
	d.byCode["AAAAAA"] = &Entry{Code: "AAAAAA"}

	for i := 0; i < 20; i++ {
		code, err := d.freshCode()
		require.NoError(t, err)
		assert.NotEqual(t, "AAAAAA", code)
	}
}

func TestCollisionRetriesReportsAccumulatedCount(t *testing.T) {
	d := New(time.Hour, nil)

	d.mu.Lock()
	d.collisionRetries = 3
	d.mu.Unlock()

	assert.Equal(t, uint64(3), d.CollisionRetries())
}
