package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kegdb/kegdb/internal/kegerr"
	"github.com/kegdb/kegdb/internal/record"
	"github.com/kegdb/kegdb/internal/value"
)

func TestFlushThenGetFromSameStore(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)

	recs := []record.Record{
		{Key: "a", Value: value.New([]byte("1"), 0, 0)},
		{Key: "b", Value: nil},
	}
	_, err = s.Flush(recs)
	require.NoError(t, err)

	v, found, tomb, err := s.Get("a")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, tomb)
	assert.Equal(t, "1", string(v.Data))

	_, found, tomb, err = s.Get("b")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, tomb)

	_, found, _, err = s.Get("missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNewestSegmentMasksOlder(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)

	_, err = s.Flush([]record.Record{{Key: "k", Value: value.New([]byte("old"), 0, 0)}})
	require.NoError(t, err)
	_, err = s.Flush([]record.Record{{Key: "k", Value: value.New([]byte("new"), 0, 0)}})
	require.NoError(t, err)

	v, found, tomb, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, tomb)
	assert.Equal(t, "new", string(v.Data))
}

func TestTombstoneInNewerSegmentMasksOlderValue(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)

	_, err = s.Flush([]record.Record{{Key: "k", Value: value.New([]byte("old"), 0, 0)}})
	require.NoError(t, err)
	_, err = s.Flush([]record.Record{{Key: "k", Value: nil}})
	require.NoError(t, err)

	_, found, tomb, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, tomb)
}

func TestDiscoverReloadsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	_, err = s.Flush([]record.Record{{Key: "a", Value: value.New([]byte("1"), 0, 0)}})
	require.NoError(t, err)
	_, err = s.Flush([]record.Record{{Key: "a", Value: value.New([]byte("2"), 0, 0)}})
	require.NoError(t, err)

	reopened, err := Open(dir, nil)
	require.NoError(t, err)
	v, found, _, err := reopened.Get("a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2", string(v.Data))
	require.Len(t, reopened.segments, 2)
	assert.Equal(t, 1, reopened.segments[0].Ordinal)
	assert.Equal(t, 0, reopened.segments[1].Ordinal)
}

func TestGetOnEmptyStoreIsNotFound(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	_, found, _, err := s.Get("anything")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPoisonedStoreRejectsFurtherCalls(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)

	// Simulate a panic having already unwound through Flush: poisonOnPanic
	// sets this same flag before re-panicking, so setting it directly here
	// exercises the poisonCheck every method runs before taking the lock.
	s.poisoned.Store(true)

	_, _, _, err = s.Get("anything")
	require.Error(t, err)
	assert.True(t, kegerr.IsPoisonedLock(err))

	_, err = s.Flush([]record.Record{{Key: "k", Value: value.New([]byte("v"), 0, 0)}})
	require.Error(t, err)
	assert.True(t, kegerr.IsPoisonedLock(err))
}
