package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/sbvm/caps"
)

var testSpec = caps.MapSpec{ID: 7, KeySize: 4, ValueSize: 8, Name: "counters"}

func TestPersistMapRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counters")
	key := []byte{1, 0, 0, 0}
	value := []byte{42, 0, 0, 0, 0, 0, 0, 0}

	m, err := OpenMap(path, testSpec)
	require.NoError(t, err)
	require.NoError(t, m.Update(key, value))
	require.NoError(t, m.Close())

	// reopen: the value must have survived
	m, err = OpenMap(path, testSpec)
	require.NoError(t, err)
	defer m.Close()

	got := m.Lookup(key)
	require.NotNil(t, got)
	assert.Equal(t, value, got)
}

func TestPersistMapInMemory(t *testing.T) {
	m, err := OpenMap("", testSpec)
	require.NoError(t, err)
	defer m.Close()

	key := []byte{2, 0, 0, 0}
	assert.Nil(t, m.Lookup(key))
	require.NoError(t, m.Update(key, make([]byte, 8)))
	assert.NotNil(t, m.Lookup(key))

	require.NoError(t, m.Delete(key))
	assert.Nil(t, m.Lookup(key))
	assert.Error(t, m.Delete(key), "double delete")
}

func TestPersistMapSizeValidation(t *testing.T) {
	m, err := OpenMap("", testSpec)
	require.NoError(t, err)
	defer m.Close()

	assert.Error(t, m.Update([]byte{1}, make([]byte, 8)))
	assert.Error(t, m.Update([]byte{1, 0, 0, 0}, make([]byte, 3)))
}

// Same aliasing contract as the in-memory map: a looked-up buffer observes
// later updates to the key.
func TestPersistMapLookupAliasesUpdates(t *testing.T) {
	m, err := OpenMap("", testSpec)
	require.NoError(t, err)
	defer m.Close()

	key := []byte{1, 0, 0, 0}
	require.NoError(t, m.Update(key, []byte{1, 0, 0, 0, 0, 0, 0, 0}))

	buf := m.Lookup(key)
	require.NoError(t, m.Update(key, []byte{2, 0, 0, 0, 0, 0, 0, 0}))
	assert.Equal(t, byte(2), buf[0])
}

// In-place mutation of a looked-up buffer reaches the database only after
// Flush.
func TestPersistMapFlushWritesLiveBuffers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counters")
	key := []byte{1, 0, 0, 0}

	m, err := OpenMap(path, testSpec)
	require.NoError(t, err)
	require.NoError(t, m.Update(key, make([]byte, 8)))

	buf := m.Lookup(key)
	buf[0] = 99
	require.NoError(t, m.Flush())
	require.NoError(t, m.Close())

	m, err = OpenMap(path, testSpec)
	require.NoError(t, err)
	defer m.Close()
	got := m.Lookup(key)
	require.NotNil(t, got)
	assert.Equal(t, byte(99), got[0])
}
