package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_MissingFileYieldsDefaults(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "nested", "state.yaml"))
	require.NoError(t, err)

	st, err := s.Load()

	require.NoError(t, err)
	assert.Equal(t, DefaultState(), st)
	assert.Equal(t, NoCallback, st.BackgroundCallbackID)
	assert.Equal(t, NoCallback, st.MonitoringCallbackID)
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	want := State{
		BackgroundMonitoringEnabled: true,
		Debug:                       true,
		BackgroundCallbackID:        42,
		MonitoringCallbackID:        7,
	}
	require.NoError(t, s.Save(want))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	got, err := reopened.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStore_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("debug: true\n"), 0o600))
	s, err := NewFileStore(path)
	require.NoError(t, err)

	st, err := s.Load()

	require.NoError(t, err)
	assert.True(t, st.Debug)
	assert.False(t, st.BackgroundMonitoringEnabled)
	assert.Equal(t, NoCallback, st.MonitoringCallbackID)
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("debug: [\n"), 0o600))
	s, err := NewFileStore(path)
	require.NoError(t, err)

	st, err := s.Load()

	assert.Error(t, err)
	assert.Equal(t, DefaultState(), st)
}

func TestUpdate(t *testing.T) {
	s := NewMemoryStore(DefaultState())

	require.NoError(t, Update(s, func(st *State) {
		st.BackgroundMonitoringEnabled = true
		st.MonitoringCallbackID = 9
	}))

	st, _ := s.Load()
	assert.True(t, st.BackgroundMonitoringEnabled)
	assert.Equal(t, int64(9), st.MonitoringCallbackID)
	assert.Equal(t, NoCallback, st.BackgroundCallbackID)
}

func TestMemoryStore_SaveErr(t *testing.T) {
	s := NewMemoryStore(DefaultState())
	s.SaveErr = errors.New("disk full")

	err := Update(s, func(st *State) { st.Debug = true })

	assert.Error(t, err)
	st, _ := s.Load()
	assert.False(t, st.Debug)
}
