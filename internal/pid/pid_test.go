package pid

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/jolt/internal/errors"
)

func TestWriteAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jolt.pid")

	require.NoError(t, Write(path))

	running, livePID := Running(path)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), livePID)

	// A second daemon must refuse to start.
	err := Write(path)
	require.Error(t, err)
	assert.Equal(t, errors.ErrAlreadyRunning, errors.CodeOf(err))

	require.NoError(t, Remove(path))
	running, _ = Running(path)
	assert.False(t, running)

	// Removing twice is fine.
	require.NoError(t, Remove(path))
}

func TestStalePIDFileIsReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jolt.pid")

	// A PID that cannot be alive.
	require.NoError(t, os.WriteFile(path, []byte("999999"), 0o600))

	running, _ := Running(path)
	assert.False(t, running)

	require.NoError(t, Write(path))
	running, livePID := Running(path)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), livePID)
}
