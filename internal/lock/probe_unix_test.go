//go:build unix

package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestProbeLocked_Flock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flocked.tmp")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	assert.False(t, probeLocked(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB))

	assert.True(t, probeLocked(path))

	require.NoError(t, unix.Flock(int(f.Fd()), unix.LOCK_UN))
	assert.False(t, probeLocked(path))
}
