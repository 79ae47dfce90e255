package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionWritesProfiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profiles")

	sess, err := Start(dir)
	require.NoError(t, err)
	require.NoError(t, sess.Stop())

	for _, name := range []string{"cpu.pprof", "heap.pprof", "goroutine.pprof"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}
}

func TestStartRejectsUnwritableDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks are bypassed for root")
	}
	base := t.TempDir()
	require.NoError(t, os.Chmod(base, 0o500))
	t.Cleanup(func() { _ = os.Chmod(base, 0o755) })

	_, err := Start(filepath.Join(base, "profiles"))
	assert.Error(t, err)
}
