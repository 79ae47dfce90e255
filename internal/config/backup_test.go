package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeUserConfig creates a user config under the isolated XDG dir.
func writeUserConfig(t *testing.T, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(GetUserConfigDir(), 0o755))
	path := GetUserConfigPath()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBackupUserConfig_NoConfig_ReturnsEmpty(t *testing.T) {
	// Given: no user config exists
	isolateUserConfig(t)

	// When: backing up
	backupPath, err := BackupUserConfig()

	// Then: nothing happens and nothing fails
	require.NoError(t, err)
	assert.Empty(t, backupPath)
}

func TestBackupUserConfig_CreatesTimestampedCopy(t *testing.T) {
	// Given: an existing user config
	isolateUserConfig(t)
	writeUserConfig(t, "version: 1\nlogging:\n  level: debug\n")

	// When: backing up
	backupPath, err := BackupUserConfig()

	// Then: a backup with the original content exists next to the config
	require.NoError(t, err)
	require.NotEmpty(t, backupPath)
	assert.Contains(t, filepath.Base(backupPath), BackupSuffix)

	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "level: debug")
}

func TestListUserConfigBackups_NoDir_ReturnsNil(t *testing.T) {
	isolateUserConfig(t)

	backups, err := ListUserConfigBackups()

	require.NoError(t, err)
	assert.Nil(t, backups)
}

func TestBackupUserConfig_PrunesOldBackups(t *testing.T) {
	// Given: more than MaxBackups pre-existing backups
	isolateUserConfig(t)
	configPath := writeUserConfig(t, "version: 1\n")
	for i := 0; i < MaxBackups+2; i++ {
		stale := configPath + BackupSuffix + ".2001010" + string(rune('0'+i)) + "-000000"
		require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))
	}

	// When: creating one more backup
	_, err := BackupUserConfig()
	require.NoError(t, err)

	// Then: only MaxBackups remain
	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), MaxBackups)
}

func TestRestoreUserConfig_MissingBackup_Fails(t *testing.T) {
	isolateUserConfig(t)

	err := RestoreUserConfig(filepath.Join(t.TempDir(), "nope.bak"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup file not found")
}

func TestRestoreUserConfig_ReplacesCurrentConfig(t *testing.T) {
	// Given: a config and a backup holding different content
	isolateUserConfig(t)
	writeUserConfig(t, "version: 1\nlogging:\n  level: info\n")
	backupPath, err := BackupUserConfig()
	require.NoError(t, err)
	writeUserConfig(t, "version: 1\nlogging:\n  level: error\n")

	// When: restoring the backup
	require.NoError(t, RestoreUserConfig(backupPath))

	// Then: the original content is back
	data, err := os.ReadFile(GetUserConfigPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "level: info")
}
