package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"API_ID", "API_HASH", "PHONE_NUMBER", "DATA_DIR", "SESSION_PATH",
		"SYNC_DELAY_MS", "EXPORT_DELAY_MS", "MEDIA_QUEUE_SIZE", "MEDIA_PARALLELISM",
		"WATCHER_CYCLE_SECS", "WATCHER_KEYWORDS", "LOG_LEVEL", "THROTTLE_RPS",
		"APP_TIMEZONE", "WATCH_TARGETS_FILE",
	} {
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadConfigRequiresCredentials(t *testing.T) {
	clearEnv(t)
	missingEnvPath := filepath.Join(t.TempDir(), "missing.env")

	_, err := loadConfig(missingEnvPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_ID")
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_ID", "12345")
	t.Setenv("API_HASH", "deadbeef")
	t.Setenv("PHONE_NUMBER", "+10000000000")
	missingEnvPath := filepath.Join(t.TempDir(), "missing.env")

	cfg, err := loadConfig(missingEnvPath)
	require.NoError(t, err)
	assert.Equal(t, defaultDataDir, cfg.Env.DataDir)
	assert.Equal(t, defaultMediaQueueSize, cfg.Env.MediaQueueSize)
	assert.Equal(t, defaultMediaParallelism, cfg.Env.MediaParallelism)
	assert.Equal(t, defaultWatcherKeywords, cfg.Env.WatcherKeywords)
	assert.NotEmpty(t, cfg.warnings)
}

func TestSanitizeKeywordsLowercasesAndDedupes(t *testing.T) {
	var warnings []string
	got := sanitizeKeywords("Urgent, bug,URGENT , error", defaultWatcherKeywords, &warnings)
	assert.Equal(t, []string{"urgent", "bug", "error"}, got)
}

func TestParseLocationAcceptsOffsetAndIANA(t *testing.T) {
	loc, err := ParseLocation("+03:00")
	require.NoError(t, err)
	assert.Equal(t, "UTC+03:00", loc.String())

	loc, err = ParseLocation("UTC")
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	_, err = ParseLocation("not-a-timezone")
	assert.Error(t, err)
}
