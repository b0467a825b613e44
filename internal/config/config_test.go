package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkonaut.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
root: fixtures
binding: explicit
timeout: 250ms
workers: 3
dotfiles: true
dotdirs: true
follow_links: true
cache_size: 16
record: runs.db
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "fixtures", cfg.Root)
	assert.Equal(t, "explicit", cfg.Binding)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 3, cfg.Workers)
	assert.True(t, cfg.Dotfiles)
	assert.True(t, cfg.Dotdirs)
	assert.True(t, cfg.FollowLinks)
	assert.Equal(t, 16, cfg.CacheSize)
	assert.Equal(t, "runs.db", cfg.Record)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ".", cfg.Root)
	assert.Equal(t, "implicit", cfg.Binding)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 0, cfg.Workers)
	assert.Equal(t, 512, cfg.CacheSize)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Empty(t, cfg.Record)
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("FIXTURE_ROOT", "/srv/fixtures")

	cfg, err := Load(writeConfig(t, "root: ${FIXTURE_ROOT}/data\n"))
	require.NoError(t, err)
	assert.Equal(t, "/srv/fixtures/data", cfg.Root)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CHECKONAUT_BINDING", "explicit")
	t.Setenv("CHECKONAUT_TIMEOUT", "2s")
	t.Setenv("CHECKONAUT_WORKERS", "7")
	t.Setenv("CHECKONAUT_LOG_LEVEL", "error")

	cfg, err := Load(writeConfig(t, "binding: implicit\nworkers: 1\n"))
	require.NoError(t, err)
	assert.Equal(t, "explicit", cfg.Binding)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, 7, cfg.Workers)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"binding", "binding: sometimes\n", "binding must be"},
		{"timeout", "timeout: -1s\n", "timeout must not be negative"},
		{"workers", "workers: -2\n", "workers must not be negative"},
		{"cache size", "cache_size: -1\n", "cache_size must not be negative"},
		{"log level", "logging:\n  level: loud\n", "logging.level"},
		{"log format", "logging:\n  format: xml\n", "logging.format"},
		{"yaml", "timeout: [\n", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadWithFallback(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		cfg, err := LoadWithFallback(writeConfig(t, "workers: 4\n"))
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.Workers)
	})

	t.Run("default file in working directory", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte("workers: 5\n"), 0644))
		t.Chdir(dir)

		cfg, err := LoadWithFallback("")
		require.NoError(t, err)
		assert.Equal(t, 5, cfg.Workers)
	})

	t.Run("no file", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("CHECKONAUT_RECORD", "archive.db")

		cfg, err := LoadWithFallback("")
		require.NoError(t, err)
		assert.Equal(t, "archive.db", cfg.Record)
		assert.Equal(t, "implicit", cfg.Binding)
	})
}
