package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "unionctl.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfig, "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 32*1024, cfg.CopyBufferSize)
	assert.False(t, cfg.StatCache.Enabled)
	assert.Equal(t, 5*time.Second, cfg.StatCache.TTL)
	assert.Equal(t, 2500*time.Millisecond, cfg.StatCache.NegativeTTL)
}

func TestLoadFile(t *testing.T) {
	p := writeConfig(t, `
read_only: /srv/base
read_write: /srv/changes
log_level: debug
log_format: json
copy_buffer_size: 4096
stat_cache:
  enabled: true
  ttl: 2s
  max_entries: 50
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "/srv/base", cfg.ReadOnly)
	assert.Equal(t, "/srv/changes", cfg.ReadWrite)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 4096, cfg.CopyBufferSize)
	assert.True(t, cfg.StatCache.Enabled)
	assert.Equal(t, 2*time.Second, cfg.StatCache.TTL)
	assert.Equal(t, time.Second, cfg.StatCache.NegativeTTL)
	assert.Equal(t, 50, cfg.StatCache.MaxEntries)
	assert.Equal(t, "/srv/changes.lock", cfg.LockPath())
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	p := writeConfig(t, "memory: true\n")
	t.Setenv(EnvConfig, p)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Memory)
	assert.Empty(t, cfg.LockPath())
	assert.NoError(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	p := writeConfig(t, "read_only: [unclosed\n")
	_, err = Load(p)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"memory", Config{Memory: true, LogFormat: "text"}, true},
		{"memory bad format", Config{Memory: true, LogFormat: "xml"}, false},
		{"missing ro", Config{ReadWrite: "/b", LogFormat: "text"}, false},
		{"missing rw", Config{ReadOnly: "/a", LogFormat: "text"}, false},
		{"same dir", Config{ReadOnly: "/a", ReadWrite: "/a", LogFormat: "text"}, false},
		{"nested", Config{ReadOnly: "/a", ReadWrite: "/a/rw", LogFormat: "text"}, false},
		{"bad format", Config{ReadOnly: "/a", ReadWrite: "/b", LogFormat: "xml"}, false},
		{"ok", Config{ReadOnly: "/a", ReadWrite: "/b", LogFormat: "json"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLockPathOverride(t *testing.T) {
	cfg := Config{ReadWrite: "/srv/rw/", LockFile: "/run/unionctl.lock"}
	assert.Equal(t, "/run/unionctl.lock", cfg.LockPath())
	cfg.LockFile = ""
	assert.Equal(t, "/srv/rw.lock", cfg.LockPath())
}
