package config

import (
	log "log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs each test from an empty directory so no stray .env is read.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestDefaults(t *testing.T) {
	isolate(t)

	c, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", c.Origin)
	assert.Equal(t, "ws://localhost:8000/ws", c.Endpoint())
	assert.Equal(t, 3*time.Second, c.ReconnectDelay)
	assert.Equal(t, 60*time.Second, c.ReplyTimeout)
	assert.Equal(t, 60*time.Second, c.MaxClip)
	assert.Equal(t, "/tmp/kino.sock", c.Socket)
	assert.Equal(t, log.LevelInfo, c.Level())
	assert.Empty(t, c.Proxy)
	assert.False(t, c.Headless)
}

func TestFlags(t *testing.T) {
	isolate(t)

	c, err := Parse([]string{
		"-o", "https://kino.example.com",
		"--reply-timeout", "0",
		"--duck", "--duck-factor", "0.5",
		"-l", "debug",
		"--headless",
	})
	require.NoError(t, err)

	assert.Equal(t, "wss://kino.example.com/ws", c.Endpoint())
	assert.Zero(t, c.ReplyTimeout)
	assert.True(t, c.Duck)
	assert.Equal(t, 0.5, c.DuckFactor)
	assert.Equal(t, log.LevelDebug, c.Level())
	assert.True(t, c.Headless)
}

func TestEnvironmentDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("KINO_ORIGIN", "http://backend:9000")
	t.Setenv("KINO_RECONNECT", "5s")
	t.Setenv("KINO_LOG", "warn")

	c, err := Parse([]string{"--log", "error"})
	require.NoError(t, err)

	assert.Equal(t, "http://backend:9000", c.Origin)
	assert.Equal(t, 5*time.Second, c.ReconnectDelay)
	assert.Equal(t, "error", c.LogLevel, "explicit flag wins")
}

func TestEnvFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "kino.env")
	require.NoError(t, os.WriteFile(path, []byte("KINO_PROXY=127.0.0.1:9050\nKINO_HISTORY_DIR=/var/lib/kino\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("KINO_PROXY")
		os.Unsetenv("KINO_HISTORY_DIR")
	})

	c, err := Parse([]string{"--env", path})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9050", c.Proxy)
	assert.Equal(t, "/var/lib/kino", c.HistoryDir)
}

func TestExplicitEnvFileMustExist(t *testing.T) {
	isolate(t)
	_, err := Parse([]string{"--env", "missing.env"})
	assert.Error(t, err)
}

func TestInvalid(t *testing.T) {
	isolate(t)

	cases := [][]string{
		{"--log", "verbose"},
		{"--origin", "ftp://host"},
		{"--reconnect", "0s"},
		{"--reply-timeout", "-1s"},
		{"--duck-factor", "2"},
		{"--print-history"},
		{"--no-such-flag"},
	}
	for _, args := range cases {
		_, err := Parse(args)
		assert.Error(t, err, "%v", args)
	}
}

func TestBadEnvValue(t *testing.T) {
	isolate(t)
	t.Setenv("KINO_MAX_CLIP", "forever")

	_, err := Parse(nil)
	assert.ErrorContains(t, err, "KINO_MAX_CLIP")
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "KINO_REPLY_TIMEOUT", EnvName("reply-timeout"))
	assert.Equal(t, "KINO_ORIGIN", EnvName("origin"))
}
