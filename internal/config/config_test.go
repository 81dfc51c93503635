package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "none")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, int64(32768), cfg.ReadLimit)
	assert.Equal(t, "kick", cfg.Backpressure)
	assert.NotEmpty(t, cfg.Secret)

	client, err := LoadClient(nil)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/socket/websocket", client.RelayURL)
	assert.Equal(t, 10*time.Second, client.AckTimeout)
	assert.Equal(t, 10*time.Second, client.CandidateTimeout)
	assert.Equal(t, 30*time.Second, client.HeartbeatInterval)
	assert.Equal(t, uint8(10), client.ICECandidatePoolSize)
	assert.Len(t, client.ICEServers, 2)
	assert.True(t, client.Media.Audio)
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"),
		[]byte("port: 9090\nping_period: 20s\nsecret: s3cret\n"), 0o644))
	t.Setenv("CALL_MODE", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 20*time.Second, cfg.PingPeriod)
	assert.Equal(t, "s3cret", cfg.Secret)
	assert.Equal(t, "debug", cfg.Mode)
}

func TestClientFlagsWin(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "call.test.yaml"),
		[]byte("relay_url: ws://file/socket/websocket\nack_timeout: 3s\nmedia:\n  audio: false\n"), 0o644))

	fs := ClientFlags()
	require.NoError(t, fs.Parse([]string{"--relay_url", "ws://flag/socket/websocket"}))

	cfg, err := LoadClient(fs)
	require.NoError(t, err)
	assert.Equal(t, "ws://flag/socket/websocket", cfg.RelayURL)
	assert.Equal(t, 3*time.Second, cfg.AckTimeout)
	assert.False(t, cfg.Media.Audio)
}
