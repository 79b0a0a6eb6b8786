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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 4, cfg.Engine.MaxParallelChunks)
	assert.Equal(t, ByteSize(1<<20), cfg.Engine.MinChunkSize)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, "file", cfg.State.Backend)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/keeper
engine:
  max_parallel_chunks: 8
  min_chunk_size: 4MiB
  flush_bytes: 16777216
retry:
  max_attempts: 3
  base_delay: 500ms
  max_delay: 10s
http:
  user_agent: test-agent
  socket_buffer: 2MiB
  headers:
    X-Token: abc
state:
  backend: s3
  s3:
    bucket: downloads
log:
  level: debug
`)

	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/keeper", cfg.DataDir)
	assert.Equal(t, 8, cfg.Engine.MaxParallelChunks)
	assert.Equal(t, ByteSize(4<<20), cfg.Engine.MinChunkSize)
	assert.Equal(t, ByteSize(16<<20), cfg.Engine.FlushBytes)
	assert.Equal(t, 2*time.Second, cfg.Engine.FlushInterval)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, "test-agent", cfg.HTTP.UserAgent)
	assert.Equal(t, map[string]string{"X-Token": "abc"}, cfg.HTTP.Headers)
	assert.Equal(t, "downloads", cfg.State.S3.Bucket)
	assert.Equal(t, "keeper/downloads.json", cfg.State.S3.Key)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.NoError(t, cfg.Validate())

	client := cfg.HTTPClientConfig()
	assert.True(t, client.HighThreadMode)
	assert.Equal(t, "test-agent", client.UserAgent)
	assert.Equal(t, 2<<20, client.SocketBuffer)
	assert.Equal(t, 30*time.Second, cfg.DownloaderOptions().IdleTimeout)
	assert.Equal(t, int64(4<<20), cfg.DownloaderOptions().MinChunkSize)
	assert.Equal(t, 3, cfg.RetryPolicy().MaxAttempts)
	opts := cfg.ManagerOptions()
	assert.Equal(t, int64(16<<20), opts.FlushBytes)
	assert.Equal(t, 8, opts.Downloader.MaxParallelChunks)
	assert.Equal(t, filepath.Join("/var/lib/keeper", "downloads.json"), cfg.StatePath())
}

func TestLoadMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := Load(missing, false)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Engine.MaxParallelChunks)

	_, err = Load(missing, true)
	assert.Error(t, err)
}

func TestLoadRejectsBadFile(t *testing.T) {
	testCases := map[string]string{
		"bad yaml":     "engine: [",
		"bad size":     "engine:\n  min_chunk_size: lots\n",
		"bad duration": "retry:\n  base_delay: soon\n",
	}

	for scenario, content := range testCases {
		t.Run(scenario, func(t *testing.T) {
			_, err := Load(writeConfig(t, content), true)
			assert.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KEEPER_MAX_PARALLEL_CHUNKS", "6")
	t.Setenv("KEEPER_MIN_CHUNK_SIZE", "2MB")
	t.Setenv("KEEPER_BASE_DELAY", "250ms")
	t.Setenv("KEEPER_USER_AGENT", "env-agent")
	t.Setenv("KEEPER_DATA_DIR", "/tmp/keeper-env")
	path := writeConfig(t, "engine:\n  max_parallel_chunks: 2\n")

	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Engine.MaxParallelChunks)
	assert.Equal(t, ByteSize(2<<20), cfg.Engine.MinChunkSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, "env-agent", cfg.HTTP.UserAgent)
	assert.Equal(t, "/tmp/keeper-env", cfg.DataDir)
}

func TestEnvOverrideErrors(t *testing.T) {
	t.Setenv("KEEPER_MAX_ATTEMPTS", "many")

	_, err := Load("", false)
	assert.ErrorContains(t, err, "KEEPER_MAX_ATTEMPTS")
}

func TestValidate(t *testing.T) {
	testCases := map[string]func(c *Config){
		"zero parallelism":   func(c *Config) { c.Engine.MaxParallelChunks = 0 },
		"negative min chunk": func(c *Config) { c.Engine.MinChunkSize = -1 },
		"zero attempts":      func(c *Config) { c.Retry.MaxAttempts = 0 },
		"inverted delays":    func(c *Config) { c.Retry.MaxDelay = time.Millisecond },
		"unknown backend":    func(c *Config) { c.State.Backend = "redis" },
		"s3 without bucket":  func(c *Config) { c.State.Backend = "s3" },
		"no data dir":        func(c *Config) { c.DataDir = "" },
	}

	for scenario, mutate := range testCases {
		t.Run(scenario, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
