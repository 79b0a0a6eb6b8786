package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tanq16/keeper/internal/downloader"
	"github.com/tanq16/keeper/internal/manager"
	"github.com/tanq16/keeper/internal/retry"
	"github.com/tanq16/keeper/internal/utils"
)

type Config struct {
	DataDir     string       `yaml:"data_dir"`
	Engine      EngineConfig `yaml:"engine"`
	Retry       RetryConfig  `yaml:"retry"`
	HTTP        HTTPConfig   `yaml:"http"`
	State       StateConfig  `yaml:"state"`
	Log         LogConfig    `yaml:"log"`
	MetricsAddr string       `yaml:"metrics_addr"`
}

type EngineConfig struct {
	MaxParallelChunks int           `yaml:"max_parallel_chunks"`
	MinChunkSize      ByteSize      `yaml:"min_chunk_size"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
	FlushBytes        ByteSize      `yaml:"flush_bytes"`
	ProgressInterval  time.Duration `yaml:"progress_interval"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type HTTPConfig struct {
	Timeout          time.Duration     `yaml:"timeout"`
	KeepAliveTimeout time.Duration     `yaml:"keep_alive_timeout"`
	UserAgent        string            `yaml:"user_agent"`
	Proxy            string            `yaml:"proxy"`
	ProxyUsername    string            `yaml:"proxy_username"`
	ProxyPassword    string            `yaml:"proxy_password"`
	AuthToken        string            `yaml:"auth_token"`
	Headers          map[string]string `yaml:"headers"`
	SocketBuffer     ByteSize          `yaml:"socket_buffer"`
}

type StateConfig struct {
	Backend string   `yaml:"backend"`
	S3      S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket  string `yaml:"bucket"`
	Key     string `yaml:"key"`
	Profile string `yaml:"profile"`
	Region  string `yaml:"region"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ByteSize accepts either a plain integer or a string such as "1MiB".
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	size, err := utils.ParseBytes(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %v", value.Line, err)
	}
	*b = ByteSize(size)
	return nil
}

func Default() Config {
	return Config{
		DataDir: utils.DataDir(),
		Engine: EngineConfig{
			MaxParallelChunks: 4,
			MinChunkSize:      1 << 20,
			FlushInterval:     2 * time.Second,
			FlushBytes:        8 << 20,
			ProgressInterval:  200 * time.Millisecond,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		},
		HTTP: HTTPConfig{
			Timeout:          30 * time.Second,
			KeepAliveTimeout: 90 * time.Second,
			UserAgent:        utils.ToolUserAgent,
			SocketBuffer:     utils.DefaultSocketBuffer,
		},
		State: StateConfig{
			Backend: "file",
			S3:      S3Config{Key: "keeper/" + utils.StateFileName},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, an optional .env file in the
// working directory, the YAML file at path and KEEPER_* variables, in that
// order of precedence. A missing file is only an error when required is set.
func Load(path string, required bool) (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return Config{}, fmt.Errorf("failed to load .env: %w", err)
		}
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !required:
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from KEEPER_* environment variables.
func (c *Config) ApplyEnv() error {
	c.DataDir = GetEnv("KEEPER_DATA_DIR", c.DataDir)
	c.Log.Level = GetEnv("KEEPER_LOG_LEVEL", c.Log.Level)
	c.State.Backend = GetEnv("KEEPER_STATE_BACKEND", c.State.Backend)
	c.State.S3.Bucket = GetEnv("KEEPER_S3_BUCKET", c.State.S3.Bucket)
	c.State.S3.Key = GetEnv("KEEPER_S3_KEY", c.State.S3.Key)
	c.HTTP.AuthToken = GetEnv("KEEPER_AUTH_TOKEN", c.HTTP.AuthToken)
	c.HTTP.UserAgent = GetEnv("KEEPER_USER_AGENT", c.HTTP.UserAgent)
	c.HTTP.Proxy = GetEnv("KEEPER_PROXY", c.HTTP.Proxy)
	c.MetricsAddr = GetEnv("KEEPER_METRICS_ADDR", c.MetricsAddr)

	var err error
	if c.Engine.MaxParallelChunks, err = GetEnvInt("KEEPER_MAX_PARALLEL_CHUNKS", c.Engine.MaxParallelChunks); err != nil {
		return err
	}
	if c.Retry.MaxAttempts, err = GetEnvInt("KEEPER_MAX_ATTEMPTS", c.Retry.MaxAttempts); err != nil {
		return err
	}
	if c.Retry.BaseDelay, err = GetEnvDuration("KEEPER_BASE_DELAY", c.Retry.BaseDelay); err != nil {
		return err
	}
	if c.Retry.MaxDelay, err = GetEnvDuration("KEEPER_MAX_DELAY", c.Retry.MaxDelay); err != nil {
		return err
	}
	size, err := GetEnvBytes("KEEPER_MIN_CHUNK_SIZE", int64(c.Engine.MinChunkSize))
	if err != nil {
		return err
	}
	c.Engine.MinChunkSize = ByteSize(size)
	return nil
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir is required")
	}
	if c.Engine.MaxParallelChunks < 1 {
		return fmt.Errorf("config: engine.max_parallel_chunks must be at least 1, got %d", c.Engine.MaxParallelChunks)
	}
	if c.Engine.MinChunkSize < 1 {
		return fmt.Errorf("config: engine.min_chunk_size must be positive, got %d", c.Engine.MinChunkSize)
	}
	if c.Engine.FlushInterval <= 0 || c.Engine.ProgressInterval <= 0 || c.Engine.FlushBytes < 1 {
		return errors.New("config: engine flush and progress intervals must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return errors.New("config: retry delays must satisfy 0 <= base_delay <= max_delay")
	}
	switch c.State.Backend {
	case "file":
	case "s3":
		if c.State.S3.Bucket == "" || c.State.S3.Key == "" {
			return errors.New("config: state.s3.bucket and state.s3.key are required for the s3 backend")
		}
	default:
		return fmt.Errorf("config: unknown state backend %q", c.State.Backend)
	}
	return nil
}

func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, utils.StateFileName)
}

func (c *Config) DownloaderOptions() downloader.Options {
	return downloader.Options{
		MaxParallelChunks: c.Engine.MaxParallelChunks,
		MinChunkSize:      int64(c.Engine.MinChunkSize),
		BufferSize:        utils.DefaultBufferSize,
		IdleTimeout:       c.HTTP.Timeout,
	}
}

func (c *Config) ManagerOptions() manager.Options {
	return manager.Options{
		Downloader:       c.DownloaderOptions(),
		Retry:            c.RetryPolicy(),
		FlushInterval:    c.Engine.FlushInterval,
		FlushBytes:       int64(c.Engine.FlushBytes),
		ProgressInterval: c.Engine.ProgressInterval,
	}
}

func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
	}
}

func (c *Config) HTTPClientConfig() utils.HTTPClientConfig {
	return utils.HTTPClientConfig{
		Timeout:        c.HTTP.Timeout,
		KATimeout:      c.HTTP.KeepAliveTimeout,
		ProxyURL:       c.HTTP.Proxy,
		ProxyUsername:  c.HTTP.ProxyUsername,
		ProxyPassword:  c.HTTP.ProxyPassword,
		UserAgent:      c.HTTP.UserAgent,
		Headers:        c.HTTP.Headers,
		AuthToken:      c.HTTP.AuthToken,
		HighThreadMode: c.Engine.MaxParallelChunks > 5,
		SocketBuffer:   int(c.HTTP.SocketBuffer),
	}
}
