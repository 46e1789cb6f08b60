package config

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/username/sidekick/pkg/core"
	"gopkg.in/yaml.v3"
)

const (
	DefaultInterval     = 50
	DefaultPollInterval = 2 * time.Second
	DefaultRetryDelay   = 1 * time.Second
	DefaultMaxRetries   = 5
)

// Config holds the configuration for the checkpoint watcher
type Config struct {
	RPCURL             string        `yaml:"rpc_url"`
	OracleRPCURL       string        `yaml:"oracle_rpc_url"` // defaults to rpc_url
	CheckpointContract string        `yaml:"checkpoint_contract"`
	CheckpointInterval int64         `yaml:"checkpoint_interval"`
	SkipMissingHistory bool          `yaml:"skip_missing_history"`
	CallFrom           string        `yaml:"call_from"`
	MinRewindHeight    uint64        `yaml:"min_rewind_height"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	MaxRetries         int           `yaml:"max_retries"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	SinkDriver         string        `yaml:"sink_driver"` // stdout, postgres, sqlite or redis
	SinkDSN            string        `yaml:"sink_dsn"`    // path for sqlite, DSN for postgres, URL for redis
	MetricsAddr        string        `yaml:"metrics_addr"`
	LogLevel           string        `yaml:"log_level"`
	LogFormat          string        `yaml:"log_format"`
	LogFile            string        `yaml:"log_file"`
}

// Default returns the configuration used when nothing overrides a field
func Default() *Config {
	return &Config{
		RPCURL:             "ws://localhost:8546",
		CheckpointInterval: DefaultInterval,
		PollInterval:       DefaultPollInterval,
		MaxRetries:         DefaultMaxRetries,
		RetryDelay:         DefaultRetryDelay,
		SinkDriver:         "stdout",
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Load loads configuration from environment variables or a config file
func Load() (*Config, error) {
	// 1. Check if config file is specified
	if configPath := os.Getenv("SIDEKICK_CONFIG_PATH"); configPath != "" {
		return LoadFromFile(configPath)
	}

	// 2. Fallback to env vars
	cfg := Default()
	env := &envReader{}
	cfg.RPCURL = env.String("SIDEKICK_RPC_URL", cfg.RPCURL)
	cfg.OracleRPCURL = env.String("SIDEKICK_ORACLE_RPC_URL", cfg.OracleRPCURL)
	cfg.CheckpointContract = env.String("SIDEKICK_CHECKPOINT_CONTRACT", cfg.CheckpointContract)
	cfg.CheckpointInterval = env.Int64("SIDEKICK_CHECKPOINT_INTERVAL", cfg.CheckpointInterval)
	cfg.SkipMissingHistory = env.Bool("SIDEKICK_SKIP_MISSING_HISTORY", cfg.SkipMissingHistory)
	cfg.CallFrom = env.String("SIDEKICK_CALL_FROM", cfg.CallFrom)
	cfg.MinRewindHeight = env.Uint64("SIDEKICK_MIN_REWIND_HEIGHT", cfg.MinRewindHeight)
	cfg.PollInterval = env.Duration("SIDEKICK_POLL_INTERVAL", cfg.PollInterval)
	cfg.MaxRetries = env.Int("SIDEKICK_MAX_RETRIES", cfg.MaxRetries)
	cfg.RetryDelay = env.Duration("SIDEKICK_RETRY_DELAY", cfg.RetryDelay)
	cfg.SinkDriver = env.String("SIDEKICK_SINK_DRIVER", cfg.SinkDriver)
	cfg.SinkDSN = env.String("SIDEKICK_SINK_DSN", cfg.SinkDSN)
	cfg.MetricsAddr = env.String("SIDEKICK_METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = env.String("SIDEKICK_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = env.String("SIDEKICK_LOG_FORMAT", cfg.LogFormat)
	cfg.LogFile = env.String("SIDEKICK_LOG_FILE", cfg.LogFile)
	if env.err != nil {
		return nil, env.err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file. Fields missing from the
// file keep their defaults; fields present keep the value written, zero included.
func LoadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config file")
	}
	defer f.Close()

	cfg := Default()
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to decode config file")
	}
	return cfg, nil
}

// OracleURL returns the endpoint serving oracle calls
func (c *Config) OracleURL() string {
	if c.OracleRPCURL != "" {
		return c.OracleRPCURL
	}
	return c.RPCURL
}

// Checkpoint validates the checkpoint settings and converts them for the watcher
func (c *Config) Checkpoint() (core.CheckpointConfig, error) {
	if c.CheckpointInterval <= 0 {
		return core.CheckpointConfig{}, errors.Wrapf(core.ErrConfig, "checkpoint_interval must be positive, got %d", c.CheckpointInterval)
	}
	if !common.IsHexAddress(c.CheckpointContract) {
		return core.CheckpointConfig{}, errors.Wrapf(core.ErrConfig, "checkpoint_contract %q is not an address", c.CheckpointContract)
	}
	cfg := core.CheckpointConfig{
		Interval:           uint64(c.CheckpointInterval),
		OracleTarget:       common.HexToAddress(c.CheckpointContract),
		SkipMissingHistory: c.SkipMissingHistory,
	}
	return cfg, cfg.Validate()
}

// From returns the sender address used for oracle calls
func (c *Config) From() (common.Address, error) {
	if c.CallFrom == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(c.CallFrom) {
		return common.Address{}, errors.Wrapf(core.ErrConfig, "call_from %q is not an address", c.CallFrom)
	}
	return common.HexToAddress(c.CallFrom), nil
}

// envReader reads typed environment variables and keeps the first parse error
type envReader struct {
	err error
}

func (r *envReader) lookup(key string, parse func(string) error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if err := parse(value); err != nil && r.err == nil {
		r.err = errors.Wrapf(core.ErrConfig, "%s=%q: %v", key, value, err)
	}
}

func (r *envReader) String(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func (r *envReader) Duration(key string, fallback time.Duration) time.Duration {
	r.lookup(key, func(value string) (err error) {
		fallback, err = time.ParseDuration(value)
		return err
	})
	return fallback
}

func (r *envReader) Uint64(key string, fallback uint64) uint64 {
	r.lookup(key, func(value string) (err error) {
		fallback, err = strconv.ParseUint(value, 10, 64)
		return err
	})
	return fallback
}

func (r *envReader) Int64(key string, fallback int64) int64 {
	r.lookup(key, func(value string) (err error) {
		fallback, err = strconv.ParseInt(value, 10, 64)
		return err
	})
	return fallback
}

func (r *envReader) Int(key string, fallback int) int {
	r.lookup(key, func(value string) (err error) {
		fallback, err = strconv.Atoi(value)
		return err
	})
	return fallback
}

func (r *envReader) Bool(key string, fallback bool) bool {
	r.lookup(key, func(value string) (err error) {
		fallback, err = strconv.ParseBool(value)
		return err
	})
	return fallback
}
