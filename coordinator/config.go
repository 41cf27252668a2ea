package coordinator

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"veilnet.io/errors"
)

// fileConfig mirrors the subset of Config exposed to YAML, every field
// a pointer so LoadConfig can tell "absent" from "explicitly zero" and
// only override what the file actually sets: defaults, then file, then
// environment, each layer overriding the last.
type fileConfig struct {
	SegmentSize     *int    `yaml:"segment_size"`
	RedundancyLevel *int    `yaml:"redundancy_level"`
	Newsgroup       *string `yaml:"newsgroup"`
	FromHeader      *string `yaml:"from_header"`

	ScryptN *int `yaml:"scrypt_n"`
	ScryptR *int `yaml:"scrypt_r"`
	ScryptP *int `yaml:"scrypt_p"`

	ScanChunkSize     *int  `yaml:"scan_chunk_size"`
	ScanConcurrency   *int  `yaml:"scan_concurrency"`
	DownloadWorkers   *int  `yaml:"download_workers"`
	VerifyBeforeRetry *bool `yaml:"verify_before_retry"`

	Pool struct {
		Host           *string `yaml:"host"`
		Port           *int    `yaml:"port"`
		TLS            *bool   `yaml:"tls"`
		Username       *string `yaml:"username"`
		Password       *string `yaml:"password"`
		MinIdle        *int    `yaml:"min_idle"`
		MaxOpen        *int    `yaml:"max_open"`
		IdleTimeout    *string `yaml:"idle_timeout"`
		MaxLifetime    *string `yaml:"max_lifetime"`
		AcquireTimeout *string `yaml:"acquire_timeout"`
		ProbeInterval  *string `yaml:"probe_interval"`
	} `yaml:"pool"`

	Upload struct {
		Workers        *int    `yaml:"workers"`
		MaxAttempts    *int    `yaml:"max_attempts"`
		BackoffBase    *string `yaml:"backoff_base"`
		BackoffCap     *string `yaml:"backoff_cap"`
		QueueHighWater *int    `yaml:"queue_high_water"`
		QueueLowWater  *int    `yaml:"queue_low_water"`
	} `yaml:"upload"`
}

// LoadConfig builds a Config by layering a YAML file and a fixed set
// of environment variable overrides on top of DefaultConfig. path may
// be empty, in which case only defaults and the environment apply.
func LoadConfig(path string) (Config, error) {
	const op = "coordinator.LoadConfig"
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.E(op, err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, errors.E(op, err)
		}
		if err := applyFileConfig(&cfg, &fc); err != nil {
			return Config{}, errors.E(op, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyFileConfig(cfg *Config, fc *fileConfig) error {
	const op = "coordinator.applyFileConfig"
	if fc.SegmentSize != nil {
		cfg.SegmentSize = *fc.SegmentSize
	}
	if fc.RedundancyLevel != nil {
		cfg.RedundancyLevel = *fc.RedundancyLevel
	}
	if fc.Newsgroup != nil {
		cfg.Newsgroup = *fc.Newsgroup
	}
	if fc.FromHeader != nil {
		cfg.FromHeader = *fc.FromHeader
	}
	if fc.ScryptN != nil {
		cfg.ScryptN = *fc.ScryptN
	}
	if fc.ScryptR != nil {
		cfg.ScryptR = *fc.ScryptR
	}
	if fc.ScryptP != nil {
		cfg.ScryptP = *fc.ScryptP
	}
	if fc.ScanChunkSize != nil {
		cfg.ScanChunkSize = *fc.ScanChunkSize
	}
	if fc.ScanConcurrency != nil {
		cfg.ScanConcurrency = *fc.ScanConcurrency
	}
	if fc.DownloadWorkers != nil {
		cfg.DownloadWorkers = *fc.DownloadWorkers
	}
	if fc.VerifyBeforeRetry != nil {
		cfg.VerifyBeforeRetry = *fc.VerifyBeforeRetry
	}

	if fc.Pool.Host != nil {
		cfg.Pool.Host = *fc.Pool.Host
	}
	if fc.Pool.Port != nil {
		cfg.Pool.Port = *fc.Pool.Port
	}
	if fc.Pool.TLS != nil {
		cfg.Pool.TLS = *fc.Pool.TLS
	}
	if fc.Pool.Username != nil {
		cfg.Pool.Username = *fc.Pool.Username
	}
	if fc.Pool.Password != nil {
		cfg.Pool.Password = *fc.Pool.Password
	}
	if fc.Pool.MinIdle != nil {
		cfg.Pool.MinIdle = *fc.Pool.MinIdle
	}
	if fc.Pool.MaxOpen != nil {
		cfg.Pool.MaxOpen = *fc.Pool.MaxOpen
	}
	var err error
	if cfg.Pool.IdleTimeout, err = parseDurationOverride(fc.Pool.IdleTimeout, cfg.Pool.IdleTimeout); err != nil {
		return errors.E(op, err)
	}
	if cfg.Pool.MaxLifetime, err = parseDurationOverride(fc.Pool.MaxLifetime, cfg.Pool.MaxLifetime); err != nil {
		return errors.E(op, err)
	}
	if cfg.Pool.AcquireTimeout, err = parseDurationOverride(fc.Pool.AcquireTimeout, cfg.Pool.AcquireTimeout); err != nil {
		return errors.E(op, err)
	}
	if cfg.Pool.ProbeInterval, err = parseDurationOverride(fc.Pool.ProbeInterval, cfg.Pool.ProbeInterval); err != nil {
		return errors.E(op, err)
	}

	if fc.Upload.Workers != nil {
		cfg.Upload.Workers = *fc.Upload.Workers
	}
	if fc.Upload.MaxAttempts != nil {
		cfg.Upload.MaxAttempts = *fc.Upload.MaxAttempts
	}
	if fc.Upload.QueueHighWater != nil {
		cfg.Upload.QueueHighWater = *fc.Upload.QueueHighWater
	}
	if fc.Upload.QueueLowWater != nil {
		cfg.Upload.QueueLowWater = *fc.Upload.QueueLowWater
	}
	if cfg.Upload.BackoffBase, err = parseDurationOverride(fc.Upload.BackoffBase, cfg.Upload.BackoffBase); err != nil {
		return errors.E(op, err)
	}
	if cfg.Upload.BackoffCap, err = parseDurationOverride(fc.Upload.BackoffCap, cfg.Upload.BackoffCap); err != nil {
		return errors.E(op, err)
	}
	return nil
}

func parseDurationOverride(s *string, current time.Duration) (time.Duration, error) {
	if s == nil {
		return current, nil
	}
	return time.ParseDuration(*s)
}

// applyEnvOverrides applies the small set of environment variables
// documented for production deployment, each taking precedence over
// both defaults and the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VEILNET_NEWSGROUP"); v != "" {
		cfg.Newsgroup = v
	}
	if v := os.Getenv("VEILNET_FROM_HEADER"); v != "" {
		cfg.FromHeader = v
	}
	if v := os.Getenv("VEILNET_POOL_HOST"); v != "" {
		cfg.Pool.Host = v
	}
	if v := os.Getenv("VEILNET_POOL_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.Port = n
		}
	}
	if v := os.Getenv("VEILNET_POOL_USERNAME"); v != "" {
		cfg.Pool.Username = v
	}
	if v := os.Getenv("VEILNET_POOL_PASSWORD"); v != "" {
		cfg.Pool.Password = v
	}
}
