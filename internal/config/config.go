package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, e.g. SPEEDPOOL_STAGING_SLOW.
const EnvPrefix = "SPEEDPOOL"

type Config struct {
	LogLevel   string        `yaml:"log_level" envconfig:"LOG_LEVEL"`
	Provider   string        `yaml:"provider" envconfig:"PROVIDER"`
	Attempts   int           `yaml:"attempts" envconfig:"ATTEMPTS"`
	Quarantine time.Duration `yaml:"quarantine" envconfig:"QUARANTINE"`
	Network    NetworkConfig `yaml:"network" envconfig:"NETWORK"`
	Probe      ProbeConfig   `yaml:"probe" envconfig:"PROBE"`
	Staging    StagingConfig `yaml:"staging" envconfig:"STAGING"`
}

type NetworkConfig struct {
	IPv4      bool   `yaml:"ipv4" envconfig:"IPV4"`
	IPv6      bool   `yaml:"ipv6" envconfig:"IPV6"`
	Interface string `yaml:"interface" envconfig:"INTERFACE"`
	Insecure  bool   `yaml:"insecure" envconfig:"INSECURE"`
}

type ProbeConfig struct {
	MinPingWait    time.Duration `yaml:"min_ping_wait" envconfig:"MIN_PING_WAIT"`
	PerSampleWait  time.Duration `yaml:"per_sample_wait" envconfig:"PER_SAMPLE_WAIT"`
	SampleInterval time.Duration `yaml:"sample_interval" envconfig:"SAMPLE_INTERVAL"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	BufferSize     int           `yaml:"buffer_size" envconfig:"BUFFER_SIZE"`
}

// StagingConfig holds the tuning values of the calibrate-then-test policy.
type StagingConfig struct {
	PingTimes       int           `yaml:"ping_times" envconfig:"PING_TIMES"`
	TransferTimeout time.Duration `yaml:"transfer_timeout" envconfig:"TRANSFER_TIMEOUT"`
	Medium          time.Duration `yaml:"medium" envconfig:"MEDIUM"`
	Slow            time.Duration `yaml:"slow" envconfig:"SLOW"`
	Calibration     Profile       `yaml:"calibration" envconfig:"CALIBRATION"`
	Small           Profile       `yaml:"small" envconfig:"SMALL"`
	Big             Profile       `yaml:"big" envconfig:"BIG"`
}

type Profile struct {
	Servers          int `yaml:"servers" envconfig:"SERVERS"`
	Tests            int `yaml:"tests" envconfig:"TESTS"`
	Concurrency      int `yaml:"concurrency" envconfig:"CONCURRENCY"`
	MegabytesPerTest int `yaml:"megabytes_per_test" envconfig:"MEGABYTES_PER_TEST"`
}

func Default() Config {
	return Config{
		LogLevel:   "warn",
		Provider:   "speedtest",
		Attempts:   2,
		Quarantine: 10 * time.Minute,
		Probe: ProbeConfig{
			MinPingWait:    4 * time.Second,
			PerSampleWait:  1100 * time.Millisecond,
			SampleInterval: time.Second,
			RequestTimeout: 100 * time.Second,
			BufferSize:     5 * 1024 * 1024,
		},
		Staging: StagingConfig{
			PingTimes:       2,
			TransferTimeout: 5 * time.Second,
			Medium:          5 * time.Second,
			Slow:            10 * time.Second,
			Calibration:     Profile{Servers: 2, Tests: 3, Concurrency: 5, MegabytesPerTest: 2},
			Small:           Profile{Servers: 5, Tests: 5, Concurrency: 3, MegabytesPerTest: 10},
			Big:             Profile{Servers: 3, Tests: 10, Concurrency: 5, MegabytesPerTest: 25},
		},
	}
}

// Load layers configuration: defaults, then the YAML file at path (if any),
// then a .env file in the working directory, then the environment. The
// result is not validated; callers apply their own overrides and call
// Validate.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Network.IPv4 && c.Network.IPv6 {
		errs = append(errs, errors.New("ipv4 and ipv6 cannot be used together"))
	}
	if c.Attempts <= 0 {
		errs = append(errs, errors.New("attempts must be a positive number"))
	}
	if c.Quarantine < 0 {
		errs = append(errs, errors.New("quarantine must not be negative"))
	}
	if c.Probe.BufferSize <= 0 {
		errs = append(errs, errors.New("probe buffer size must be a positive number"))
	}
	if c.Staging.PingTimes <= 0 {
		errs = append(errs, errors.New("staging ping times must be a positive number"))
	}
	if c.Staging.Slow < c.Staging.Medium {
		errs = append(errs, fmt.Errorf("staging slow threshold %v is below medium threshold %v", c.Staging.Slow, c.Staging.Medium))
	}
	for name, p := range map[string]Profile{
		"calibration": c.Staging.Calibration,
		"small":       c.Staging.Small,
		"big":         c.Staging.Big,
	} {
		if p.Servers <= 0 || p.Tests <= 0 || p.Concurrency <= 0 || p.MegabytesPerTest <= 0 {
			errs = append(errs, fmt.Errorf("staging %s profile needs positive servers, tests, concurrency and size", name))
		}
	}
	return errors.Join(errs...)
}
