// Package config loads tiercache settings from a YAML file and environment
// variables and turns them into cache options.
package config

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/jingo-vpn/tiercache/cache"
	"github.com/jingo-vpn/tiercache/logger"
	"github.com/jingo-vpn/tiercache/resilience"
	gap "github.com/muesli/go-app-paths"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/api/resource"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TIERCACHE_"

// FileName is the name of the config file looked up in the user config dirs.
const FileName = "config.yaml"

// Size is a byte count written as a Kubernetes quantity ("512Ki", "10Mi",
// "1G") or a plain integer. Zero means unlimited.
type Size struct {
	Bytes int64
}

func (s *Size) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" || strings.EqualFold(raw, "unlimited") {
		s.Bytes = 0
		return nil
	}
	val, err := resource.ParseQuantity(raw)
	if err != nil {
		return errors.Wrapf(err, "invalid size %q", raw)
	}
	if val.Sign() < 0 {
		return errors.Newf("size must be >= 0, got %q", raw)
	}
	n, ok := val.AsInt64()
	if !ok {
		return errors.Newf("size %q is not a whole number of bytes", raw)
	}
	s.Bytes = n
	return nil
}

func (s Size) MarshalText() ([]byte, error) {
	if s.Bytes <= 0 {
		return []byte("unlimited"), nil
	}
	return []byte(resource.NewQuantity(s.Bytes, resource.BinarySI).String()), nil
}

func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Newf("line %d: size must be a scalar", value.Line)
	}
	return s.UnmarshalText([]byte(value.Value))
}

func (s Size) MarshalYAML() (interface{}, error) {
	b, err := s.MarshalText()
	return string(b), err
}

// Duration accepts Go durations plus days and weeks ("1d12h", "2w").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	switch strings.ToLower(raw) {
	case "", "0", "off", "disabled":
		d.Duration = 0
		return nil
	}
	val, err := str2duration.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", raw)
	}
	if val < 0 {
		return errors.Newf("duration must be >= 0, got %q", raw)
	}
	d.Duration = val
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(str2duration.String(d.Duration)), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Newf("line %d: duration must be a scalar", value.Line)
	}
	return d.UnmarshalText([]byte(value.Value))
}

func (d Duration) MarshalYAML() (interface{}, error) {
	b, err := d.MarshalText()
	return string(b), err
}

// Breaker configures when the disk tier stops writing after failures.
type Breaker struct {
	MaxFailures int      `yaml:"max_failures" env:"MAX_FAILURES"`
	Cooldown    Duration `yaml:"cooldown" env:"COOLDOWN"`
}

// Config holds every tiercache setting.
type Config struct {
	Directory       string   `yaml:"directory,omitempty" env:"DIR"`
	MaxMemory       Size     `yaml:"max_memory" env:"MAX_MEMORY"`
	MaxDisk         Size     `yaml:"max_disk" env:"MAX_DISK"`
	DiskEnabled     bool     `yaml:"disk_enabled" env:"DISK_ENABLED"`
	CleanupInterval Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	LogLevel        string   `yaml:"log_level" env:"LOG_LEVEL"`
	Breaker         Breaker  `yaml:"breaker" envPrefix:"BREAKER_"`
}

// Default returns the built-in configuration.
func Default() *Config {
	breaker := resilience.DefaultCircuitBreakerConfig()
	return &Config{
		MaxMemory:       Size{cache.DefaultMaxMemoryBytes},
		MaxDisk:         Size{cache.DefaultMaxDiskBytes},
		DiskEnabled:     true,
		CleanupInterval: Duration{cache.DefaultCleanupInterval},
		LogLevel:        "warn",
		Breaker: Breaker{
			MaxFailures: breaker.MaxFailures,
			Cooldown:    Duration{breaker.Timeout},
		},
	}
}

// Load builds a Config from the defaults, then the YAML file at path, then
// TIERCACHE_* environment variables. An empty path looks for config.yaml in
// the user's config directories and skips the file when there is none.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = lookupDefaultFile()
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "open config %s", path)
		}
		defer f.Close()
		if err := cfg.decode(f); err != nil {
			return nil, errors.Wrapf(err, "decode config %s", path)
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func lookupDefaultFile() string {
	files, err := gap.NewScope(gap.User, cache.AppName).LookupConfig(FileName)
	if err != nil || len(files) == 0 {
		return ""
	}
	return files[0]
}

// Validate reports settings that cannot be applied.
func (c *Config) Validate() error {
	if _, ok := logger.ParseLevel(c.LogLevel); !ok {
		return errors.Newf("invalid log_level %q", c.LogLevel)
	}
	if c.Breaker.MaxFailures < 0 {
		return errors.Newf("breaker.max_failures must be >= 0, got %d", c.Breaker.MaxFailures)
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() logger.LogLevel {
	level, _ := logger.ParseLevel(c.LogLevel)
	return level
}

// Options converts the configuration into cache options.
func (c *Config) Options() []cache.Option {
	opts := []cache.Option{
		cache.WithMaxMemoryBytes(c.MaxMemory.Bytes),
		cache.WithMaxDiskBytes(c.MaxDisk.Bytes),
		cache.WithDiskCache(c.DiskEnabled),
		cache.WithCleanupInterval(c.CleanupInterval.Duration),
		cache.WithLogger(logger.NewConsoleLogger(c.Level())),
		cache.WithDiskBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:      c.Breaker.MaxFailures,
			Timeout:          c.Breaker.Cooldown.Duration,
			SuccessThreshold: 1,
		}),
	}
	if c.Directory != "" {
		opts = append(opts, cache.WithDirectory(c.Directory))
	}
	return opts
}

// Write encodes c as YAML.
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return errors.Wrap(err, "encode config")
	}
	return enc.Close()
}
