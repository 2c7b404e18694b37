package cache

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jingo-vpn/tiercache/logger"
	"github.com/jingo-vpn/tiercache/resilience"
	gap "github.com/muesli/go-app-paths"
)

const (
	// DefaultMaxMemoryBytes is the default memory ceiling (10 MiB).
	DefaultMaxMemoryBytes int64 = 10 << 20
	// DefaultMaxDiskBytes is the default disk ceiling (100 MiB).
	DefaultMaxDiskBytes int64 = 100 << 20
	// DefaultCleanupInterval is the default expiry sweep interval.
	DefaultCleanupInterval = 5 * time.Minute
	// AppName names the per-user cache directory.
	AppName = "tiercache"
)

// config holds the resolved configuration for a Manager.
type config struct {
	maxMemoryBytes  int64
	maxDiskBytes    int64
	diskEnabled     bool
	directory       string
	cleanupInterval time.Duration
	codec           Codec
	log             logger.Logger
	clock           func() time.Time
	breaker         resilience.CircuitBreakerConfig
	store           persister
}

// Option configures a Manager.
type Option func(*config)

func defaultConfig() config {
	return config{
		maxMemoryBytes:  DefaultMaxMemoryBytes,
		maxDiskBytes:    DefaultMaxDiskBytes,
		diskEnabled:     true,
		cleanupInterval: DefaultCleanupInterval,
		codec:           MsgpackCodec{},
		clock:           time.Now,
		breaker:         resilience.DefaultCircuitBreakerConfig(),
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = logger.NewConsoleLogger()
	}
	return cfg
}

// WithMaxMemoryBytes sets the memory ceiling. Zero or less means unlimited.
func WithMaxMemoryBytes(n int64) Option {
	return func(c *config) { c.maxMemoryBytes = n }
}

// WithMaxDiskBytes sets the disk ceiling. Zero or less means unlimited.
func WithMaxDiskBytes(n int64) Option {
	return func(c *config) { c.maxDiskBytes = n }
}

// WithDiskCache enables or disables the disk tier. Enabled by default.
func WithDiskCache(enabled bool) Option {
	return func(c *config) { c.diskEnabled = enabled }
}

// WithDirectory sets the cache directory. Defaults to DefaultDirectory.
func WithDirectory(dir string) Option {
	return func(c *config) { c.directory = dir }
}

// WithCleanupInterval sets the expiry sweep interval. Zero disables the
// background sweep.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *config) { c.cleanupInterval = d }
}

// WithCodec sets the codec used to encode values. Defaults to MsgpackCodec.
func WithCodec(codec Codec) Option {
	return func(c *config) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithLogger sets the logger. Defaults to a console logger.
func WithLogger(log logger.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithClock overrides the time source used for expiry and access tracking.
func WithClock(clock func() time.Time) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithDiskBreaker configures the circuit breaker that stops disk writes after
// repeated failures. MaxFailures of zero never trips.
func WithDiskBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *config) { c.breaker = cfg }
}

// DefaultDirectory returns the per-user cache directory for tiercache.
func DefaultDirectory() (string, error) {
	dir, err := gap.NewScope(gap.User, AppName).CacheDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve user cache directory")
	}
	return dir, nil
}
