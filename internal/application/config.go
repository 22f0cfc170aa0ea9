package application

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-tally/infrastructure/history"
	"github.com/ahrav/go-tally/infrastructure/source"
)

// EngineConfig is the static configuration of a report engine. It is
// loaded once from YAML and shared read-only by every request.
type EngineConfig struct {
	// Version is the configuration schema version.
	Version string `yaml:"version" validate:"required,semver"`

	// Reader tunes pagination and the per-page deadline.
	Reader ReaderConfig `yaml:"reader"`

	// Retry controls backoff for transient page failures.
	Retry RetryConfig `yaml:"retry"`

	// RateLimit caps the page request rate against the store.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// CircuitBreaker stops hammering a store that keeps failing.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`

	// Aggregation controls how rows are folded into totals.
	Aggregation AggregationConfig `yaml:"aggregation"`

	// History tunes historical comparisons.
	History history.Config `yaml:"history"`

	// Seats is the static seat table. Every office that is ranked needs
	// an entry.
	Seats SeatConfig `yaml:"seats" validate:"required"`
}

// ReaderConfig extends the source reader settings with a page deadline.
type ReaderConfig struct {
	source.ReaderConfig `yaml:",inline"`

	// PageTimeoutMS bounds a single page attempt. Zero disables it.
	PageTimeoutMS int `yaml:"page_timeout_ms" validate:"min=0,max=600000"`
}

// PageTimeout returns the page deadline as a duration.
func (c ReaderConfig) PageTimeout() time.Duration {
	return time.Duration(c.PageTimeoutMS) * time.Millisecond
}

// RetryConfig mirrors source.RetryConfig in YAML-friendly units.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries" validate:"min=0,max=10"`

	// InitialWaitMS is the delay before the first retry.
	InitialWaitMS int `yaml:"initial_wait_ms" validate:"min=0,max=60000"`

	// MaxWaitMS caps the delay between retries.
	MaxWaitMS int `yaml:"max_wait_ms" validate:"min=0,max=300000"`

	// Jitter spreads each delay by ±Jitter, as a fraction.
	Jitter float64 `yaml:"jitter" validate:"min=0,max=1"`
}

// Source converts to the middleware configuration.
func (c RetryConfig) Source() source.RetryConfig {
	return source.RetryConfig{
		MaxRetries:    c.MaxRetries,
		BaseDelay:     time.Duration(c.InitialWaitMS) * time.Millisecond,
		MaxDelay:      time.Duration(c.MaxWaitMS) * time.Millisecond,
		JitterPercent: c.Jitter,
	}
}

// RateLimitConfig caps page requests per second. A zero rate disables
// the limiter.
type RateLimitConfig struct {
	PagesPerSecond float64 `yaml:"pages_per_second" validate:"min=0"`
	Burst          int     `yaml:"burst" validate:"min=0"`
}

// Enabled reports whether a limiter should be installed.
func (c RateLimitConfig) Enabled() bool { return c.PagesPerSecond > 0 }

// Limit returns the limiter rate.
func (c RateLimitConfig) Limit() rate.Limit { return rate.Limit(c.PagesPerSecond) }

// CircuitBreakerConfig opens the circuit after MaxFailures consecutive
// failed pages. Zero disables the breaker.
type CircuitBreakerConfig struct {
	MaxFailures int `yaml:"max_failures" validate:"min=0,max=1000"`
	CooldownMS  int `yaml:"cooldown_ms" validate:"min=0,max=3600000"`
}

// Cooldown returns how long the circuit stays open.
func (c CircuitBreakerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMS) * time.Millisecond
}

// AggregationConfig controls folding.
type AggregationConfig struct {
	// Shards is the number of fold goroutines. 0 or 1 folds sequentially.
	Shards int `yaml:"shards" validate:"min=0,max=64"`

	// ExcludedOptions lists option codes whose votes are not counted, for
	// example blank ("95") and null ("96") votes.
	ExcludedOptions []string `yaml:"excluded_options" validate:"dive,required,max=32"`

	// Apportionment is the default party seat method: dhondt,
	// sainte_lague or largest_remainder. Empty ranks parties without
	// seats.
	Apportionment string `yaml:"apportionment" validate:"omitempty,oneof=dhondt sainte_lague largest_remainder"`
}

// SeatConfig holds seat counts per office code.
type SeatConfig struct {
	Offices map[string]OfficeSeats `yaml:"offices" validate:"required,min=1,dive"`
}

// OfficeSeats configures one office. Offices contested locally, such as
// city councils, set PerMunicipality and list per-municipality counts. An
// unlisted municipality is a configuration error unless DefaultSeats is
// set; Seats is the office-wide count and only applies to offices that are
// not ranked per municipality.
type OfficeSeats struct {
	Seats           *int           `yaml:"seats" validate:"omitempty,min=1,max=10000"`
	PerMunicipality bool           `yaml:"per_municipality"`
	Municipalities  map[string]int `yaml:"municipalities" validate:"dive,min=1,max=10000"`
	DefaultSeats    *int           `yaml:"default_seats" validate:"omitempty,min=1,max=10000"`
}

// DefaultEngineConfig returns the values used for any key a YAML file
// leaves out. It has no seat table.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Version: "1.0.0",
		Reader: ReaderConfig{
			ReaderConfig: source.ReaderConfig{
				PageSize:       source.DefaultPageSize,
				PrefetchWindow: source.DefaultPrefetchWindow,
			},
			PageTimeoutMS: 30000,
		},
		Retry: RetryConfig{
			MaxRetries:    source.DefaultMaxRetries,
			InitialWaitMS: int(source.DefaultBaseDelay / time.Millisecond),
			MaxWaitMS:     int(source.DefaultMaxDelay / time.Millisecond),
			Jitter:        source.DefaultJitterPercent,
		},
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 5, CooldownMS: 30000},
		History:        history.Config{Threshold: history.DefaultThreshold},
	}
}
