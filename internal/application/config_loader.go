package application

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-tally/internal/domain"
)

// ConfigLoader parses, validates and caches engine configuration files.
// Identical documents are parsed once; concurrent loads of the same
// document share one parse.
type ConfigLoader struct {
	validator *validator.Validate

	// cache maps the SHA256 of a normalized config to the parsed value.
	// Cached configs MUST NOT be mutated.
	cache   map[string]*EngineConfig
	cacheMu sync.RWMutex
	sf      singleflight.Group
}

// NewConfigLoader creates a loader with an empty cache.
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{
		validator: validator.New(),
		cache:     make(map[string]*EngineConfig),
	}
}

// LoadFromFile loads an engine config from a YAML file.
// The returned config is shared and must not be mutated.
func (cl *ConfigLoader) LoadFromFile(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return cl.load(data)
}

// LoadFromReader loads an engine config from r.
// The returned config is shared and must not be mutated.
func (cl *ConfigLoader) LoadFromReader(r io.Reader) (*EngineConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	return cl.load(data)
}

func (cl *ConfigLoader) load(data []byte) (*EngineConfig, error) {
	cfg, err := cl.parseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	hash, err := configHash(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate hash: %w", err)
	}

	v, err, _ := cl.sf.Do(hash, func() (any, error) {
		if cached, ok := cl.cached(hash); ok {
			return cached, nil
		}
		if err := cl.validateConfig(cfg); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
		cl.cacheMu.Lock()
		cl.cache[hash] = cfg
		cl.cacheMu.Unlock()
		return cfg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*EngineConfig), nil
}

// parseYAML decodes onto DefaultEngineConfig so omitted keys keep their
// defaults. Unknown keys are rejected.
func (cl *ConfigLoader) parseYAML(data []byte) (*EngineConfig, error) {
	cfg := DefaultEngineConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", domain.ErrInvalidConfiguration)
		}
		return nil, fmt.Errorf("YAML decode failed: %w", err)
	}
	return &cfg, nil
}

func (cl *ConfigLoader) validateConfig(cfg *EngineConfig) error {
	if err := cl.validator.Struct(cfg); err != nil {
		return fmt.Errorf("%w: struct validation failed: %w", domain.ErrInvalidConfiguration, err)
	}
	if err := validateSemantics(cfg); err != nil {
		return fmt.Errorf("%w: semantic validation failed: %w", domain.ErrInvalidConfiguration, err)
	}
	return nil
}

// validateSemantics checks rules that struct tags cannot express and
// reports all of them at once.
func validateSemantics(cfg *EngineConfig) error {
	verr := domain.NewValidationError("engine config")

	for office, s := range cfg.Seats.Offices {
		if strings.TrimSpace(office) == "" {
			verr.AddError("seats: empty office code")
			continue
		}
		if s.PerMunicipality {
			if s.Seats != nil {
				verr.AddError(fmt.Sprintf("seats.%s: seats is office-wide; use default_seats for unlisted municipalities", office))
			}
			if len(s.Municipalities) == 0 && s.DefaultSeats == nil {
				verr.AddError(fmt.Sprintf("seats.%s: no seat count configured", office))
			}
			continue
		}
		if len(s.Municipalities) > 0 {
			verr.AddError(fmt.Sprintf("seats.%s: municipalities require per_municipality", office))
		}
		if s.DefaultSeats != nil {
			verr.AddError(fmt.Sprintf("seats.%s: default_seats requires per_municipality", office))
		}
		if s.Seats == nil {
			verr.AddError(fmt.Sprintf("seats.%s: no seat count configured", office))
		}
	}

	if cfg.Retry.MaxWaitMS > 0 && cfg.Retry.MaxWaitMS < cfg.Retry.InitialWaitMS {
		verr.AddError("retry: max_wait_ms is below initial_wait_ms")
	}
	if cfg.RateLimit.Enabled() && cfg.RateLimit.Burst < 1 {
		verr.AddError("rate_limit: burst must be at least 1 when pages_per_second is set")
	}
	if cfg.CircuitBreaker.MaxFailures > 0 && cfg.CircuitBreaker.CooldownMS == 0 {
		verr.AddError("circuit_breaker: cooldown_ms is required when max_failures is set")
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

func (cl *ConfigLoader) cached(hash string) (*EngineConfig, bool) {
	cl.cacheMu.RLock()
	defer cl.cacheMu.RUnlock()
	cfg, ok := cl.cache[hash]
	return cfg, ok
}

// configHash hashes the re-encoded config so formatting and key order do
// not matter.
func configHash(cfg *EngineConfig) (string, error) {
	normalized, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}
