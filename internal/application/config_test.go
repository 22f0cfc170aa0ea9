package application

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-tally/infrastructure/source"
	"github.com/ahrav/go-tally/internal/domain"
)

const minimalConfig = `
version: "1.0.0"
seats:
  offices:
    mayor:
      seats: 1
`

func TestConfigLoader_LoadFromReader(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		errMsg  string
		verify  func(t *testing.T, cfg *EngineConfig)
	}{
		{
			name: "minimal config keeps defaults",
			yaml: minimalConfig,
			verify: func(t *testing.T, cfg *EngineConfig) {
				assert.Equal(t, "1.0.0", cfg.Version)
				assert.Equal(t, source.DefaultPageSize, cfg.Reader.PageSize)
				assert.Equal(t, source.DefaultPrefetchWindow, cfg.Reader.PrefetchWindow)
				assert.Equal(t, 30*time.Second, cfg.Reader.PageTimeout())
				assert.Equal(t, source.DefaultMaxRetries, cfg.Retry.MaxRetries)
				assert.Equal(t, 5, cfg.CircuitBreaker.MaxFailures)
				assert.False(t, cfg.RateLimit.Enabled())
				require.NotNil(t, cfg.Seats.Offices["mayor"].Seats)
				assert.Equal(t, 1, *cfg.Seats.Offices["mayor"].Seats)
			},
		},
		{
			name: "full config",
			yaml: `
version: "1.2.0"
reader:
  page_size: 1000
  prefetch_window: 4
  page_timeout_ms: 5000
retry:
  max_retries: 5
  initial_wait_ms: 100
  max_wait_ms: 2000
  jitter: 0.1
rate_limit:
  pages_per_second: 20
  burst: 5
circuit_breaker:
  max_failures: 3
  cooldown_ms: 1000
aggregation:
  shards: 4
  excluded_options: ["95", "96"]
  apportionment: dhondt
history:
  threshold: 2.5
  fuzzy_max_distance: 2
seats:
  offices:
    mayor:
      seats: 1
    council:
      default_seats: 9
      per_municipality: true
      municipalities:
        Recife: 39
        Olinda: 17
`,
			verify: func(t *testing.T, cfg *EngineConfig) {
				assert.Equal(t, 1000, cfg.Reader.PageSize)
				assert.Equal(t, 4, cfg.Reader.PrefetchWindow)
				assert.Equal(t, 5*time.Second, cfg.Reader.PageTimeout())

				rc := cfg.Retry.Source()
				assert.Equal(t, 5, rc.MaxRetries)
				assert.Equal(t, 100*time.Millisecond, rc.BaseDelay)
				assert.Equal(t, 2*time.Second, rc.MaxDelay)
				assert.InDelta(t, 0.1, rc.JitterPercent, 1e-12)

				assert.True(t, cfg.RateLimit.Enabled())
				assert.InDelta(t, 20, float64(cfg.RateLimit.Limit()), 1e-12)
				assert.Equal(t, time.Second, cfg.CircuitBreaker.Cooldown())

				assert.Equal(t, 4, cfg.Aggregation.Shards)
				assert.Equal(t, []string{"95", "96"}, cfg.Aggregation.ExcludedOptions)
				assert.Equal(t, "dhondt", cfg.Aggregation.Apportionment)
				assert.InDelta(t, 2.5, cfg.History.Threshold, 1e-12)
				assert.Equal(t, 2, cfg.History.FuzzyMaxDistance)

				council := cfg.Seats.Offices["council"]
				assert.True(t, council.PerMunicipality)
				require.NotNil(t, council.DefaultSeats)
				assert.Equal(t, 9, *council.DefaultSeats)
				assert.Nil(t, council.Seats)
				assert.Equal(t, 39, council.Municipalities["Recife"])
			},
		},
		{
			name:    "empty document",
			yaml:    "",
			wantErr: true,
			errMsg:  "empty document",
		},
		{
			name: "unknown field",
			yaml: minimalConfig + `
unknown_section: true
`,
			wantErr: true,
			errMsg:  "unknown_section",
		},
		{
			name: "bad version",
			yaml: `
version: "one"
seats:
  offices:
    mayor:
      seats: 1
`,
			wantErr: true,
			errMsg:  "Version",
		},
		{
			name:    "no seats",
			yaml:    `version: "1.0.0"`,
			wantErr: true,
			errMsg:  "Offices",
		},
		{
			name: "unknown apportionment",
			yaml: minimalConfig + `
aggregation:
  apportionment: quota
`,
			wantErr: true,
			errMsg:  "Apportionment",
		},
		{
			name: "page size out of range",
			yaml: minimalConfig + `
reader:
  page_size: 20000
`,
			wantErr: true,
			errMsg:  "PageSize",
		},
		{
			name: "municipalities without per_municipality",
			yaml: `
version: "1.0.0"
seats:
  offices:
    council:
      municipalities:
        Recife: 39
`,
			wantErr: true,
			errMsg:  "municipalities require per_municipality",
		},
		{
			name: "office without any seat count",
			yaml: `
version: "1.0.0"
seats:
  offices:
    governor: {}
`,
			wantErr: true,
			errMsg:  "no seat count configured",
		},
		{
			name: "zero seats",
			yaml: `
version: "1.0.0"
seats:
  offices:
    mayor:
      seats: 0
`,
			wantErr: true,
			errMsg:  "Seats",
		},
		{
			name: "zero seats for a municipality",
			yaml: `
version: "1.0.0"
seats:
  offices:
    council:
      per_municipality: true
      municipalities:
        Recife: 0
`,
			wantErr: true,
			errMsg:  "Municipalities",
		},
		{
			name: "office-wide seats on a local office",
			yaml: `
version: "1.0.0"
seats:
  offices:
    council:
      seats: 9
      per_municipality: true
      municipalities:
        Recife: 39
`,
			wantErr: true,
			errMsg:  "use default_seats for unlisted municipalities",
		},
		{
			name: "default seats without per_municipality",
			yaml: `
version: "1.0.0"
seats:
  offices:
    mayor:
      seats: 1
      default_seats: 1
`,
			wantErr: true,
			errMsg:  "default_seats requires per_municipality",
		},
		{
			name: "retry waits inverted",
			yaml: minimalConfig + `
retry:
  initial_wait_ms: 500
  max_wait_ms: 100
`,
			wantErr: true,
			errMsg:  "max_wait_ms is below initial_wait_ms",
		},
		{
			name: "rate limit without burst",
			yaml: minimalConfig + `
rate_limit:
  pages_per_second: 10
`,
			wantErr: true,
			errMsg:  "burst must be at least 1",
		},
		{
			name: "breaker without cooldown",
			yaml: minimalConfig + `
circuit_breaker:
  max_failures: 3
  cooldown_ms: 0
`,
			wantErr: true,
			errMsg:  "cooldown_ms is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewConfigLoader().LoadFromReader(strings.NewReader(tt.yaml))
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			if tt.verify != nil {
				tt.verify(t, cfg)
			}
		})
	}
}

func TestConfigLoader_ErrorsWrapInvalidConfiguration(t *testing.T) {
	_, err := NewConfigLoader().LoadFromReader(strings.NewReader(`version: "1.0.0"
seats:
  offices:
    governor: {}
    council:
      municipalities: {Recife: 1}
`))
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Errors, 2, "all semantic problems are reported together")
}

func TestConfigLoader_Caching(t *testing.T) {
	loader := NewConfigLoader()

	first, err := loader.LoadFromReader(strings.NewReader(minimalConfig))
	require.NoError(t, err)

	// Same document with different formatting and key order.
	reordered := `
seats: {offices: {mayor: {seats: 1}}}
version: "1.0.0"
`
	second, err := loader.LoadFromReader(strings.NewReader(reordered))
	require.NoError(t, err)
	assert.Same(t, first, second)

	changed, err := loader.LoadFromReader(strings.NewReader(minimalConfig + "aggregation: {shards: 2}\n"))
	require.NoError(t, err)
	assert.NotSame(t, first, changed)
}

func TestConfigLoader_ConcurrentLoads(t *testing.T) {
	loader := NewConfigLoader()

	const n = 16
	results := make([]*EngineConfig, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cfg, err := loader.LoadFromReader(strings.NewReader(minimalConfig))
			assert.NoError(t, err)
			results[i] = cfg
		}()
	}
	wg.Wait()

	for _, cfg := range results[1:] {
		assert.Same(t, results[0], cfg)
	}
}

func TestConfigLoader_LoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalConfig), 0o600))

	cfg, err := NewConfigLoader().LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", cfg.Version)

	_, err = NewConfigLoader().LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSeatTable(t *testing.T) {
	table := NewSeatTable(SeatConfig{Offices: map[string]OfficeSeats{
		"mayor": {Seats: seatCount(1)},
		"council": {
			DefaultSeats:    seatCount(9),
			PerMunicipality: true,
			Municipalities:  map[string]int{"São José do Egito": 11},
		},
		"district": {PerMunicipality: true, Municipalities: map[string]int{"Recife": 3}},
	}})

	tests := []struct {
		name         string
		office       string
		municipality string
		want         int
		wantMissing  bool
	}{
		{name: "office wide", office: "mayor", want: 1},
		{name: "office value ignores municipality", office: "mayor", municipality: "Recife", want: 1},
		{name: "override", office: "council", municipality: "São José do Egito", want: 11},
		{name: "override matches folded name", office: "council", municipality: "SAO JOSE  DO EGITO", want: 11},
		{name: "explicit default", office: "council", municipality: "Olinda", want: 9},
		{name: "local office needs a municipality", office: "council", wantMissing: true},
		{name: "unknown office", office: "governor", wantMissing: true},
		{name: "unlisted municipality", office: "district", municipality: "Olinda", wantMissing: true},
		{name: "no office value", office: "district", wantMissing: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.SeatsFor(tt.office, tt.municipality)
			if tt.wantMissing {
				var missing *domain.ConfigurationMissingError
				require.ErrorAs(t, err, &missing)
				assert.Equal(t, tt.office, missing.OfficeCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.True(t, table.PerMunicipality("council"))
	assert.False(t, table.PerMunicipality("mayor"))
	assert.False(t, table.PerMunicipality("governor"))
}

func TestConfigLoader_SampleConfig(t *testing.T) {
	cfg, err := NewConfigLoader().LoadFromFile(filepath.Join("..", "..", "config", "engine.yaml"))
	require.NoError(t, err)

	table := NewSeatTable(cfg.Seats)
	n, err := table.SeatsFor("council", "Jaboatao dos Guararapes")
	require.NoError(t, err)
	assert.Equal(t, 27, n)
}
