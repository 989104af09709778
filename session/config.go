package session

import (
	"github.com/BurntSushi/toml"
	"golang.org/x/time/rate"
)

// Config holds the session's tunables, loaded from a TOML file the way the
// rest of this stack's components load theirs: the two batcher toggles
// (combined errors, simulated lookup mismatch) it applies to every Batcher
// it creates, plus the flush-concurrency bound and the dispatch rate limit.
type Config struct {
	CombineBatcherErrors bool `toml:"combineBatcherErrors"`

	SimulateLookupMismatchTable       string  `toml:"simulateLookupMismatchTable"`
	SimulateLookupMismatchProbability float64 `toml:"simulateLookupMismatchProbability"`

	MaxConcurrentFlushes int `toml:"maxConcurrentFlushes"`

	DispatchRateLimitPerSecond float64 `toml:"dispatchRateLimitPerSecond"`
	DispatchRateLimitBurst     int     `toml:"dispatchRateLimitBurst"`
}

// LoadConfig reads Config from a TOML file on disk.
func LoadConfig(path string) (Config, error) {
	var c Config
	_, err := toml.DecodeFile(path, &c)
	return c, err
}

// Options turns the loaded configuration into Session construction options.
func (c Config) Options() []Option {
	opts := []Option{
		WithCombinedErrors(c.CombineBatcherErrors),
	}
	if c.SimulateLookupMismatchProbability > 0 {
		opts = append(opts, WithSimulatedLookupMismatch(c.SimulateLookupMismatchTable, c.SimulateLookupMismatchProbability))
	}
	if c.MaxConcurrentFlushes > 0 {
		opts = append(opts, WithMaxConcurrentFlushes(c.MaxConcurrentFlushes))
	}
	if c.DispatchRateLimitPerSecond > 0 {
		burst := c.DispatchRateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		opts = append(opts, WithDispatchRateLimiter(rate.NewLimiter(rate.Limit(c.DispatchRateLimitPerSecond), burst)))
	}
	return opts
}
