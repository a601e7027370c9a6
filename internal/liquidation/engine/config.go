package engine

import (
	"strings"
	"time"

	"liqzones/internal/adapters/config"
	"liqzones/internal/liquidation/banding"
	"liqzones/internal/liquidation/cluster"
	"liqzones/internal/liquidation/scoring"
	"liqzones/pkg/errors"
)

// Mode selects whether incremental updates run the streaming differ
type Mode string

const (
	ModeBatch     Mode = "batch"
	ModeStreaming Mode = "streaming"
)

// Defaults for a new engine
const (
	DefaultPctMerge         = 0.003
	DefaultZoneVolMult      = 1.5
	DefaultWindowMinutes    = 30
	DefaultLiqSizeThreshold = 0.1
	DefaultCutoff           = 48 * time.Hour
	DefaultMaxParallel      = 4

	// MaxHistory is how many band width measurements are kept
	MaxHistory = 20
	// MaxRecords bounds the lifecycle record ring buffer
	MaxRecords = 500
)

// Config tunes one engine. An engine serves exactly one coin.
type Config struct {
	Coin             string
	PctMerge         float64
	ZoneVolMult      float64
	WindowMinutes    int
	LiqSizeThreshold float64
	// Cutoff <= 0 keeps every trade
	Cutoff time.Duration
	Mode   Mode

	Strategy   cluster.Strategy
	MinQuality string
	ATRPeriod  int

	MaxParallelTimeframes int
	BoostConfirmed        bool
}

// DefaultConfig returns the stock configuration for coin
func DefaultConfig(coin string) Config {
	return Config{
		Coin:                  coin,
		PctMerge:              DefaultPctMerge,
		ZoneVolMult:           DefaultZoneVolMult,
		WindowMinutes:         DefaultWindowMinutes,
		LiqSizeThreshold:      DefaultLiqSizeThreshold,
		Cutoff:                DefaultCutoff,
		Mode:                  ModeBatch,
		Strategy:              cluster.Auto,
		ATRPeriod:             banding.DefaultATRPeriod,
		MaxParallelTimeframes: DefaultMaxParallel,
	}
}

// FromSettings builds the engine config for coin out of environment settings
func FromSettings(coin string, s config.EngineConfig) (Config, error) {
	strategy, err := cluster.ParseStrategy(s.Accelerated)
	if err != nil {
		return Config{}, err
	}
	if _, _, err := scoring.ParseMinQuality(s.MinQuality); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig(coin)
	cfg.PctMerge = s.PctMerge
	cfg.ZoneVolMult = s.ZoneVolMult
	cfg.WindowMinutes = s.WindowMinutes
	cfg.LiqSizeThreshold = s.LiqSizeThreshold
	cfg.Cutoff = time.Duration(s.CutoffHours * float64(time.Hour))
	cfg.Mode = Mode(strings.ToLower(s.Mode))
	cfg.Strategy = strategy
	cfg.MinQuality = s.MinQuality
	cfg.BoostConfirmed = s.BoostConfirmed
	if s.ATRPeriod > 0 {
		cfg.ATRPeriod = s.ATRPeriod
	}
	if s.MaxParallelTimeframes > 0 {
		cfg.MaxParallelTimeframes = s.MaxParallelTimeframes
	}
	return cfg, cfg.Validate()
}

// Validate rejects configs that cannot produce zones
func (c Config) Validate() error {
	if c.Coin == "" {
		return errors.NewValidationError("coin", "must not be empty", c.Coin)
	}
	if c.PctMerge <= 0 {
		return errors.NewValidationError("pct_merge", "must be positive", c.PctMerge)
	}
	if c.WindowMinutes <= 0 {
		return errors.NewValidationError("window_minutes", "must be positive", c.WindowMinutes)
	}
	if c.Mode != ModeBatch && c.Mode != ModeStreaming {
		return errors.NewValidationError("mode", "must be batch or streaming", c.Mode)
	}
	return nil
}

// ComputeOptions overrides engine defaults for a single computation.
// Zero values fall back to the engine config.
type ComputeOptions struct {
	WindowMinutes int
	PctMerge      float64
	SkipATR       bool
	MinQuality    string
}

func (c Config) resolve(opts ComputeOptions) ComputeOptions {
	if opts.WindowMinutes <= 0 {
		opts.WindowMinutes = c.WindowMinutes
	}
	if opts.PctMerge <= 0 {
		opts.PctMerge = c.PctMerge
	}
	if opts.MinQuality == "" {
		opts.MinQuality = c.MinQuality
	}
	return opts
}
