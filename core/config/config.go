// Package config loads verifier tuning from an optional readerseal.yaml.
// Every knob has a default; a missing file is not an error.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	coreerrors "github.com/davidahmann/readerseal/core/errors"
	"github.com/davidahmann/readerseal/core/metricsdiff"
	"github.com/davidahmann/readerseal/core/replay"
)

// DefaultFileName is looked up in the pack directory when no explicit config
// path is given.
const DefaultFileName = "readerseal.yaml"

type Config struct {
	// TimingToleranceMs is the absolute slack for duration columns in the
	// metrics diff.
	TimingToleranceMs int64 `yaml:"timing_tolerance_ms"`
	// Epsilon is the comparison slack for other numeric metrics cells.
	Epsilon float64 `yaml:"epsilon"`
	// MinPlausibleMs is the floor below which replayed durations are
	// flagged as suspicious.
	MinPlausibleMs int64 `yaml:"min_plausible_ms"`
}

func Default() Config {
	return Config{
		TimingToleranceMs: metricsdiff.DefaultTimingToleranceMs,
		Epsilon:           metricsdiff.DefaultEpsilon,
		MinPlausibleMs:    replay.DefaultMinPlausibleMs,
	}
}

// Load reads the config at path, falling back to defaults when the file does
// not exist. Unknown keys are rejected so a typo cannot silently leave a knob
// at its default.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path) // #nosec G304 -- explicit local config path
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, coreerrors.Wrap(fmt.Errorf("read config: %w", err), coreerrors.CategoryIOFailure, "config_read_failed", "")
	}
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, coreerrors.Wrap(fmt.Errorf("parse config %s: %w", path, err),
			coreerrors.CategoryParseError, "config_invalid", "readerseal.yaml keys: timing_tolerance_ms, epsilon, min_plausible_ms")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if cfg.TimingToleranceMs < 0 {
		return invalidConfig("timing_tolerance_ms must not be negative")
	}
	if cfg.Epsilon < 0 {
		return invalidConfig("epsilon must not be negative")
	}
	if cfg.MinPlausibleMs < 0 {
		return invalidConfig("min_plausible_ms must not be negative")
	}
	return nil
}

// ReplayOptions maps the config onto the replay engine's knobs.
func (cfg Config) ReplayOptions() replay.Options {
	return replay.Options{MinPlausibleMs: cfg.MinPlausibleMs}
}

// DiffOptions maps the config onto the metrics diff knobs.
func (cfg Config) DiffOptions() metricsdiff.Options {
	return metricsdiff.Options{
		TimingToleranceMs: cfg.TimingToleranceMs,
		Epsilon:           cfg.Epsilon,
	}
}

func invalidConfig(message string) error {
	return coreerrors.New(coreerrors.CategoryInvalidInput, "config_invalid", message)
}
