// Package config provides configuration utilities for the application.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/halcyon-labs/recon/internal/expect"
	"github.com/halcyon-labs/recon/internal/finder"
	"github.com/halcyon-labs/recon/internal/model"
	"github.com/halcyon-labs/recon/internal/score"
)

// ExpandPath expands ~ and environment variables in a file path.
// It handles both ~ for home directory and $VAR style environment variables.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	return os.ExpandEnv(path)
}

// DatabasePath resolves the SQLite database location from Viper, falling
// back to the standard XDG data directory.
func DatabasePath() string {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/recon/recon.db"
	}
	return ExpandPath(dbPath)
}

// LoadFinderConfig builds the candidate-discovery configuration from Viper,
// starting from the defaults and overriding only what the config file or
// environment actually sets.
func LoadFinderConfig() (finder.Config, error) {
	cfg := finder.DefaultConfig()

	if v := viper.GetFloat64("finder.amount_tolerance"); v > 0 {
		cfg.AmountTolerance = v
	}
	if v := viper.GetInt("finder.date_window_days"); v > 0 {
		cfg.DateWindowDays = v
	}
	if v := viper.GetInt("finder.top_k"); v > 0 {
		cfg.TopK = v
	}
	if v := viper.GetInt("finder.batch_workers"); v > 0 {
		cfg.BatchWorkers = v
	}
	if v := viper.GetFloat64("finder.conversion_rate_min"); v > 0 {
		cfg.ConversionRateMin = v
	}
	if v := viper.GetFloat64("finder.conversion_rate_max"); v > 0 {
		cfg.ConversionRateMax = v
	}

	if weights := loadWeights(); len(weights) > 0 {
		cfg.Weights = weights
	}
	if v := viper.GetFloat64("finder.tiers.auto_link"); v > 0 {
		cfg.TierCuts.AutoLink = v
	}
	if v := viper.GetFloat64("finder.tiers.suggest"); v > 0 {
		cfg.TierCuts.Suggest = v
	}
	if v := viper.GetFloat64("finder.tiers.manual"); v > 0 {
		cfg.TierCuts.Manual = v
	}

	if err := cfg.Validate(); err != nil {
		return finder.Config{}, err
	}
	return cfg, nil
}

// loadWeights reads finder.weights as a feature-to-weight map. Viper hands
// YAML numbers back as float64 or int depending on how they were written.
func loadWeights() score.Weights {
	weights := score.Weights{}
	for name, v := range viper.GetStringMap("finder.weights") {
		switch f := v.(type) {
		case float64:
			weights[model.Feature(name)] = f
		case int:
			weights[model.Feature(name)] = float64(f)
		}
	}
	return weights
}

// LoadTrackerConfig builds the expectation-linking tolerances from Viper.
// They share the finder's keys so the two components agree on what "close
// enough" means.
func LoadTrackerConfig() (expect.Config, error) {
	cfg := expect.DefaultConfig()

	if v := viper.GetFloat64("finder.amount_tolerance"); v > 0 {
		cfg.AmountTolerance = v
	}
	if v := viper.GetInt("finder.date_window_days"); v > 0 {
		cfg.DateWindowDays = v
	}

	if err := cfg.Validate(); err != nil {
		return expect.Config{}, err
	}
	return cfg, nil
}
