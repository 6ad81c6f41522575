package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-labs/recon/internal/model"
)

func TestExpandPath(t *testing.T) {
	t.Setenv("RECON_TEST_DIR", "/tmp/recon-test")

	assert.Equal(t, "/tmp/recon-test/data.db", ExpandPath("$RECON_TEST_DIR/data.db"))
	assert.Equal(t, "", ExpandPath(""))
	assert.Equal(t, "/absolute/path", ExpandPath("/absolute/path"))
}

func TestDatabasePath_Override(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("database.path", filepath.Join(t.TempDir(), "custom.db"))
	assert.Equal(t, viper.GetString("database.path"), DatabasePath())
}

func TestLoadFinderConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := LoadFinderConfig()
	require.NoError(t, err)
	assert.InDelta(t, 0.05, cfg.AmountTolerance, 1e-9)
	assert.Equal(t, 7, cfg.DateWindowDays)
	assert.Equal(t, 10, cfg.TopK)
}

func TestLoadFinderConfig_Overrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("finder.amount_tolerance", 0.10)
	viper.Set("finder.date_window_days", 14)
	viper.Set("finder.weights", map[string]any{
		"amount": 0.5,
		"date":   0.3,
		"party":  0.1,
		"text":   0.1,
	})

	cfg, err := LoadFinderConfig()
	require.NoError(t, err)
	assert.InDelta(t, 0.10, cfg.AmountTolerance, 1e-9)
	assert.Equal(t, 14, cfg.DateWindowDays)
	assert.InDelta(t, 0.5, cfg.Weights[model.FeatureAmount], 1e-9)
}

func TestLoadFinderConfig_RejectsBadWeights(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("finder.weights", map[string]any{"amount": 0.5, "date": 0.2})

	_, err := LoadFinderConfig()
	require.Error(t, err)
}

func TestLoadTrackerConfig_SharesFinderKeys(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("finder.amount_tolerance", 0.02)
	viper.Set("finder.date_window_days", 3)

	cfg, err := LoadTrackerConfig()
	require.NoError(t, err)
	assert.InDelta(t, 0.02, cfg.AmountTolerance, 1e-9)
	assert.Equal(t, 3, cfg.DateWindowDays)
}
