package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	BaseURL    string        `env:"TEST_BASE_URL" envDefault:"http://localhost:3000"`
	Timeout    time.Duration `env:"TEST_TIMEOUT" envDefault:"15s"`
	Debug      bool          `env:"TEST_DEBUG" envDefault:"false"`
	MustBeHere string        `env:"TEST_REQUIRED,required"`
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TEST_REQUIRED", "yes")

	var cfg testConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, "http://localhost:3000", cfg.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Timeout)
	assert.False(t, cfg.Debug)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TEST_REQUIRED", "yes")
	t.Setenv("TEST_BASE_URL", "https://api.example.com")
	t.Setenv("TEST_TIMEOUT", "2s")
	t.Setenv("TEST_DEBUG", "true")

	var cfg testConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, "https://api.example.com", cfg.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.True(t, cfg.Debug)
}

func TestLoad_MissingRequired(t *testing.T) {
	var cfg testConfig
	assert.Error(t, Load(&cfg))
}
