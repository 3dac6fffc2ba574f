package config_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotakit/pkg/config"
)

type sampleConfig struct {
	Name string   `env:"CFGTEST_NAME" envDefault:"default"`
	Port int      `env:"CFGTEST_PORT" envDefault:"8080"`
	Tags []string `env:"CFGTEST_TAGS" envSeparator:","`
}

type requiredConfig struct {
	Secret string `env:"CFGTEST_SECRET,required"`
}

type validatedConfig struct {
	Limit int `env:"CFGTEST_LIMIT" envDefault:"0"`
}

func (c *validatedConfig) Validate() error {
	if c.Limit <= 0 {
		return errors.New("limit must be positive")
	}
	return nil
}

// Tests mutate process env and the shared cache, so they run sequentially.

func TestLoad(t *testing.T) {
	config.ResetCache()
	t.Setenv("CFGTEST_NAME", "from-env")

	var cfg sampleConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "from-env", cfg.Name)
	assert.Equal(t, 8080, cfg.Port)

	t.Setenv("CFGTEST_NAME", "changed")
	var again sampleConfig
	require.NoError(t, config.Load(&again))
	assert.Equal(t, "from-env", again.Name, "cached value is returned")

	config.ResetCache()
	var reloaded sampleConfig
	require.NoError(t, config.Load(&reloaded))
	assert.Equal(t, "changed", reloaded.Name)
}

func TestLoadNil(t *testing.T) {
	assert.ErrorIs(t, config.Load[sampleConfig](nil), config.ErrNilPointer)
}

func TestLoadRequired(t *testing.T) {
	config.ResetCache()

	var cfg requiredConfig
	assert.ErrorIs(t, config.Load(&cfg), config.ErrParsingConfig)

	t.Setenv("CFGTEST_SECRET", "s3cret")
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "s3cret", cfg.Secret)
}

func TestLoadValidates(t *testing.T) {
	config.ResetCache()

	var cfg validatedConfig
	assert.ErrorIs(t, config.Load(&cfg), config.ErrInvalidConfig)

	t.Setenv("CFGTEST_LIMIT", "5")
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, 5, cfg.Limit)
}

func TestMustLoad(t *testing.T) {
	config.ResetCache()
	assert.Panics(t, func() {
		var cfg requiredConfig
		config.MustLoad(&cfg)
	})
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("CFGTEST_NAME", "")
	t.Setenv("CFGTEST_PORT", "")
	t.Setenv("CFGTEST_TAGS", "")

	require.NoError(t, config.LoadEnv("testdata/.env.sample", "testdata/.env.override"))

	var cfg sampleConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "sample", cfg.Name)
	assert.Equal(t, 9191, cfg.Port)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Tags)

	assert.ErrorIs(t, config.LoadEnv("testdata/missing.env"), config.ErrLoadingEnv)
}
