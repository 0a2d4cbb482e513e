package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"PORT", "DATABASE_URL", "COST_THRESHOLD", "HISTORIAN_TYPE", "REDIS_ADDR", "SCHEME_MATCHER_TIMEOUT"} {
		t.Setenv(key, "")
	}
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 50000.0, cfg.CostThreshold)
	assert.Equal(t, 15*time.Second, cfg.SchemeMatcherTimeout)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.Historian.Type)
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("COST_THRESHOLD", "75000.5")
	t.Setenv("SCHEME_MATCHER_TIMEOUT", "5")
	t.Setenv("REQUEST_TIMEOUT", "45s")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("HISTORIAN_TYPE", "MySQL")
	t.Setenv("HISTORIAN_MAPPING_PATH", "historian.yaml")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 75000.5, cfg.CostThreshold)
	assert.Equal(t, 5*time.Second, cfg.SchemeMatcherTimeout)
	assert.Equal(t, 45*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, "mysql", cfg.Historian.Type)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("COST_THRESHOLD", "-1")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("COST_THRESHOLD", "")
	t.Setenv("HISTORIAN_TYPE", "oracle")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("HISTORIAN_TYPE", "postgres")
	t.Setenv("HISTORIAN_MAPPING_PATH", "")
	_, err = Load()
	require.Error(t, err)
}

func TestGetEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("X_INT", "abc")
	t.Setenv("X_FLOAT", "1.2.3")
	t.Setenv("X_DUR", "soon")
	assert.Equal(t, 7, getEnvInt("X_INT", 7))
	assert.Equal(t, 2.5, getEnvFloat("X_FLOAT", 2.5))
	assert.Equal(t, time.Minute, getEnvDuration("X_DUR", time.Minute))
}
