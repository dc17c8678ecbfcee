package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("QS_TEST_STR", "value")
	t.Setenv("QS_TEST_INT", "42")
	t.Setenv("QS_TEST_BAD_INT", "not-a-number")
	t.Setenv("QS_TEST_DUR", "30s")

	assert.Equal(t, "value", GetEnv("QS_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", GetEnv("QS_TEST_MISSING", "fallback"))
	assert.Equal(t, 42, GetEnvInt("QS_TEST_INT", 7))
	assert.Equal(t, 7, GetEnvInt("QS_TEST_BAD_INT", 7))
	assert.Equal(t, 7, GetEnvInt("QS_TEST_MISSING", 7))
	assert.Equal(t, 30*time.Second, GetEnvDuration("QS_TEST_DUR", time.Minute))
	assert.Equal(t, time.Minute, GetEnvDuration("QS_TEST_MISSING", time.Minute))
}

func TestLoadDetectionConfigDefaults(t *testing.T) {
	cfg, err := LoadDetectionConfig("")
	require.NoError(t, err)
	assert.InDelta(t, 0.35, cfg.Ensemble.SupervisedWeight, 1e-9)
}

func TestLoadDetectionConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detection.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ensemble:
  suspicious_threshold: 0.6
`), 0o644))

	cfg, err := LoadDetectionConfig(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, cfg.Ensemble.SuspiciousThreshold, 1e-9)
	// Untouched sections keep their defaults.
	assert.InDelta(t, 0.35, cfg.Ensemble.SupervisedWeight, 1e-9)
}

func TestLoadDetectionConfigMissingFile(t *testing.T) {
	_, err := LoadDetectionConfig("/nonexistent/detection.yaml")
	assert.Error(t, err)
}
