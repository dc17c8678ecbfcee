package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadshield/quadshield/internal/model"
)

func fileVector(entropy, size float64) model.FeatureVector {
	return model.FeatureVector{
		Category:   model.EventFile,
		Features:   map[string]float64{"entropy": entropy, "file_size": size},
		OccurredAt: time.Now(),
	}
}

func TestAnomalyColdStartIsNeutral(t *testing.T) {
	a := NewAnomalyScorer(testLogger(), DefaultConfig().Anomaly)

	for i := 0; i < 20; i++ {
		result := a.Detect(fileVector(4.0, 1000))
		assert.False(t, result.ThreatDetected)
		assert.Zero(t, result.Confidence)
		assert.Equal(t, model.ThreatNormal, result.ThreatLevel)
	}
	assert.Equal(t, 20, a.HistoryLen(model.EventFile))
}

func TestAnomalyDetectsOutlierAfterBaseline(t *testing.T) {
	a := NewAnomalyScorer(testLogger(), DefaultConfig().Anomaly)

	// Alternating values give the baseline a non-degenerate std. The 100th
	// append triggers the first refit.
	for i := 0; i < 100; i++ {
		entropy := 3.5
		if i%2 == 0 {
			entropy = 4.5
		}
		a.Detect(fileVector(entropy, 1000))
	}

	normal := a.Detect(fileVector(4.0, 1000))
	assert.False(t, normal.ThreatDetected)

	outlier := a.Detect(fileVector(80.0, 1000))
	require.True(t, outlier.ThreatDetected)
	assert.Equal(t, model.ThreatCritical, outlier.ThreatLevel)
	assert.Greater(t, outlier.Confidence, 0.9)
	assert.Equal(t, true, outlier.Evidence["is_anomaly"])
}

func TestAnomalyCategoriesAreIndependent(t *testing.T) {
	a := NewAnomalyScorer(testLogger(), DefaultConfig().Anomaly)

	for i := 0; i < 100; i++ {
		entropy := 3.5
		if i%2 == 0 {
			entropy = 4.5
		}
		a.Detect(fileVector(entropy, 1000))
	}

	// The process category has no history, so even an extreme vector is
	// scored neutrally.
	result := a.Detect(model.FeatureVector{
		Category: model.EventProcess,
		Features: map[string]float64{"cpu_usage": 99},
	})
	assert.False(t, result.ThreatDetected)
	assert.Zero(t, result.Confidence)
}

func TestAnomalyWindowEviction(t *testing.T) {
	cfg := DefaultConfig().Anomaly
	cfg.WindowSize = 60
	a := NewAnomalyScorer(testLogger(), cfg)

	for i := 0; i < 200; i++ {
		a.Detect(fileVector(4.0, 1000))
	}
	assert.Equal(t, 60, a.HistoryLen(model.EventFile))
}
