package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadshield/quadshield/internal/model"
)

func layerResult(layer string, detected bool, confidence float64) model.LayerResult {
	return model.LayerResult{Layer: layer, ThreatDetected: detected, Confidence: confidence}
}

func TestNewEnsembleFuserRejectsBadWeights(t *testing.T) {
	cfg := DefaultConfig().Ensemble
	cfg.SupervisedWeight = 0.5

	_, err := NewEnsembleFuser(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum")
}

func TestFuseAllQuiet(t *testing.T) {
	fuser, err := NewEnsembleFuser(DefaultConfig().Ensemble)
	require.NoError(t, err)

	verdict := fuser.Fuse(
		layerResult(model.LayerSupervised, false, 0),
		layerResult(model.LayerAnomaly, false, 0),
		layerResult(model.LayerRules, false, 0),
		layerResult(model.LayerSlowPattern, false, 0),
	)

	assert.False(t, verdict.ThreatDetected)
	assert.Equal(t, model.ThreatNormal, verdict.ThreatLevel)
	assert.Equal(t, "none", verdict.PrimaryLayer)
	assert.Equal(t, 1.0, verdict.LayerAgreement)
}

func TestFuseSingleLayerIsDamped(t *testing.T) {
	fuser, err := NewEnsembleFuser(DefaultConfig().Ensemble)
	require.NoError(t, err)

	// One maxed-out layer cannot cross the suspicious threshold alone.
	verdict := fuser.Fuse(
		layerResult(model.LayerSupervised, true, 1.0),
		layerResult(model.LayerAnomaly, false, 0),
		layerResult(model.LayerRules, false, 0),
		layerResult(model.LayerSlowPattern, false, 0),
	)

	assert.False(t, verdict.ThreatDetected)
	assert.InDelta(t, 0.35, verdict.Confidence, 1e-9)
	assert.Equal(t, model.LayerSupervised, verdict.PrimaryLayer)
	assert.Equal(t, 0.75, verdict.LayerAgreement)
}

func TestFuseCriticalConsensus(t *testing.T) {
	fuser, err := NewEnsembleFuser(DefaultConfig().Ensemble)
	require.NoError(t, err)

	verdict := fuser.Fuse(
		layerResult(model.LayerSupervised, true, 0.95),
		layerResult(model.LayerAnomaly, true, 0.9),
		layerResult(model.LayerRules, true, 0.925),
		layerResult(model.LayerSlowPattern, true, 0.8),
	)

	assert.True(t, verdict.ThreatDetected)
	assert.Equal(t, model.ThreatCritical, verdict.ThreatLevel)
	assert.Equal(t, model.LayerSupervised, verdict.PrimaryLayer)
	assert.Equal(t, 1.0, verdict.LayerAgreement)
	assert.InDelta(t, 0.90875, verdict.Confidence, 1e-9)
}

func TestFusePrimaryLayerNoneBelowFloor(t *testing.T) {
	fuser, err := NewEnsembleFuser(DefaultConfig().Ensemble)
	require.NoError(t, err)

	verdict := fuser.Fuse(
		layerResult(model.LayerSupervised, false, 0.05),
		layerResult(model.LayerAnomaly, false, 0.1),
		layerResult(model.LayerRules, false, 0),
		layerResult(model.LayerSlowPattern, false, 0.08),
	)

	assert.Equal(t, "none", verdict.PrimaryLayer)
}

func TestFuseThreatLevelBands(t *testing.T) {
	fuser, err := NewEnsembleFuser(DefaultConfig().Ensemble)
	require.NoError(t, err)

	cases := []struct {
		name  string
		conf  float64
		level model.ThreatLevel
	}{
		{"high band", 0.75, model.ThreatHigh},
		{"suspicious band", 0.6, model.ThreatSuspicious},
		{"normal band", 0.4, model.ThreatNormal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Same confidence on every layer makes the weighted sum equal it.
			verdict := fuser.Fuse(
				layerResult(model.LayerSupervised, true, tc.conf),
				layerResult(model.LayerAnomaly, true, tc.conf),
				layerResult(model.LayerRules, true, tc.conf),
				layerResult(model.LayerSlowPattern, true, tc.conf),
			)
			assert.Equal(t, tc.level, verdict.ThreatLevel)
			assert.InDelta(t, tc.conf, verdict.Confidence, 1e-9)
		})
	}
}
