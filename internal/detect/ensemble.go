package detect

import (
	"fmt"
	"math"

	"github.com/quadshield/quadshield/internal/model"
)

// EnsembleFuser combines the four layer results into one verdict by a fixed
// weighted sum. It holds no mutable state, so fusion is reproducible from
// the four inputs alone.
type EnsembleFuser struct {
	weights map[string]float64

	criticalThreshold   float64
	highThreshold       float64
	suspiciousThreshold float64
}

// NewEnsembleFuser validates the weight set. The four weights must be
// present and sum to 1.0 within floating point tolerance.
func NewEnsembleFuser(cfg EnsembleConfig) (*EnsembleFuser, error) {
	weights := map[string]float64{
		model.LayerSupervised:  cfg.SupervisedWeight,
		model.LayerAnomaly:     cfg.AnomalyWeight,
		model.LayerRules:       cfg.RulesWeight,
		model.LayerSlowPattern: cfg.SlowPatternWeight,
	}
	var sum float64
	for layer, w := range weights {
		if w < 0 || w > 1 {
			return nil, fmt.Errorf("ensemble weight for %s outside [0,1]: %v", layer, w)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return nil, fmt.Errorf("ensemble weights sum to %v, want 1.0", sum)
	}
	return &EnsembleFuser{
		weights:             weights,
		criticalThreshold:   cfg.CriticalThreshold,
		highThreshold:       cfg.HighThreshold,
		suspiciousThreshold: cfg.SuspiciousThreshold,
	}, nil
}

// Fuse computes the weighted verdict over the four layer results.
func (f *EnsembleFuser) Fuse(supervised, anomaly, rules, slow model.LayerResult) model.EnsembleVerdict {
	results := []model.LayerResult{supervised, anomaly, rules, slow}

	raw := make(map[string]float64, len(results))
	weighted := make(map[string]float64, len(results))
	var combined float64
	for _, r := range results {
		conf := clamp01(r.Confidence)
		raw[r.Layer] = conf
		w := f.weights[r.Layer] * conf
		weighted[r.Layer] = w
		combined += w
	}

	primary := "none"
	var maxRaw float64
	for _, r := range results {
		if raw[r.Layer] > maxRaw {
			maxRaw = raw[r.Layer]
			primary = r.Layer
		}
	}
	if maxRaw <= 0.1 {
		primary = "none"
	}

	trueVotes := 0
	for _, r := range results {
		if r.ThreatDetected {
			trueVotes++
		}
	}
	falseVotes := len(results) - trueVotes
	agreement := float64(max(trueVotes, falseVotes)) / float64(len(results))

	var level model.ThreatLevel
	switch {
	case combined >= f.criticalThreshold:
		level = model.ThreatCritical
	case combined >= f.highThreshold:
		level = model.ThreatHigh
	case combined >= f.suspiciousThreshold:
		level = model.ThreatSuspicious
	default:
		level = model.ThreatNormal
	}

	return model.EnsembleVerdict{
		ThreatDetected: combined > f.suspiciousThreshold,
		Confidence:     combined,
		ThreatLevel:    level,
		PrimaryLayer:   primary,
		LayerAgreement: agreement,
		WeightedScores: weighted,
		RawScores:      raw,
	}
}
