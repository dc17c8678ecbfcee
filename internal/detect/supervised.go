package detect

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/quadshield/quadshield/internal/model"
)

// Model names used by the supervised layer, one per event category.
const (
	ModelFileRansomware = "file_ransomware"
	ModelProcessMalware = "process_malware"
	ModelNetworkAnomaly = "network_anomaly"
)

// CategoryModel scores a feature vector as a malice probability in [0,1].
type CategoryModel interface {
	Score(features map[string]float64) float64
	Version() string
}

// defaultModel stands in before any training data arrives. It emits a
// constant low baseline so the ensemble still receives a supervised score.
type defaultModel struct{}

func (defaultModel) Score(map[string]float64) float64 { return 0.05 }
func (defaultModel) Version() string                  { return "default" }

// TrainingExample is one labeled observation submitted through the
// training endpoint.
type TrainingExample struct {
	Features  map[string]float64 `json:"features"`
	Malicious bool               `json:"is_malicious"`
}

// centroidModel classifies by distance to the benign and malicious class
// centroids over a fixed feature name set. The score is the share of total
// distance attributable to the benign centroid, so identical distances give
// 0.5 and proximity to the malicious centroid pushes toward 1.
type centroidModel struct {
	names     []string
	benign    []float64
	malicious []float64
	version   string
}

func (m *centroidModel) Score(features map[string]float64) float64 {
	var dBenign, dMalicious float64
	for i, name := range m.names {
		v := features[name]
		db := v - m.benign[i]
		dm := v - m.malicious[i]
		dBenign += db * db
		dMalicious += dm * dm
	}
	dBenign = math.Sqrt(dBenign)
	dMalicious = math.Sqrt(dMalicious)
	if dBenign+dMalicious == 0 {
		return 0.5
	}
	return dBenign / (dBenign + dMalicious)
}

func (m *centroidModel) Version() string { return m.version }

// SupervisedDetector is the first detection layer. Each event category has
// its own model; untrained categories fall back to a constant low baseline
// and never error. Models are swapped atomically on retrain.
type SupervisedDetector struct {
	mu     sync.RWMutex
	models map[string]CategoryModel

	logger       *slog.Logger
	fallbackOnce map[string]*sync.Once

	fileThreshold    float64
	processThreshold float64
	networkThreshold float64
}

// NewSupervisedDetector returns a detector with default models for every
// category and the given per-category detection thresholds.
func NewSupervisedDetector(logger *slog.Logger, cfg SupervisedConfig) *SupervisedDetector {
	return &SupervisedDetector{
		models: map[string]CategoryModel{
			ModelFileRansomware: defaultModel{},
			ModelProcessMalware: defaultModel{},
			ModelNetworkAnomaly: defaultModel{},
		},
		logger: logger,
		fallbackOnce: map[string]*sync.Once{
			ModelFileRansomware: {},
			ModelProcessMalware: {},
			ModelNetworkAnomaly: {},
		},
		fileThreshold:    cfg.FileThreshold,
		processThreshold: cfg.ProcessThreshold,
		networkThreshold: cfg.NetworkThreshold,
	}
}

// Detect scores a feature vector against the model for its category.
func (d *SupervisedDetector) Detect(fv model.FeatureVector) model.LayerResult {
	var (
		name      string
		threshold float64
	)
	switch fv.Category {
	case model.EventProcess:
		name, threshold = ModelProcessMalware, d.processThreshold
	case model.EventNetwork:
		name, threshold = ModelNetworkAnomaly, d.networkThreshold
	default:
		name, threshold = ModelFileRansomware, d.fileThreshold
	}

	d.mu.RLock()
	m := d.models[name]
	once := d.fallbackOnce[name]
	d.mu.RUnlock()

	if _, untrained := m.(defaultModel); untrained && once != nil {
		once.Do(func() {
			d.logger.Warn("no trained model, using default baseline", "model", name)
		})
	}

	prob := clamp01(m.Score(fv.Features))
	detected := prob > threshold

	var level model.ThreatLevel
	if fv.Category == model.EventNetwork {
		switch {
		case prob > 0.8:
			level = model.ThreatHigh
		case prob > 0.6:
			level = model.ThreatSuspicious
		default:
			level = model.ThreatNormal
		}
	} else {
		switch {
		case prob > 0.9:
			level = model.ThreatCritical
		case prob > 0.7:
			level = model.ThreatHigh
		default:
			level = model.ThreatSuspicious
		}
	}

	return model.LayerResult{
		Layer:          model.LayerSupervised,
		ThreatDetected: detected,
		Confidence:     prob,
		ThreatLevel:    level,
		DetectionType:  "supervised_ml",
		Evidence:       map[string]any{"model": name, "model_version": m.Version()},
	}
}

// Train fits a centroid model for the named category from labeled examples.
// Both classes must be represented.
func (d *SupervisedDetector) Train(name string, examples []TrainingExample) error {
	d.mu.RLock()
	_, known := d.models[name]
	d.mu.RUnlock()
	if !known {
		return fmt.Errorf("unknown model %q", name)
	}
	if len(examples) == 0 {
		return fmt.Errorf("no training examples for %q", name)
	}

	nameSet := map[string]bool{}
	for _, ex := range examples {
		for f := range ex.Features {
			nameSet[f] = true
		}
	}
	names := make([]string, 0, len(nameSet))
	for f := range nameSet {
		names = append(names, f)
	}
	sort.Strings(names)

	benign := make([]float64, len(names))
	malicious := make([]float64, len(names))
	var nBenign, nMalicious int
	for _, ex := range examples {
		dst := benign
		if ex.Malicious {
			dst = malicious
			nMalicious++
		} else {
			nBenign++
		}
		for i, f := range names {
			dst[i] += ex.Features[f]
		}
	}
	if nBenign == 0 || nMalicious == 0 {
		return fmt.Errorf("training set for %q must contain both classes", name)
	}
	for i := range names {
		benign[i] /= float64(nBenign)
		malicious[i] /= float64(nMalicious)
	}

	m := &centroidModel{
		names:     names,
		benign:    benign,
		malicious: malicious,
		version:   time.Now().UTC().Format("20060102_150405"),
	}

	d.mu.Lock()
	d.models[name] = m
	d.mu.Unlock()

	d.logger.Info("trained supervised model",
		"model", name, "examples", len(examples), "version", m.Version())
	return nil
}

// ModelVersions reports the active version per category.
func (d *SupervisedDetector) ModelVersions() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.models))
	for name, m := range d.models {
		out[name] = m.Version()
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
