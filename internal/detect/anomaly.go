package detect

import (
	"log/slog"
	"math"
	"sync"

	"github.com/quadshield/quadshield/internal/model"
	"github.com/quadshield/quadshield/internal/ringbuf"
)

// zCutoff is the decision boundary: a point whose mean absolute z-score
// across baseline features exceeds it is an outlier.
const zCutoff = 2.0

// minBaselinePoints is the minimum history before a baseline is fitted.
const minBaselinePoints = 50

// refitInterval is how many appends pass between baseline refits.
const refitInterval = 100

// baseline is an immutable per-feature mean/std snapshot. Scoring always
// reads the last fitted snapshot, so a refit never blocks detection.
type baseline struct {
	means map[string]float64
	stds  map[string]float64
}

func (b *baseline) meanAbsZ(features map[string]float64) float64 {
	if len(b.means) == 0 {
		return 0
	}
	var sum float64
	var n int
	for name, mean := range b.means {
		std := b.stds[name]
		if std < 1e-9 {
			std = 1e-9
		}
		sum += math.Abs(features[name]-mean) / std
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

type categoryState struct {
	history *ringbuf.Ring[map[string]float64]
	appends int

	mu       sync.RWMutex
	baseline *baseline
}

// AnomalyScorer is the second detection layer: a per-category rolling
// baseline of recent feature vectors, scored by mean absolute z-score. The
// signed score is positive inside the decision boundary and negative
// outside it; confidence is its magnitude clamped to [0,1].
type AnomalyScorer struct {
	mu     sync.Mutex
	states map[model.EventKind]*categoryState

	logger     *slog.Logger
	thresholds map[model.EventKind]float64
	windowSize int
}

// NewAnomalyScorer returns a scorer with empty baselines. Until a category
// accumulates enough history its results are neutral.
func NewAnomalyScorer(logger *slog.Logger, cfg AnomalyConfig) *AnomalyScorer {
	window := cfg.WindowSize
	if window <= 0 {
		window = 1000
	}
	return &AnomalyScorer{
		states: map[model.EventKind]*categoryState{},
		logger: logger,
		thresholds: map[model.EventKind]float64{
			model.EventFile:    cfg.FileThreshold,
			model.EventProcess: cfg.ProcessThreshold,
			model.EventNetwork: cfg.NetworkThreshold,
		},
		windowSize: window,
	}
}

// Detect appends the vector to its category history, refits the baseline on
// the retrain cadence, and scores against the last fitted baseline.
func (a *AnomalyScorer) Detect(fv model.FeatureVector) model.LayerResult {
	st := a.state(fv.Category)

	st.history.Append(fv.Features)
	st.mu.Lock()
	st.appends++
	due := st.appends%refitInterval == 0
	st.mu.Unlock()
	if due && st.history.Len() >= minBaselinePoints {
		a.refit(fv.Category, st)
	}

	st.mu.RLock()
	b := st.baseline
	st.mu.RUnlock()

	if b == nil || st.history.Len() < minBaselinePoints {
		return model.LayerResult{
			Layer:         model.LayerAnomaly,
			Confidence:    0,
			ThreatLevel:   model.ThreatNormal,
			DetectionType: "unsupervised_anomaly",
			Evidence:      map[string]any{"anomaly_score": 0.0, "is_anomaly": false},
		}
	}

	avgZ := b.meanAbsZ(fv.Features)
	score := (zCutoff - avgZ) / zCutoff
	isAnomaly := score < 0
	confidence := clamp01(math.Abs(score))

	threshold := a.thresholds[fv.Category]
	detected := isAnomaly && confidence > threshold

	level := model.ThreatNormal
	if detected {
		if fv.Category == model.EventNetwork {
			if confidence > 0.8 {
				level = model.ThreatHigh
			} else {
				level = model.ThreatSuspicious
			}
		} else {
			if confidence > 0.9 {
				level = model.ThreatCritical
			} else {
				level = model.ThreatHigh
			}
		}
	}

	return model.LayerResult{
		Layer:          model.LayerAnomaly,
		ThreatDetected: detected,
		Confidence:     confidence,
		ThreatLevel:    level,
		DetectionType:  "unsupervised_anomaly",
		Evidence:       map[string]any{"anomaly_score": score, "is_anomaly": isAnomaly},
	}
}

// HistoryLen reports how many points the category baseline window holds.
func (a *AnomalyScorer) HistoryLen(kind model.EventKind) int {
	return a.state(kind).history.Len()
}

func (a *AnomalyScorer) state(kind model.EventKind) *categoryState {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[kind]
	if !ok {
		st = &categoryState{history: ringbuf.New[map[string]float64](a.windowSize)}
		a.states[kind] = st
	}
	return st
}

func (a *AnomalyScorer) refit(kind model.EventKind, st *categoryState) {
	points := st.history.Snapshot()

	sums := map[string]float64{}
	counts := map[string]int{}
	for _, p := range points {
		for name, v := range p {
			sums[name] += v
			counts[name]++
		}
	}
	means := make(map[string]float64, len(sums))
	for name, sum := range sums {
		means[name] = sum / float64(counts[name])
	}

	sqsums := map[string]float64{}
	for _, p := range points {
		for name := range means {
			d := p[name] - means[name]
			sqsums[name] += d * d
		}
	}
	stds := make(map[string]float64, len(means))
	for name := range means {
		stds[name] = math.Sqrt(sqsums[name] / float64(len(points)))
	}

	st.mu.Lock()
	st.baseline = &baseline{means: means, stds: stds}
	st.mu.Unlock()

	a.logger.Debug("refit anomaly baseline", "category", string(kind), "points", len(points))
}
