package detect

import (
	"math"
	"time"

	"github.com/quadshield/quadshield/internal/model"
	"github.com/quadshield/quadshield/internal/ringbuf"
)

// Behavior archetype names reported as primary_behavior.
const (
	BehaviorStealthEncryption      = "stealth_encryption"
	BehaviorLowProfileExfiltration = "low_profile_exfiltration"
	BehaviorProgressiveEncryption  = "progressive_encryption"
	BehaviorNormal                 = "normal"
)

const (
	slowHistoryCapacity = 10000
	slowMinHistory      = 50
	slowArchetypeMin    = 100
	slowProgressiveMin  = 200
)

// SlowPatternAnalyzer is the fourth detection layer. It watches the full
// bounded feature history for campaigns that stay below the per-event
// thresholds of the other layers: stealth encryption, low-profile
// exfiltration and progressive encryption. With insufficient history every
// archetype scores zero, never a false positive.
type SlowPatternAnalyzer struct {
	history   *ringbuf.Ring[model.FeatureVector]
	threshold float64
}

// NewSlowPatternAnalyzer returns an analyzer with an empty history and the
// given detection threshold.
func NewSlowPatternAnalyzer(cfg SlowPatternConfig) *SlowPatternAnalyzer {
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = 0.7
	}
	return &SlowPatternAnalyzer{
		history:   ringbuf.New[model.FeatureVector](slowHistoryCapacity),
		threshold: threshold,
	}
}

// Detect appends the vector to the history and scores the three archetypes
// over everything seen so far.
func (s *SlowPatternAnalyzer) Detect(fv model.FeatureVector) model.LayerResult {
	s.history.Append(fv)
	points := s.history.Snapshot()

	if len(points) < slowMinHistory {
		return model.LayerResult{
			Layer:         model.LayerSlowPattern,
			ThreatLevel:   model.ThreatNormal,
			DetectionType: "slow_ransomware",
			Evidence:      map[string]any{"history_size": len(points)},
		}
	}

	stealth := stealthScore(points)
	exfil := exfiltrationScore(points)
	progressive := progressiveScore(points)

	overall := math.Max(stealth, math.Max(exfil, progressive))
	detected := overall > s.threshold

	level := model.ThreatNormal
	if overall > 0.7 {
		level = model.ThreatSuspicious
	}

	return model.LayerResult{
		Layer:          model.LayerSlowPattern,
		ThreatDetected: detected,
		Confidence:     overall,
		ThreatLevel:    level,
		DetectionType:  "slow_ransomware",
		Evidence: map[string]any{
			"stealth_encryption_score":       stealth,
			"low_profile_exfiltration_score": exfil,
			"progressive_encryption_score":   progressive,
			"primary_behavior":               primaryBehavior(stealth, exfil, progressive),
			"hour_entropy":                   hourEntropy(timestamps(points)),
			"history_size":                   len(points),
		},
	}
}

// HistoryLen reports the number of buffered points.
func (s *SlowPatternAnalyzer) HistoryLen() int { return s.history.Len() }

func primaryBehavior(stealth, exfil, progressive float64) string {
	best, score := BehaviorStealthEncryption, stealth
	if exfil > score {
		best, score = BehaviorLowProfileExfiltration, exfil
	}
	if progressive > score {
		best, score = BehaviorProgressiveEncryption, progressive
	}
	if score > 0.3 {
		return best
	}
	return BehaviorNormal
}

// stealthScore combines a gradual entropy trend with irregular timing.
func stealthScore(points []model.FeatureVector) float64 {
	if len(points) < slowArchetypeMin {
		return 0
	}
	var entropies []float64
	for _, p := range points {
		if v, ok := p.Features["entropy"]; ok {
			entropies = append(entropies, v)
		}
	}
	if len(entropies) < 50 {
		return 0
	}
	trend := trendSlope(entropies)
	timing := math.Min(1, coefficientOfVariation(interEventGaps(timestamps(points))))
	return clamp01((trend + timing) / 2)
}

// exfiltrationScore combines small consistent transfer sizes with off-hours
// timing.
func exfiltrationScore(points []model.FeatureVector) float64 {
	if len(points) < slowArchetypeMin {
		return 0
	}
	var sizes []float64
	var transferTimes []time.Time
	for _, p := range points {
		if v, ok := p.Features["data_sent"]; ok {
			sizes = append(sizes, v)
			if v > 0 {
				transferTimes = append(transferTimes, p.OccurredAt)
			}
		}
	}
	if len(sizes) < 20 {
		return 0
	}
	consistency := 1 - math.Min(1, coefficientOfVariation(sizes))
	timing := offHoursRatio(transferTimes)
	return clamp01((consistency + timing) / 2)
}

// progressiveScore combines batched operations with document and backup
// targeting.
func progressiveScore(points []model.FeatureVector) float64 {
	if len(points) < slowProgressiveMin {
		return 0
	}

	var fileTimes []time.Time
	var filePoints, docPoints, backupPoints int
	for _, p := range points {
		if p.Category == model.EventFile {
			filePoints++
			fileTimes = append(fileTimes, p.OccurredAt)
			if p.Features["is_document"] == 1.0 {
				docPoints++
			}
		}
		if p.Features["is_backup_path"] == 1.0 {
			backupPoints++
		}
	}

	var batch float64
	if filePoints >= 50 {
		gaps := interEventGaps(fileTimes)
		if len(gaps) > 0 {
			rapid := 0
			for _, g := range gaps {
				if g < 1.0 {
					rapid++
				}
			}
			batch = math.Min(1, float64(rapid)/float64(len(gaps))*10)
		}
	}

	var targeting float64
	if filePoints >= 30 {
		targeting = math.Min(1, float64(docPoints)/float64(filePoints)*5)
	}

	backup := math.Min(1, float64(backupPoints)/float64(len(points))*10)

	return clamp01((batch + targeting + backup) / 3)
}

// trendSlope fits a least-squares line and normalizes the slope by the
// value range, so a steady climb across the window scores near 1/len.
func trendSlope(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	slope := (fn*sumXY - sumX*sumY) / denom

	minV, maxV := values[0], values[0]
	for _, v := range values {
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	if maxV == minV {
		return 0
	}
	return slope / (maxV - minV)
}

func coefficientOfVariation(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if mean <= 0 {
		return 0
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(values)-1))
	return std / mean
}

func interEventGaps(times []time.Time) []float64 {
	if len(times) < 2 {
		return nil
	}
	gaps := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		gaps = append(gaps, times[i].Sub(times[i-1]).Seconds())
	}
	return gaps
}

func offHoursRatio(times []time.Time) float64 {
	if len(times) < 5 {
		return 0
	}
	off := 0
	for _, t := range times {
		h := t.Hour()
		if h < 9 || h >= 17 {
			off++
		}
	}
	return float64(off) / float64(len(times))
}

// hourEntropy is the normalized entropy of the hour-of-day distribution;
// near 1 means activity spread evenly around the clock.
func hourEntropy(times []time.Time) float64 {
	if len(times) < 10 {
		return 0
	}
	counts := map[int]int{}
	for _, t := range times {
		counts[t.Hour()]++
	}
	if len(counts) < 2 {
		return 0
	}
	total := float64(len(times))
	var entropy float64
	for _, c := range counts {
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy / math.Log2(float64(len(counts)))
}

func timestamps(points []model.FeatureVector) []time.Time {
	out := make([]time.Time, len(points))
	for i, p := range points {
		out[i] = p.OccurredAt
	}
	return out
}
