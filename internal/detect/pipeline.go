package detect

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/quadshield/quadshield/internal/model"
	"github.com/quadshield/quadshield/internal/ringbuf"
)

const detectionHistorySize = 1000

// Analytics summarizes the bounded detection history.
type Analytics struct {
	TotalDetections      int                     `json:"total_detections"`
	LayerBreakdown       map[string]int          `json:"layer_breakdown"`
	ThreatLevelBreakdown map[string]int          `json:"threat_level_breakdown"`
	RecentDetections     []model.DetectionRecord `json:"recent_detections"`
}

// Pipeline orchestrates the four detection layers and the ensemble for
// every incoming event and keeps a bounded record history for analytics.
type Pipeline struct {
	extractor  *FeatureExtractor
	supervised *SupervisedDetector
	anomaly    *AnomalyScorer
	rules      *RuleEngine
	slow       *SlowPatternAnalyzer
	fuser      *EnsembleFuser

	records *ringbuf.Ring[model.DetectionRecord]
	logger  *slog.Logger
}

// NewPipeline wires the layers from one tuning config. An invalid ensemble
// weight set or a broken rule file fails construction.
func NewPipeline(logger *slog.Logger, cfg Config) (*Pipeline, error) {
	rules, err := NewRuleEngine(logger, cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("rule engine: %w", err)
	}
	if cfg.Rules.RuleFile != "" {
		if err := rules.LoadFile(cfg.Rules.RuleFile); err != nil {
			return nil, err
		}
	}
	fuser, err := NewEnsembleFuser(cfg.Ensemble)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		extractor:  NewFeatureExtractor(),
		supervised: NewSupervisedDetector(logger, cfg.Supervised),
		anomaly:    NewAnomalyScorer(logger, cfg.Anomaly),
		rules:      rules,
		slow:       NewSlowPatternAnalyzer(cfg.SlowPattern),
		fuser:      fuser,
		records:    ringbuf.New[model.DetectionRecord](detectionHistorySize),
		logger:     logger,
	}, nil
}

// AnalyzeFileEvent runs a file event through all four layers.
func (p *Pipeline) AnalyzeFileEvent(ev model.Event) model.DetectionRecord {
	ev.Kind = model.EventFile
	return p.analyze(ev, CategoryFileEncryption)
}

// AnalyzeProcessEvent runs a process event through all four layers.
func (p *Pipeline) AnalyzeProcessEvent(ev model.Event) model.DetectionRecord {
	ev.Kind = model.EventProcess
	return p.analyze(ev, CategoryProcessBehavior)
}

// AnalyzeNetworkEvent runs a network event through all four layers.
func (p *Pipeline) AnalyzeNetworkEvent(ev model.Event) model.DetectionRecord {
	ev.Kind = model.EventNetwork
	return p.analyze(ev, CategoryNetworkCommunication)
}

// Analyze dispatches on the event's own kind.
func (p *Pipeline) Analyze(ev model.Event) model.DetectionRecord {
	switch ev.Kind {
	case model.EventProcess:
		return p.AnalyzeProcessEvent(ev)
	case model.EventNetwork:
		return p.AnalyzeNetworkEvent(ev)
	default:
		return p.AnalyzeFileEvent(ev)
	}
}

func (p *Pipeline) analyze(ev model.Event, ruleCategory string) model.DetectionRecord {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	fv := p.extractor.Extract(ev)

	supervised := p.supervised.Detect(fv)
	anomaly := p.anomaly.Detect(fv)
	rules := p.rules.Evaluate(ruleCategory, EvalContext{
		Event:    ev.Attributes,
		Path:     ev.Subject,
		Base:     baseName(ev.Subject),
		Features: fv.Features,
	})
	slow := p.slow.Detect(fv)

	verdict := p.fuser.Fuse(supervised, anomaly, rules, slow)

	record := model.DetectionRecord{
		Verdict:     verdict,
		Event:       ev,
		Supervised:  supervised,
		Anomaly:     anomaly,
		Rules:       rules,
		SlowPattern: slow,
		Timestamp:   time.Now().UTC(),
	}
	p.records.Append(record)

	if verdict.ThreatDetected {
		p.logger.Warn("threat detected",
			"category", string(ev.Kind),
			"subject", ev.Subject,
			"threat_level", string(verdict.ThreatLevel),
			"confidence", verdict.Confidence,
			"primary_layer", verdict.PrimaryLayer)
	}
	return record
}

// Analytics summarizes the record history by primary layer and threat
// level, with the ten most recent records attached.
func (p *Pipeline) Analytics() Analytics {
	records := p.records.Snapshot()
	a := Analytics{
		TotalDetections:      len(records),
		LayerBreakdown:       map[string]int{},
		ThreatLevelBreakdown: map[string]int{},
	}
	for _, r := range records {
		a.LayerBreakdown[r.Verdict.PrimaryLayer]++
		a.ThreatLevelBreakdown[string(r.Verdict.ThreatLevel)]++
	}
	a.RecentDetections = p.records.Last(10)
	return a
}

// Train forwards labeled examples to the supervised layer.
func (p *Pipeline) Train(modelName string, examples []TrainingExample) error {
	return p.supervised.Train(modelName, examples)
}

// EvaluateRules exposes direct rule evaluation for a category, used for
// system manipulation telemetry that has no dedicated event path.
func (p *Pipeline) EvaluateRules(category string, ctx EvalContext) model.LayerResult {
	return p.rules.Evaluate(category, ctx)
}

// AddRule registers an extra rule at runtime.
func (p *Pipeline) AddRule(r Rule) error {
	return p.rules.AddRule(r)
}

// LoadRuleFile registers every rule from a YAML rule file.
func (p *Pipeline) LoadRuleFile(path string) error {
	return p.rules.LoadFile(path)
}

// RuleStats reports rule counts per category.
func (p *Pipeline) RuleStats() map[string]int {
	return p.rules.CategoryCounts()
}

// ModelVersions reports the supervised model versions.
func (p *Pipeline) ModelVersions() map[string]string {
	return p.supervised.ModelVersions()
}
