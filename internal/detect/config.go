package detect

// SupervisedConfig tunes the supervised layer thresholds.
type SupervisedConfig struct {
	FileThreshold    float64 `yaml:"file_threshold"`
	ProcessThreshold float64 `yaml:"process_threshold"`
	NetworkThreshold float64 `yaml:"network_threshold"`
}

// AnomalyConfig tunes the anomaly layer window and thresholds.
type AnomalyConfig struct {
	WindowSize       int     `yaml:"window_size"`
	FileThreshold    float64 `yaml:"file_threshold"`
	ProcessThreshold float64 `yaml:"process_threshold"`
	NetworkThreshold float64 `yaml:"network_threshold"`
}

// RulesConfig tunes the per-category rule thresholds and names an optional
// extra rule file merged on top of the built-in set.
type RulesConfig struct {
	FileThreshold    float64 `yaml:"file_threshold"`
	ProcessThreshold float64 `yaml:"process_threshold"`
	NetworkThreshold float64 `yaml:"network_threshold"`
	SystemThreshold  float64 `yaml:"system_threshold"`
	RuleFile         string  `yaml:"rule_file"`
}

// SlowPatternConfig tunes the slow pattern detection threshold.
type SlowPatternConfig struct {
	Threshold float64 `yaml:"threshold"`
}

// EnsembleConfig holds the layer weights and verdict thresholds. The four
// weights must sum to 1.0.
type EnsembleConfig struct {
	SupervisedWeight  float64 `yaml:"supervised_weight"`
	AnomalyWeight     float64 `yaml:"anomaly_weight"`
	RulesWeight       float64 `yaml:"rules_weight"`
	SlowPatternWeight float64 `yaml:"slow_pattern_weight"`

	CriticalThreshold   float64 `yaml:"critical_threshold"`
	HighThreshold       float64 `yaml:"high_threshold"`
	SuspiciousThreshold float64 `yaml:"suspicious_threshold"`
}

// Config bundles the tuning of all four layers and the ensemble.
type Config struct {
	Supervised  SupervisedConfig  `yaml:"supervised"`
	Anomaly     AnomalyConfig     `yaml:"anomaly"`
	Rules       RulesConfig       `yaml:"rules"`
	SlowPattern SlowPatternConfig `yaml:"slow_pattern"`
	Ensemble    EnsembleConfig    `yaml:"ensemble"`
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		Supervised: SupervisedConfig{
			FileThreshold:    0.7,
			ProcessThreshold: 0.7,
			NetworkThreshold: 0.6,
		},
		Anomaly: AnomalyConfig{
			WindowSize:       1000,
			FileThreshold:    0.65,
			ProcessThreshold: 0.70,
			NetworkThreshold: 0.60,
		},
		Rules: RulesConfig{
			FileThreshold:    0.6,
			ProcessThreshold: 0.6,
			NetworkThreshold: 0.5,
			SystemThreshold:  0.6,
		},
		SlowPattern: SlowPatternConfig{
			Threshold: 0.7,
		},
		Ensemble: EnsembleConfig{
			SupervisedWeight:    0.35,
			AnomalyWeight:       0.25,
			RulesWeight:         0.25,
			SlowPatternWeight:   0.15,
			CriticalThreshold:   0.85,
			HighThreshold:       0.70,
			SuspiciousThreshold: 0.55,
		},
	}
}
