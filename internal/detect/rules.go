package detect

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/quadshield/quadshield/internal/model"
)

// Rule categories.
const (
	CategoryFileEncryption       = "file_encryption"
	CategoryProcessBehavior      = "process_behavior"
	CategoryNetworkCommunication = "network_communication"
	CategorySystemManipulation   = "system_manipulation"
)

// Rule is one declarative detection rule. Condition is a CEL expression
// over the variables event (map), path (string), base (string) and
// features (map of string to double). Weight must lie in (0,1].
type Rule struct {
	ID          string  `yaml:"id" json:"id"`
	Name        string  `yaml:"name" json:"name"`
	Category    string  `yaml:"category" json:"category"`
	Weight      float64 `yaml:"weight" json:"weight"`
	Condition   string  `yaml:"condition" json:"condition"`
	Description string  `yaml:"description" json:"description"`
}

// Validate checks the declarative fields; condition compilation happens in
// the engine so load failures carry the CEL diagnostics.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule missing id")
	}
	if r.Weight <= 0 || r.Weight > 1 {
		return fmt.Errorf("rule %s: weight %v outside (0,1]", r.ID, r.Weight)
	}
	switch r.Category {
	case CategoryFileEncryption, CategoryProcessBehavior,
		CategoryNetworkCommunication, CategorySystemManipulation:
	default:
		return fmt.Errorf("rule %s: unknown category %q", r.ID, r.Category)
	}
	if r.Condition == "" {
		return fmt.Errorf("rule %s: empty condition", r.ID)
	}
	return nil
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// RuleMatch records one matched rule inside a LayerResult's evidence.
type RuleMatch struct {
	RuleID      string  `json:"rule_id"`
	RuleName    string  `json:"rule_name"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
}

// EvalContext is the input to one rule evaluation. Path and Base are
// lowercased before evaluation so conditions match case-insensitively.
type EvalContext struct {
	Event    map[string]any
	Path     string
	Base     string
	Features map[string]float64
}

// RuleEngine evaluates declarative CEL rules grouped by category.
// Compile errors surface at load time; evaluation errors are isolated per
// rule so one broken rule cannot suppress the others.
type RuleEngine struct {
	env    *cel.Env
	logger *slog.Logger

	mu      sync.RWMutex
	byCat   map[string][]*compiledRule
	ruleIDs map[string]bool

	thresholds map[string]float64
}

// NewRuleEngine compiles the built-in rule set. Additional rules can be
// merged afterwards with LoadFile or AddRule.
func NewRuleEngine(logger *slog.Logger, cfg RulesConfig) (*RuleEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("path", cel.StringType),
		cel.Variable("base", cel.StringType),
		cel.Variable("features", cel.MapType(cel.StringType, cel.DoubleType)),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	e := &RuleEngine{
		env:     env,
		logger:  logger,
		byCat:   map[string][]*compiledRule{},
		ruleIDs: map[string]bool{},
		thresholds: map[string]float64{
			CategoryFileEncryption:       cfg.FileThreshold,
			CategoryProcessBehavior:      cfg.ProcessThreshold,
			CategoryNetworkCommunication: cfg.NetworkThreshold,
			CategorySystemManipulation:   cfg.SystemThreshold,
		},
	}
	for _, r := range builtinRules() {
		if err := e.AddRule(r); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// AddRule validates, compiles and registers a rule. Duplicate IDs are
// rejected.
func (e *RuleEngine) AddRule(r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}

	ast, iss := e.env.Compile(r.Condition)
	if iss != nil && iss.Err() != nil {
		return fmt.Errorf("rule %s: compile: %w", r.ID, iss.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return fmt.Errorf("rule %s: program: %w", r.ID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ruleIDs[r.ID] {
		return fmt.Errorf("rule %s: duplicate id", r.ID)
	}
	e.ruleIDs[r.ID] = true
	e.byCat[r.Category] = append(e.byCat[r.Category], &compiledRule{Rule: r, prg: prg})
	return nil
}

// LoadFile merges rules from a YAML file into the registry.
func (e *RuleEngine) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules: %w", err)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return fmt.Errorf("parse rules: %w", err)
	}
	for _, r := range rf.Rules {
		if err := e.AddRule(r); err != nil {
			return err
		}
	}
	e.logger.Info("loaded rule file", "path", path, "rules", len(rf.Rules))
	return nil
}

// Evaluate runs every rule in the category against the context. The result
// confidence is the mean weight of matched rules, zero when none matched.
func (e *RuleEngine) Evaluate(category string, ctx EvalContext) model.LayerResult {
	e.mu.RLock()
	rules := e.byCat[category]
	threshold, ok := e.thresholds[category]
	e.mu.RUnlock()
	if !ok {
		threshold = 0.6
	}

	event := ctx.Event
	if event == nil {
		event = map[string]any{}
	}
	features := ctx.Features
	if features == nil {
		features = map[string]float64{}
	}
	activation := map[string]any{
		"event":    event,
		"path":     strings.ToLower(ctx.Path),
		"base":     strings.ToLower(ctx.Base),
		"features": features,
	}

	var matches []RuleMatch
	var matchedIDs []string
	var totalWeight float64
	for _, cr := range rules {
		out, _, err := cr.prg.Eval(activation)
		if err != nil {
			e.logger.Warn("rule evaluation failed", "rule", cr.ID, "error", err)
			continue
		}
		matched, ok := out.Value().(bool)
		if !ok || !matched {
			continue
		}
		matches = append(matches, RuleMatch{
			RuleID:      cr.ID,
			RuleName:    cr.Name,
			Confidence:  cr.Weight,
			Description: cr.Description,
		})
		matchedIDs = append(matchedIDs, cr.ID)
		totalWeight += cr.Weight
	}

	var confidence float64
	if len(matches) > 0 {
		confidence = totalWeight / float64(len(matches))
	}

	var level model.ThreatLevel
	switch {
	case confidence > 0.8:
		level = model.ThreatCritical
	case confidence > 0.6:
		level = model.ThreatHigh
	case confidence > 0.4:
		level = model.ThreatSuspicious
	default:
		level = model.ThreatNormal
	}

	return model.LayerResult{
		Layer:          model.LayerRules,
		ThreatDetected: confidence > threshold,
		Confidence:     confidence,
		ThreatLevel:    level,
		DetectionType:  "rule_based",
		MatchedRules:   matchedIDs,
		Evidence:       map[string]any{"rule_matches": matches, "total_rules_checked": e.RuleCount()},
	}
}

// RuleCount reports the number of registered rules across all categories.
func (e *RuleEngine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.ruleIDs)
}

// CategoryCounts reports registered rules per category.
func (e *RuleEngine) CategoryCounts() map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]int, len(e.byCat))
	for cat, rules := range e.byCat {
		out[cat] = len(rules)
	}
	return out
}

func builtinRules() []Rule {
	return []Rule{
		{
			ID: "FILE_ENC_001", Name: "Suspicious File Extension",
			Category: CategoryFileEncryption, Weight: 0.8,
			Condition: `[".encrypted", ".locked", ".crypto", ".ransom", ".wncry",
				".cryptolocker", ".cryptowall", ".cerber", ".zeppelin"].exists(e, path.endsWith(e))`,
			Description: "File has known ransomware extension",
		},
		{
			ID: "FILE_ENC_002", Name: "Mass File Modification",
			Category: CategoryFileEncryption, Weight: 0.7,
			Condition:   `"files_modified_5min" in features && features["files_modified_5min"] > 50.0`,
			Description: "High number of file modifications in short time",
		},
		{
			ID: "FILE_ENC_003", Name: "High Entropy Content",
			Category: CategoryFileEncryption, Weight: 0.9,
			Condition: `("entropy" in features && features["entropy"] > 7.5) ||
				("encryption_detected" in features && features["encryption_detected"] == 1.0)`,
			Description: "File content has high entropy indicating encryption",
		},
		{
			ID: "FILE_ENC_004", Name: "Ransom Note Creation",
			Category: CategoryFileEncryption, Weight: 0.95,
			Condition: `("ransom_note_found" in features && features["ransom_note_found"] == 1.0) ||
				["readme", "decrypt", "recover", "instruction", "help",
				"how_to_recover", "ransom", "payment", "bitcoin"].exists(p, base.contains(p))`,
			Description: "Ransom note file created",
		},
		{
			ID: "FILE_ENC_005", Name: "Extension Change Pattern",
			Category: CategoryFileEncryption, Weight: 0.85,
			Condition:   `"extension_changed" in features && features["extension_changed"] == 1.0`,
			Description: "File extension changed to suspicious type",
		},
		{
			ID: "PROC_BEH_001", Name: "Suspicious Process Name",
			Category: CategoryProcessBehavior, Weight: 0.7,
			Condition: `["crypto", "encrypt", "ransom", "locker", "wannacry",
				"petya", "cerber", "locky", "cryptolocker", "encrypted",
				"decrypt", "bitcoin", "wallet", "payment", "recover"].exists(p, base.contains(p))`,
			Description: "Process name matches known ransomware patterns",
		},
		{
			ID: "PROC_BEH_002", Name: "High CPU Usage",
			Category: CategoryProcessBehavior, Weight: 0.6,
			Condition:   `"cpu_usage" in features && features["cpu_usage"] > 90.0`,
			Description: "Process consuming excessive CPU resources",
		},
		{
			ID: "PROC_BEH_003", Name: "File Handle Proliferation",
			Category: CategoryProcessBehavior, Weight: 0.75,
			Condition:   `"file_handles" in features && features["file_handles"] > 1000.0`,
			Description: "Process has unusually high number of file handles",
		},
		{
			ID: "PROC_BEH_004", Name: "Cryptographic API Calls",
			Category: CategoryProcessBehavior, Weight: 0.8,
			Condition:   `"crypto_api_calls" in features && features["crypto_api_calls"] > 100.0`,
			Description: "High number of cryptographic API calls",
		},
		{
			ID: "PROC_BEH_005", Name: "Process Injection",
			Category: CategoryProcessBehavior, Weight: 0.9,
			Condition:   `"process_injection" in features && features["process_injection"] == 1.0`,
			Description: "Process attempting code injection into other processes",
		},
		{
			ID: "NET_COM_001", Name: "SMB Lateral Movement",
			Category: CategoryNetworkCommunication, Weight: 0.8,
			Condition:   `"remote_port" in features && features["remote_port"] == 445.0`,
			Description: "SMB connections indicating lateral movement",
		},
		{
			ID: "NET_COM_002", Name: "RDP Brute Force",
			Category: CategoryNetworkCommunication, Weight: 0.7,
			Condition: `"remote_port" in features && features["remote_port"] == 3389.0 &&
				"connection_attempts" in features && features["connection_attempts"] > 10.0`,
			Description: "Multiple RDP connection attempts",
		},
		{
			ID: "NET_COM_003", Name: "C2 Communication",
			Category: CategoryNetworkCommunication, Weight: 0.85,
			Condition:   `"is_c2_ip" in features && features["is_c2_ip"] == 1.0`,
			Description: "Communication with known C2 server IP",
		},
		{
			ID: "NET_COM_004", Name: "Data Exfiltration",
			Category: CategoryNetworkCommunication, Weight: 0.75,
			Condition:   `"data_sent" in features && features["data_sent"] > 100000000.0`,
			Description: "Large amount of data being sent",
		},
		{
			ID: "NET_COM_005", Name: "Encrypted Traffic to Unknown",
			Category: CategoryNetworkCommunication, Weight: 0.6,
			Condition: `"is_encrypted" in features && features["is_encrypted"] == 1.0 &&
				"is_unknown_destination" in features && features["is_unknown_destination"] == 1.0`,
			Description: "Encrypted traffic to unknown destination",
		},
		{
			ID: "SYS_MAN_001", Name: "Registry Modification",
			Category: CategorySystemManipulation, Weight: 0.7,
			Condition:   `"registry_modifications" in features && features["registry_modifications"] > 10.0`,
			Description: "Multiple registry modifications",
		},
		{
			ID: "SYS_MAN_002", Name: "Service Creation",
			Category: CategorySystemManipulation, Weight: 0.8,
			Condition:   `"services_created" in features && features["services_created"] > 0.0`,
			Description: "New services created",
		},
		{
			ID: "SYS_MAN_003", Name: "Shadow Copy Deletion",
			Category: CategorySystemManipulation, Weight: 0.9,
			Condition:   `"shadow_copies_deleted" in features && features["shadow_copies_deleted"] == 1.0`,
			Description: "Volume shadow copies deleted",
		},
		{
			ID: "SYS_MAN_004", Name: "Boot Configuration Modified",
			Category: CategorySystemManipulation, Weight: 0.85,
			Condition:   `"bcd_modified" in features && features["bcd_modified"] == 1.0`,
			Description: "Boot configuration data modified",
		},
	}
}
