// Package detect implements the four-layer detection engine: supervised
// models, rolling anomaly baselines, declarative rules and long-horizon slow
// pattern analysis, fused by a weighted ensemble.
package detect

import (
	"math"
	"strconv"
	"strings"

	"github.com/quadshield/quadshield/internal/model"
)

var (
	suspiciousExtensions = map[string]bool{
		".encrypted": true, ".locked": true, ".crypto": true, ".ransom": true,
		".wncry": true, ".cryptolocker": true, ".cryptowall": true, ".cerber": true,
	}
	executableExtensions = map[string]bool{
		".exe": true, ".dll": true, ".bat": true, ".cmd": true, ".ps1": true, ".vbs": true,
	}
	documentExtensions = map[string]bool{
		".doc": true, ".docx": true, ".pdf": true, ".xls": true,
		".xlsx": true, ".ppt": true, ".pptx": true, ".txt": true,
	}
	archiveExtensions = map[string]bool{".zip": true, ".rar": true, ".7z": true}

	systemDirs = []string{"/windows/", "/system32/", "/program files/", "/programdata/"}

	suspiciousProcessPatterns = []string{
		"crypto", "encrypt", "ransom", "locker", "wannacry",
		"petya", "cerber", "locky", "cryptolocker",
	}
	systemProcesses = map[string]bool{
		"svchost.exe": true, "services.exe": true, "lsass.exe": true,
		"winlogon.exe": true, "csrss.exe": true, "smss.exe": true,
		"system": true, "system idle process": true,
	}
)

// FeatureExtractor derives numeric feature vectors from raw events. It is
// stateless and deterministic: the same event always yields the same vector,
// and extraction never fails. Absent attributes contribute their zero value.
type FeatureExtractor struct{}

// NewFeatureExtractor returns a ready extractor.
func NewFeatureExtractor() *FeatureExtractor {
	return &FeatureExtractor{}
}

// Extract dispatches on the event kind. Unknown kinds yield an empty vector
// of the same category rather than an error.
func (fe *FeatureExtractor) Extract(ev model.Event) model.FeatureVector {
	var feats map[string]float64
	switch ev.Kind {
	case model.EventFile:
		feats = fe.fileFeatures(ev)
	case model.EventProcess:
		feats = fe.processFeatures(ev)
	case model.EventNetwork:
		feats = fe.networkFeatures(ev)
	default:
		feats = map[string]float64{}
	}
	return model.FeatureVector{
		Category:   ev.Kind,
		Features:   feats,
		OccurredAt: ev.OccurredAt,
	}
}

func (fe *FeatureExtractor) fileFeatures(ev model.Event) map[string]float64 {
	feats := map[string]float64{}
	for k, v := range ev.Attributes {
		if f, ok := toFloat(v); ok {
			feats[k] = f
		}
	}

	path := strings.ToLower(ev.Subject)
	ext := fileExtension(path)

	feats["is_system_file"] = boolFeature(isSystemPath(path))
	feats["is_executable"] = boolFeature(executableExtensions[ext])
	feats["is_document"] = boolFeature(documentExtensions[ext])
	feats["is_suspicious_extension"] = boolFeature(suspiciousExtensions[ext])
	feats["is_archive"] = boolFeature(archiveExtensions[ext])
	feats["high_entropy"] = boolFeature(feats["entropy"] > 7.0)
	feats["is_large_file"] = boolFeature(feats["file_size"] > 1_000_000)
	feats["is_backup_path"] = boolFeature(containsBackupKeyword(path))
	return feats
}

func (fe *FeatureExtractor) processFeatures(ev model.Event) map[string]float64 {
	feats := map[string]float64{}
	for k, v := range ev.Attributes {
		if f, ok := toFloat(v); ok {
			feats[k] = f
		}
	}

	name := strings.ToLower(ev.Subject)
	feats["is_suspicious_name"] = boolFeature(isSuspiciousProcessName(name))
	feats["is_system_process"] = boolFeature(systemProcesses[name])
	feats["high_cpu_usage"] = boolFeature(feats["cpu_usage"] > 80.0)
	feats["high_memory_usage"] = boolFeature(feats["memory_usage"] > 80.0)
	return feats
}

func (fe *FeatureExtractor) networkFeatures(ev model.Event) map[string]float64 {
	feats := map[string]float64{}
	for k, v := range ev.Attributes {
		if f, ok := toFloat(v); ok {
			feats[k] = f
		}
	}

	port := int(feats["remote_port"])
	if port == 0 {
		port = extractPort(ev.Subject)
		feats["remote_port"] = float64(port)
	}
	feats["is_smb_port"] = boolFeature(port == 445)
	feats["is_rdp_port"] = boolFeature(port == 3389)

	proto, _ := ev.Attributes["protocol"].(string)
	proto = strings.ToLower(proto)
	feats["is_suspicious_protocol"] = boolFeature(proto == "smb" || proto == "rdp")
	return feats
}

// Entropy computes the Shannon entropy of a byte sample in bits per byte.
// Empty samples have zero entropy.
func Entropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	total := float64(len(data))
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case bool:
		return boolFeature(x), true
	case string:
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func boolFeature(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

func fileExtension(path string) string {
	base := baseName(path)
	if i := strings.LastIndex(base, "."); i >= 0 {
		return base[i:]
	}
	return ""
}

func baseName(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func isSystemPath(path string) bool {
	for _, d := range systemDirs {
		if strings.Contains(path, d) {
			return true
		}
	}
	return false
}

var backupKeywords = []string{"backup", "shadow", "vss", "volume", "restore"}

func containsBackupKeyword(path string) bool {
	for _, k := range backupKeywords {
		if strings.Contains(path, k) {
			return true
		}
	}
	return false
}

func isSuspiciousProcessName(name string) bool {
	for _, p := range suspiciousProcessPatterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}

func extractPort(addr string) int {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		if p, err := strconv.Atoi(addr[i+1:]); err == nil {
			return p
		}
	}
	return 0
}
