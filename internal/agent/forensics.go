package agent

import (
	"strings"
	"sync"

	"github.com/quadshield/quadshield/internal/model"
	"github.com/quadshield/quadshield/internal/ringbuf"
)

const (
	connectionWindow = 50
	fileEventWindow  = 200
)

var lateralMovementPorts = map[int]bool{445: true, 3389: true, 22: true, 23: true}

type fileObservation struct {
	extension          string
	encryptionDetected bool
	ransomNote         bool
	operation          string
}

// forensicsCollector accumulates recent evidence so alerts carry the
// context the central correlator needs, not just the triggering event.
type forensicsCollector struct {
	mu          sync.Mutex
	connections *ringbuf.Ring[model.NetworkConnection]
	fileEvents  *ringbuf.Ring[fileObservation]
	metrics     model.SystemMetrics
}

func newForensicsCollector() *forensicsCollector {
	return &forensicsCollector{
		connections: ringbuf.New[model.NetworkConnection](connectionWindow),
		fileEvents:  ringbuf.New[fileObservation](fileEventWindow),
	}
}

// Observe folds one analyzed event into the evidence window.
func (fc *forensicsCollector) Observe(ev model.Event, features model.FeatureVector) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	switch ev.Kind {
	case model.EventFile:
		op, _ := ev.Attributes["operation"].(string)
		fc.fileEvents.Append(fileObservation{
			extension:          fileExtension(ev.Subject),
			encryptionDetected: features.Get("encryption_detected") == 1 || features.Get("is_suspicious_extension") == 1,
			ransomNote:         features.Get("ransom_note_found") == 1,
			operation:          op,
		})
	case model.EventProcess:
		if cpu := features.Get("cpu_usage"); cpu > 0 {
			fc.metrics.CPUUsage = cpu
		}
		if mem := features.Get("memory_usage"); mem > 0 {
			fc.metrics.MemoryUsage = mem
		}
		fc.metrics.ProcessCount++
	case model.EventNetwork:
		proto, _ := ev.Attributes["protocol"].(string)
		direction, _ := ev.Attributes["direction"].(string)
		port := int(features.Get("remote_port"))
		fc.connections.Append(model.NetworkConnection{
			RemoteHost: remoteHost(ev.Subject),
			Protocol:   strings.ToUpper(proto),
			Port:       port,
			Direction:  direction,
			Suspicious: lateralMovementPorts[port],
		})
	}
}

// Snapshot assembles the current evidence window into forensic data.
func (fc *forensicsCollector) Snapshot() model.ForensicData {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	patterns := model.FileAccessPatterns{}
	extensions := map[string]bool{}
	operations := map[string]bool{}
	for _, obs := range fc.fileEvents.Snapshot() {
		patterns.FilesModified++
		if obs.encryptionDetected {
			patterns.EncryptionDetected = true
			if obs.extension != "" && !extensions[obs.extension] {
				extensions[obs.extension] = true
				patterns.ExtensionsChanged = append(patterns.ExtensionsChanged, obs.extension)
			}
		}
		if obs.ransomNote {
			patterns.RansomNoteFound = true
		}
		if obs.operation != "" && !operations[obs.operation] {
			operations[obs.operation] = true
			patterns.SuspiciousOperations = append(patterns.SuspiciousOperations, obs.operation)
		}
	}

	return model.ForensicData{
		FileAccessPatterns: patterns,
		NetworkConnections: fc.connections.Snapshot(),
		SystemMetrics:      fc.metrics,
	}
}

func fileExtension(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if i := strings.LastIndex(path, "."); i >= 0 {
		return strings.ToLower(path[i:])
	}
	return ""
}

func remoteHost(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[:i]
	}
	return addr
}
