package transport

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// alertSchema is the contract every inbound alert must satisfy before the
// central pipeline touches it.
const alertSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "ThreatAlert",
  "type": "object",
  "required": ["agent_id", "threat_level", "detection_confidence", "timestamp"],
  "properties": {
    "agent_id": {"type": "string", "minLength": 1},
    "incident_id": {"type": "string"},
    "threat_level": {"type": "string", "enum": ["normal", "suspicious", "high", "critical"]},
    "malware_process": {"type": "string"},
    "detection_confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "actions_taken": {"type": "array", "items": {"type": "string"}},
    "forensic_data": {
      "type": "object",
      "properties": {
        "file_access_patterns": {
          "type": "object",
          "properties": {
            "files_modified": {"type": "integer", "minimum": 0},
            "encryption_detected": {"type": "boolean"},
            "ransom_note_found": {"type": "boolean"},
            "extensions_changed": {"type": "array", "items": {"type": "string"}},
            "suspicious_operations": {"type": "array", "items": {"type": "string"}}
          }
        },
        "network_connections": {
          "type": "array",
          "items": {
            "type": "object",
            "properties": {
              "remote_host": {"type": "string"},
              "protocol": {"type": "string"},
              "port": {"type": "integer", "minimum": 0, "maximum": 65535},
              "direction": {"type": "string"},
              "suspicious": {"type": "boolean"}
            }
          }
        },
        "system_metrics": {
          "type": "object",
          "properties": {
            "cpu_usage": {"type": "number", "minimum": 0},
            "memory_usage": {"type": "number", "minimum": 0},
            "disk_activity": {"type": "string"},
            "process_count": {"type": "integer", "minimum": 0}
          }
        }
      }
    },
    "timestamp": {"type": "string", "format": "date-time"}
  }
}`

// AlertValidator checks inbound alert payloads against the alert schema.
type AlertValidator struct {
	schema *gojsonschema.Schema
}

// NewAlertValidator compiles the alert schema.
func NewAlertValidator() (*AlertValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(alertSchema))
	if err != nil {
		return nil, fmt.Errorf("compile alert schema: %w", err)
	}
	return &AlertValidator{schema: schema}, nil
}

// Validate returns an error describing every schema violation in the
// payload, or nil when the payload is a valid alert.
func (v *AlertValidator) Validate(payload []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("validate alert: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("invalid alert: %s", strings.Join(problems, "; "))
}
