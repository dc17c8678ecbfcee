package transport

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadshield/quadshield/internal/model"
)

func TestEncodeSmallPayloadStaysPlain(t *testing.T) {
	alert := model.ThreatAlert{AgentID: "agent-1", ThreatLevel: model.ThreatHigh}

	data, err := Encode(alert)
	require.NoError(t, err)
	assert.False(t, bytes.HasPrefix(data, zstdMagic))
	assert.True(t, bytes.HasPrefix(data, []byte("{")))

	var got model.ThreatAlert
	require.NoError(t, Decode(data, &got))
	assert.Equal(t, "agent-1", got.AgentID)
}

func TestEncodeLargePayloadCompresses(t *testing.T) {
	alert := model.ThreatAlert{
		AgentID:     "agent-1",
		ThreatLevel: model.ThreatCritical,
		Timestamp:   time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
	}
	for i := 0; i < 200; i++ {
		alert.ForensicData.NetworkConnections = append(alert.ForensicData.NetworkConnections,
			model.NetworkConnection{RemoteHost: "192.168.1.55", Protocol: "SMB", Port: 445, Direction: "outbound"})
	}

	data, err := Encode(alert)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, zstdMagic))

	var got model.ThreatAlert
	require.NoError(t, Decode(data, &got))
	assert.Len(t, got.ForensicData.NetworkConnections, 200)
	assert.Equal(t, alert.Timestamp, got.Timestamp)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	var out model.ThreatAlert
	assert.Error(t, Decode([]byte("not json"), &out))

	// A zstd magic prefix with a corrupt frame body.
	corrupt := append(append([]byte{}, zstdMagic...), 0x00, 0x01, 0x02)
	assert.Error(t, Decode(corrupt, &out))
}

func TestAlertValidator(t *testing.T) {
	validator, err := NewAlertValidator()
	require.NoError(t, err)

	valid := `{
		"agent_id": "agent-1",
		"threat_level": "critical",
		"malware_process": "cryptolocker.exe",
		"detection_confidence": 0.92,
		"forensic_data": {
			"file_access_patterns": {"files_modified": 47, "encryption_detected": true, "ransom_note_found": true},
			"network_connections": [{"remote_host": "192.168.1.55", "protocol": "SMB", "port": 445, "direction": "outbound"}],
			"system_metrics": {"cpu_usage": 85.0, "memory_usage": 60.0}
		},
		"timestamp": "2026-03-10T14:00:00Z"
	}`
	assert.NoError(t, validator.Validate([]byte(valid)))

	cases := []struct {
		name    string
		payload string
		want    string
	}{
		{
			"missing agent_id",
			`{"threat_level": "high", "detection_confidence": 0.5, "timestamp": "2026-03-10T14:00:00Z"}`,
			"agent_id",
		},
		{
			"unknown threat level",
			`{"agent_id": "a", "threat_level": "apocalyptic", "detection_confidence": 0.5, "timestamp": "2026-03-10T14:00:00Z"}`,
			"threat_level",
		},
		{
			"confidence above one",
			`{"agent_id": "a", "threat_level": "high", "detection_confidence": 1.5, "timestamp": "2026-03-10T14:00:00Z"}`,
			"detection_confidence",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validator.Validate([]byte(tc.payload))
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tc.want), "error %q should mention %s", err, tc.want)
		})
	}
}

func TestCommandSubject(t *testing.T) {
	assert.Equal(t, "quadshield.commands.agent-1", CommandSubject("agent-1"))
}
