package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadshield/quadshield/internal/model"
)

func TestExtractFileFeatures(t *testing.T) {
	fe := NewFeatureExtractor()

	ev := model.Event{
		Kind:    model.EventFile,
		Subject: "C:\\Windows\\System32\\payload.ENCRYPTED",
		Attributes: map[string]any{
			"file_size": 2_500_000,
			"entropy":   7.8,
		},
		OccurredAt: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
	}
	fv := fe.Extract(ev)

	assert.Equal(t, model.EventFile, fv.Category)
	assert.Equal(t, 1.0, fv.Get("is_suspicious_extension"))
	assert.Equal(t, 1.0, fv.Get("is_system_file"))
	assert.Equal(t, 1.0, fv.Get("high_entropy"))
	assert.Equal(t, 1.0, fv.Get("is_large_file"))
	assert.Equal(t, 0.0, fv.Get("is_document"))
	assert.Equal(t, 7.8, fv.Get("entropy"))
}

func TestExtractIsDeterministic(t *testing.T) {
	fe := NewFeatureExtractor()
	ev := model.Event{
		Kind:       model.EventProcess,
		Subject:    "wannacry_helper.exe",
		Attributes: map[string]any{"cpu_usage": 95.0, "memory_usage": 40.0},
	}

	first := fe.Extract(ev)
	second := fe.Extract(ev)
	assert.Equal(t, first.Features, second.Features)
}

func TestExtractProcessFeatures(t *testing.T) {
	fe := NewFeatureExtractor()

	fv := fe.Extract(model.Event{
		Kind:       model.EventProcess,
		Subject:    "svchost.exe",
		Attributes: map[string]any{"cpu_usage": 85.0},
	})

	assert.Equal(t, 1.0, fv.Get("is_system_process"))
	assert.Equal(t, 0.0, fv.Get("is_suspicious_name"))
	assert.Equal(t, 1.0, fv.Get("high_cpu_usage"))
	assert.Equal(t, 0.0, fv.Get("high_memory_usage"))
}

func TestExtractNetworkFeatures(t *testing.T) {
	fe := NewFeatureExtractor()

	fv := fe.Extract(model.Event{
		Kind:       model.EventNetwork,
		Subject:    "10.0.0.42:445",
		Attributes: map[string]any{"protocol": "SMB"},
	})

	assert.Equal(t, 445.0, fv.Get("remote_port"))
	assert.Equal(t, 1.0, fv.Get("is_smb_port"))
	assert.Equal(t, 0.0, fv.Get("is_rdp_port"))
	assert.Equal(t, 1.0, fv.Get("is_suspicious_protocol"))
}

func TestExtractCoercesAttributeTypes(t *testing.T) {
	fe := NewFeatureExtractor()

	fv := fe.Extract(model.Event{
		Kind:    model.EventFile,
		Subject: "/data/report.docx",
		Attributes: map[string]any{
			"extension_changed": true,
			"files_modified":    int64(47),
			"entropy":           "6.5",
			"comment":           "not numeric",
		},
	})

	assert.Equal(t, 1.0, fv.Get("extension_changed"))
	assert.Equal(t, 47.0, fv.Get("files_modified"))
	assert.Equal(t, 6.5, fv.Get("entropy"))
	_, present := fv.Features["comment"]
	assert.False(t, present)
}

func TestExtractMissingAttributesDefaultToZero(t *testing.T) {
	fe := NewFeatureExtractor()

	fv := fe.Extract(model.Event{Kind: model.EventFile, Subject: "/tmp/x.bin"})
	require.NotNil(t, fv.Features)
	assert.Zero(t, fv.Get("entropy"))
	assert.Zero(t, fv.Get("file_size"))
	assert.Equal(t, 0.0, fv.Get("is_suspicious_extension"))
}

func TestEntropy(t *testing.T) {
	assert.Zero(t, Entropy(nil))
	assert.Zero(t, Entropy([]byte{7, 7, 7, 7}))

	uniform := make([]byte, 256)
	for i := range uniform {
		uniform[i] = byte(i)
	}
	assert.InDelta(t, 8.0, Entropy(uniform), 1e-9)
}

func TestBackupKeywordDetection(t *testing.T) {
	fe := NewFeatureExtractor()

	fv := fe.Extract(model.Event{Kind: model.EventFile, Subject: "/var/backup/daily.tar"})
	assert.Equal(t, 1.0, fv.Get("is_backup_path"))

	fv = fe.Extract(model.Event{Kind: model.EventFile, Subject: "/home/user/todo.txt"})
	assert.Equal(t, 0.0, fv.Get("is_backup_path"))
}
