package security

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"direct child", filepath.Join(root, "r1.json"), false},
		{"nested child", filepath.Join(root, "sub", "r1.json"), false},
		{"root itself", root, false},
		{"dotdot escape", filepath.Join(root, "..", "outside.json"), true},
		{"sneaky relative escape", filepath.Join(root, "sub", "..", "..", "outside.json"), true},
		{"absolute elsewhere", "/etc/passwd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, root)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateResultID(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateResultID("0b906a4a-7d5e-4a1b-9f5e-3f2a6c1d8e90"))

	tests := []struct {
		name string
		id   string
	}{
		{"too short", "0b906a4a"},
		{"path traversal", "../../etc/passwd/0b906a4a-7d5e-4a1b"},
		{"bad separator", "0b906a4a_7d5e_4a1b_9f5e_3f2a6c1d8e90"},
		{"non-hex character", "zb906a4a-7d5e-4a1b-9f5e-3f2a6c1d8e90"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateResultID(tt.id))
		})
	}
}

func TestValidateDigest(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateDigest("9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"))
	assert.Error(t, ValidateDigest("short"))
	assert.Error(t, ValidateDigest("zf86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"))
	assert.Error(t, ValidateDigest(""))
}

func TestSanitizeDeviceID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{"clean id passes through", "sensor-42", "sensor-42"},
		{"spaces collapse", "living room sensor", "living_room_sensor"},
		{"path characters collapse", "../../etc", "etc"},
		{"empty becomes unknown", "", "unknown"},
		{"only junk becomes unknown", "###", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeDeviceID(tt.in))
		})
	}
}
