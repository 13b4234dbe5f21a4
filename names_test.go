package mediavault

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var physicalNamePattern = regexp.MustCompile(`^[A-Za-z0-9]{32}$`)

func TestGenerateName(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		name, err := GenerateName(PhysicalNameLength)
		require.NoError(t, err)
		assert.Regexp(t, physicalNamePattern, name)
		assert.True(t, IsPhysicalName(name))
		seen[name] = struct{}{}
	}
	assert.Len(t, seen, 100)
}

func TestGenerateNameLengths(t *testing.T) {
	name, err := GenerateName(0)
	require.NoError(t, err)
	assert.Equal(t, "", name)

	name, err = GenerateName(7)
	require.NoError(t, err)
	assert.Len(t, name, 7)

	_, err = GenerateName(-1)
	assert.True(t, IsValidationError(err))
}

func TestAlphanumericFromRejectsBiasedBytes(t *testing.T) {
	// 248..255 are rejected; 0 maps to 'A', 61 to '9', 62 wraps to 'A'.
	src := []byte{255, 248, 0, 250, 61, 62, 1}
	src = append(src, bytes.Repeat([]byte{0}, 16)...)
	name, err := alphanumericFrom(bytes.NewReader(src), 4)
	require.NoError(t, err)
	assert.Equal(t, "A9AB", name)
}

func TestAlphanumericFromShortSource(t *testing.T) {
	_, err := alphanumericFrom(bytes.NewReader(bytes.Repeat([]byte{255}, 64)), 4)
	assert.Error(t, err)
}

func TestIsPhysicalName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"valid", physicalName('a'), true},
		{"short", "abc", false},
		{"long", physicalName('a') + "b", false},
		{"dot", physicalName('a')[:31] + ".", false},
		{"verifier file", VerifierFileName, false},
		{"temp file", physicalName('a') + tempSuffix + "x", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPhysicalName(tt.in))
		})
	}
}
