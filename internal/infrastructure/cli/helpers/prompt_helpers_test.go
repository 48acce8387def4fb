package helpers

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptForYesNo(t *testing.T) {
	tests := []struct {
		input string
		def   bool
		want  bool
	}{
		{"y\n", false, true},
		{"YES\n", false, true},
		{"n\n", true, false},
		{"\n", true, true},
		{"\n", false, false},
		{"sure\n", false, false},
		{"y", false, true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got, err := PromptForYesNo(&out, bufio.NewReader(strings.NewReader(tt.input)), "Run?", tt.def)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}

func TestPromptForYesNoEOF(t *testing.T) {
	var out bytes.Buffer
	_, err := PromptForYesNo(&out, bufio.NewReader(strings.NewReader("")), "Run?", true)
	assert.ErrorIs(t, err, io.EOF)
}

func TestPromptForExplicit(t *testing.T) {
	var out bytes.Buffer
	ok, err := PromptForExplicit(&out, bufio.NewReader(strings.NewReader("yes\n")), "yes")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, out.String(), "Type 'yes'")

	ok, err = PromptForExplicit(&out, bufio.NewReader(strings.NewReader("y\n")), "yes")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPrintWarnings(t *testing.T) {
	var out bytes.Buffer
	PrintWarnings(&out, []string{"restarts nginx", "  ", "drops cache"})
	assert.Equal(t, "Warning: restarts nginx\nWarning: drops cache\n", out.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "check d...", Truncate("check disk usage on /var", 10))
	assert.Equal(t, "abcdef", Truncate("abcdef", 3))
}
