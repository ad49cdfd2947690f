package format

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "A Cat in Space", want: "a-cat-in-space"},
		{in: "  --Hello,   World!!--  ", want: "hello-world"},
		{in: "Neon city @ night 2077", want: "neon-city-night-2077"},
		{in: "café olé", want: "caf-ol"},
		{in: "", want: "skechum-image"},
		{in: "!!!", want: "skechum-image"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FileName(tt.in), "prompt %q", tt.in)
	}
}

func TestFileNameShape(t *testing.T) {
	t.Parallel()

	inputs := []string{
		strings.Repeat("word ", 40),
		strings.Repeat("a", 49) + " b c",
		"A very long prompt describing a watercolor painting of a lighthouse on a cliff at dawn",
		"UPPER lower 123 ___ ***",
		"日本語のプロンプト with latin",
	}
	for _, in := range inputs {
		got := FileName(in)
		assert.LessOrEqual(t, len(got), 50, "prompt %q", in)
		assert.Equal(t, strings.ToLower(got), got)
		assert.False(t, strings.HasPrefix(got, "-"), "leading hyphen in %q", got)
		assert.False(t, strings.HasSuffix(got, "-"), "trailing hyphen in %q", got)
		assert.NotContains(t, got, "--")
	}
}

func TestElapsed(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0.0s", Elapsed(0))
	assert.Equal(t, "1.5s", Elapsed(1500))
	assert.Equal(t, "12.3s", Elapsed(12345))
	assert.Equal(t, "0.1s", Elapsed(80))
}
