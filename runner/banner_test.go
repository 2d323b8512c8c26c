package runner

import (
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  []string
	}{
		{name: "fits", text: "abc", width: 5, want: []string{"abc"}},
		{name: "wraps", text: "abcdefg", width: 3, want: []string{"abc", "def", "g"}},
		{name: "wide runes", text: "📺📺📺", width: 4, want: []string{"📺📺", "📺"}},
		{name: "empty", text: "", width: 3, want: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, wrapText(tc.text, tc.width))
		})
	}
}

func TestBannerLinesHaveEqualWidth(t *testing.T) {
	out := banner([]string{"📺 short", strings.Repeat("x", 50)}, 30)

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 5)

	for _, line := range lines {
		assert.Equal(t, 30, runewidth.StringWidth(line), line)
	}
}
