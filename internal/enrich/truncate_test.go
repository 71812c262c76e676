package enrich

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		maxChars  int
		tailChars int
		want      string
	}{
		{"short text unchanged", "abc", 10, 2, "abc"},
		{"exact length unchanged", "abcdef", 6, 2, "abcdef"},
		{"disabled", strings.Repeat("x", 50), 0, 10, strings.Repeat("x", 50)},
		{"head and tail", "0123456789", 6, 2, "0123" + truncationMarker + "89"},
		{"no tail", "0123456789", 4, 0, "0123" + truncationMarker},
		{"tail too large is halved", "0123456789", 4, 9, "01" + truncationMarker + "89"},
		{"multibyte runes", "ação-ção-ção", 6, 3, "açã" + truncationMarker + "ção"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.text, tt.maxChars, tt.tailChars))
		})
	}
}
