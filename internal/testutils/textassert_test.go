package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		match    bool
	}{
		{name: "identical", actual: "a\nb\n", expected: "a\nb\n", match: true},
		{name: "changed line", actual: "a\nc\n", expected: "a\nb\n"},
		{name: "trailing whitespace differs", actual: "a  \nb\n", expected: "a\nb\n"},
		{
			name:     "trailing whitespace ignored",
			opts:     []TextOption{WithIgnoreTrailingWhitespace(true)},
			actual:   "a  \nb\n",
			expected: "a\nb\n",
			match:    true,
		},
		{
			name:     "empty lines ignored",
			opts:     []TextOption{WithIgnoreEmptyLines(true)},
			actual:   "a\n\n\nb",
			expected: "a\nb",
			match:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewTextAsserter(t).WithOptions(tt.opts...).Diff(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, diff)
			} else {
				assert.Contains(t, diff, "--- expected")
				assert.Contains(t, diff, "+++ actual")
			}
		})
	}
}

func TestTextAsserter_ColorizedDiff(t *testing.T) {
	diff := NewTextAsserter(t).WithOptions(WithEnableColors(true)).Diff("x y\n", "x z\n")

	assert.Contains(t, diff, "x·y")
	assert.Contains(t, diff, "\x1b[")
}
