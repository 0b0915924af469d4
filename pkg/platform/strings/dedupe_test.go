package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "nil slice",
			input:    nil,
			expected: nil,
		},
		{
			name:     "empty slice",
			input:    []string{},
			expected: []string{},
		},
		{
			name:     "trims whitespace",
			input:    []string{"  Smith ", "Jones  "},
			expected: []string{"Smith", "Jones"},
		},
		{
			name:     "removes duplicates preserving order",
			input:    []string{"Smith", "Jones", "Smith", "Brown", "Jones"},
			expected: []string{"Smith", "Jones", "Brown"},
		},
		{
			name:     "removes empty strings",
			input:    []string{"Smith", "", "  ", "Jones"},
			expected: []string{"Smith", "Jones"},
		},
		{
			name:     "preserves case",
			input:    []string{"Smith", "smith"},
			expected: []string{"Smith", "smith"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

func TestDedupeNormalized(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "nil slice",
			input:    nil,
			expected: nil,
		},
		{
			name:     "case and punctuation variants collapse",
			input:    []string{"Bees of Kent", "Bees of kent.", "BEES  OF KENT!"},
			expected: []string{"bees of kent"},
		},
		{
			name:     "distinct titles kept in order",
			input:    []string{"Wasps of Surrey", "", "Bees of Kent", "wasps of surrey"},
			expected: []string{"wasps of surrey", "bees of kent"},
		},
		{
			name:     "punctuation only is dropped",
			input:    []string{"...", "--"},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeNormalized(tt.input))
		})
	}
}
