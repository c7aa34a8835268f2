package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercases and strips punctuation",
			input:    "Deploy the API, then verify it!",
			expected: "deploy the api then verify it",
		},
		{
			name:     "collapses whitespace",
			input:    "  check   disk\tspace \n",
			expected: "check disk space",
		},
		{
			name:     "unicode width and case folding",
			input:    "Ｒｅｓｔａｒｔ Nginx",
			expected: "restart nginx",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestSignature(t *testing.T) {
	t.Run("stable across formatting variants", func(t *testing.T) {
		a := Signature("Restart the payment service.")
		b := Signature("restart   the PAYMENT service")
		assert.Equal(t, a, b)
	})

	t.Run("distinct goals get distinct signatures", func(t *testing.T) {
		assert.NotEqual(t, Signature("restart the payment service"), Signature("stop the payment service"))
	})

	t.Run("hex encoded and fixed length", func(t *testing.T) {
		sig := Signature("anything")
		assert.Len(t, sig, 32)
	})
}

func TestKeywords(t *testing.T) {
	kw := Keywords("Check the disk space on the database host")
	assert.Equal(t, []string{"check", "disk", "space", "database", "host"}, kw)
}

func TestKeywordOverlap(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []string
		expected float64
	}{
		{"identical sets", []string{"a", "b"}, []string{"a", "b"}, 1.0},
		{"disjoint sets", []string{"a"}, []string{"b"}, 0.0},
		{"partial overlap", []string{"a", "b", "c"}, []string{"b", "c", "d"}, 0.5},
		{"empty side", nil, []string{"a"}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, KeywordOverlap(tt.a, tt.b), 1e-9)
		})
	}
}
