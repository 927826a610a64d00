package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomdesk/fathom/pkg/models"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float64
	}{
		{
			name:     "identical direction",
			a:        []float32{1, 0},
			b:        []float32{1, 0},
			expected: 1.0,
		},
		{
			name:     "orthogonal",
			a:        []float32{1, 0},
			b:        []float32{0, 1},
			expected: 0.0,
		},
		{
			name:     "opposite direction",
			a:        []float32{1, 1},
			b:        []float32{-1, -1},
			expected: -1.0,
		},
		{
			name:     "scaled vectors keep similarity",
			a:        []float32{2, 0},
			b:        []float32{5, 0},
			expected: 1.0,
		},
		{
			name:     "zero magnitude is no match",
			a:        []float32{0, 0},
			b:        []float32{1, 0},
			expected: 0.0,
		},
		{
			name:     "both zero magnitude",
			a:        []float32{0, 0},
			b:        []float32{0, 0},
			expected: 0.0,
		},
		{
			name:     "length mismatch",
			a:        []float32{1, 0, 0},
			b:        []float32{1, 0},
			expected: 0.0,
		},
		{
			name:     "empty vectors",
			a:        []float32{},
			b:        []float32{},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Cosine(tt.a, tt.b)
			assert.InDelta(t, tt.expected, result, 0.0001)
		})
	}
}

func TestBestMatch(t *testing.T) {
	groups := []models.GroupRef{
		{ID: 1, Title: "Cannot receive 2FA SMS codes", Fingerprint: []float32{1, 0, 0}},
		{ID: 2, Title: "Password reset email not arriving", Fingerprint: []float32{0, 1, 0}},
		{ID: 3, Title: "PDF downloads failing in Chrome", Fingerprint: []float32{0.7, 0.7, 0}},
	}

	t.Run("selects highest similarity above threshold", func(t *testing.T) {
		match := BestMatch([]float32{0.9, 0.1, 0}, groups, 0.8)
		require.NotNil(t, match)
		assert.Equal(t, int64(1), match.GroupID)
	})

	t.Run("no group reaches threshold", func(t *testing.T) {
		match := BestMatch([]float32{0, 0, 1}, groups, 0.5)
		assert.Nil(t, match)
	})

	t.Run("boundary similarity is a match", func(t *testing.T) {
		// Candidate identical to group 2: similarity exactly 1.0 at threshold 1.0.
		match := BestMatch([]float32{0, 1, 0}, groups, 1.0)
		require.NotNil(t, match)
		assert.Equal(t, int64(2), match.GroupID)
		assert.InDelta(t, 1.0, match.Similarity, 0.0001)
	})

	t.Run("exact ties resolve to lowest group id", func(t *testing.T) {
		tied := []models.GroupRef{
			{ID: 7, Fingerprint: []float32{1, 0}},
			{ID: 3, Fingerprint: []float32{2, 0}},
			{ID: 5, Fingerprint: []float32{3, 0}},
		}
		match := BestMatch([]float32{1, 0}, tied, 0.9)
		require.NotNil(t, match)
		assert.Equal(t, int64(3), match.GroupID)
	})

	t.Run("zero magnitude candidate never matches", func(t *testing.T) {
		// Undefined similarity is "no match", even at threshold 0.
		assert.Nil(t, BestMatch([]float32{0, 0, 0}, groups, 0.0))
	})

	t.Run("zero magnitude group fingerprints are skipped", func(t *testing.T) {
		withZero := append([]models.GroupRef{{ID: 0, Fingerprint: []float32{0, 0, 0}}}, groups...)
		match := BestMatch([]float32{0.9, 0.1, 0}, withZero, 0.0)
		require.NotNil(t, match)
		assert.Equal(t, int64(1), match.GroupID)
	})

	t.Run("groups without fingerprints are skipped", func(t *testing.T) {
		withEmpty := append([]models.GroupRef{{ID: 0, Fingerprint: nil}}, groups...)
		match := BestMatch([]float32{0.9, 0.1, 0}, withEmpty, 0.8)
		require.NotNil(t, match)
		assert.Equal(t, int64(1), match.GroupID)
	})

	t.Run("empty group set", func(t *testing.T) {
		assert.Nil(t, BestMatch([]float32{1, 0}, nil, 0.5))
	})
}
