// Package similarity provides vector similarity and best-match selection
// for issue group clustering.
package similarity

import (
	"math"

	"github.com/fathomdesk/fathom/pkg/models"
)

// Cosine calculates the cosine similarity between two vectors.
// Returns a value between -1 (opposite) and 1 (identical direction).
// Returns 0 if the vectors have different lengths or either has zero
// magnitude; callers treat that as "no match" rather than an error.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Match is the result of a best-match search over issue group refs.
type Match struct {
	GroupID    int64
	Similarity float64
}

// BestMatch finds the issue group whose representative fingerprint is most
// similar to the candidate fingerprint, considering only groups at or above
// the threshold. Returns nil when no group reaches the threshold.
//
// Exact similarity ties are broken by lowest group ID so that repeated runs
// over the same snapshot always select the same group.
func BestMatch(fingerprint []float32, groups []models.GroupRef, threshold float64) *Match {
	if zeroMagnitude(fingerprint) {
		return nil
	}

	var best *Match

	for _, group := range groups {
		if zeroMagnitude(group.Fingerprint) {
			continue
		}

		sim := Cosine(fingerprint, group.Fingerprint)
		if sim < threshold {
			continue
		}

		switch {
		case best == nil:
			best = &Match{GroupID: group.ID, Similarity: sim}
		case sim > best.Similarity:
			best.GroupID = group.ID
			best.Similarity = sim
		case sim == best.Similarity && group.ID < best.GroupID:
			best.GroupID = group.ID
		}
	}

	return best
}

// zeroMagnitude reports whether the vector is empty or all zeros. Cosine
// similarity is undefined for such vectors, so they can never match.
func zeroMagnitude(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
