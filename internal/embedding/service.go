// Package embedding provides text embedding generation for conversation
// fingerprints.
package embedding

import (
	"context"
)

// Embedder turns text into a fixed-length vector of reals.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// Model returns the model identifier in use.
	Model() string
}
