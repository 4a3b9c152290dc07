// Package embed turns protocol text into vectors via a Genkit embedder.
//
// Documents and queries are embedded asymmetrically: the provider tunes
// the vector differently depending on whether the text will be stored or
// used to search, so each call carries an explicit Mode. Rate-limit
// responses are retried with exponential backoff (see retry.go); when the
// retry budget runs out the Generator degrades to an empty vector instead
// of failing, so one throttled document never aborts a batch.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"google.golang.org/genai"
)

// Mode selects the embedding task type.
type Mode string

const (
	// ModeDocument embeds text that will be stored for later retrieval.
	ModeDocument Mode = "document"
	// ModeQuery embeds a question used to search stored documents.
	ModeQuery Mode = "query"
)

// taskType maps a Mode to the Gemini embedding task type.
func (m Mode) taskType() string {
	if m == ModeQuery {
		return "RETRIEVAL_QUERY"
	}
	return "RETRIEVAL_DOCUMENT"
}

// Embedder is the slice of ai.Embedder the Generator needs.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error)
}

// Generator produces embedding vectors with retry and degradation.
//
// Generator is safe for concurrent use by multiple goroutines.
type Generator struct {
	embedder  Embedder
	dimension int
	policy    RetryPolicy
	logger    *slog.Logger
}

// New creates a Generator. dimension is the expected vector length; the
// provider is asked to produce exactly that many dimensions, and a
// response of a different length is logged as a warning because it will
// be rejected by the vector store.
func New(embedder Embedder, dimension int, policy RetryPolicy, logger *slog.Logger) (*Generator, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if dimension < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		embedder:  embedder,
		dimension: dimension,
		policy:    policy,
		logger:    logger,
	}, nil
}

// Dimension returns the configured vector length.
func (g *Generator) Dimension() int {
	return g.dimension
}

// Embed generates a vector for text.
//
// Error handling follows three distinct paths:
//   - non-throttle provider failures return an error immediately;
//   - rate limiting is retried per the policy, and exhaustion returns
//     (nil, nil) so callers can skip the item and move on;
//   - context cancellation during backoff returns the context error.
func (g *Generator) Embed(ctx context.Context, text string, mode Mode) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text is required")
	}

	dim := int32(g.dimension)
	req := &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{
			TaskType:             mode.taskType(),
			OutputDimensionality: &dim,
		},
	}

	resp, err := g.callWithRetry(ctx, req, mode)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		// Retry budget exhausted on rate limits; degrade gracefully.
		return nil, nil
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding response from %s", g.embedder.Name())
	}

	vec := resp.Embeddings[0].Embedding
	if len(vec) != g.dimension {
		g.logger.Warn("embedding dimension mismatch",
			"model", g.embedder.Name(),
			"got", len(vec),
			"want", g.dimension)
	}
	return vec, nil
}
