// Package answer composes grounded answers: it embeds a question,
// retrieves the nearest indexed records, and asks the generative model
// to answer from that context alone.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/protokoll-ai/protokoll/internal/embed"
	"github.com/protokoll-ai/protokoll/internal/log"
	"github.com/protokoll-ai/protokoll/internal/store"
)

// Canned responses for the two degraded paths. Both are normal
// outcomes, not errors: the embedding provider being down or the store
// holding nothing relevant should read like an answer, not a stack
// trace.
const (
	// MsgNoEmbedding is returned when the question could not be
	// embedded, typically after the provider retry budget ran out.
	MsgNoEmbedding = "I could not process your question right now. Please try again in a moment."

	// MsgNoContext is returned when the store has no records to ground
	// an answer in.
	MsgNoContext = "I could not find any relevant information for your question."
)

const systemInstruction = "You are a careful assistant answering questions about indexed protocol documents. " +
	"Answer using only the information in the CONTEXT section. " +
	"If the context does not contain the answer, say that the indexed documents do not cover it. " +
	"Do not invent facts."

// Embedder turns a question into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string, mode embed.Mode) ([]float32, error)
}

// Searcher retrieves the k records nearest to a vector, nearest first.
type Searcher interface {
	QueryNearest(ctx context.Context, embedding []float32, limit int) ([]store.Result, error)
}

// Composer answers questions from indexed records.
type Composer struct {
	g         *genkit.Genkit
	modelName string
	embedder  Embedder
	searcher  Searcher
	topK      int
	logger    log.Logger
}

// New creates a Composer generating with the named model and
// retrieving topK records per question.
func New(g *genkit.Genkit, modelName string, embedder Embedder, searcher Searcher, topK int, logger log.Logger) (*Composer, error) {
	if g == nil {
		return nil, errors.New("genkit instance is required")
	}
	if modelName == "" {
		return nil, errors.New("model name is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if topK < 1 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Composer{
		g:         g,
		modelName: modelName,
		embedder:  embedder,
		searcher:  searcher,
		topK:      topK,
		logger:    logger,
	}, nil
}

// Answer responds to question using only indexed content. Degraded
// conditions (no embedding, no relevant records) yield canned messages
// with a nil error; store and generation failures surface as errors.
func (c *Composer) Answer(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.New("question is required")
	}

	vec, err := c.embedder.Embed(ctx, question, embed.ModeQuery)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		c.logger.Warn("embedding question failed", "error", err)
		return MsgNoEmbedding, nil
	}
	if len(vec) == 0 {
		c.logger.Warn("question embedding unavailable, provider degraded")
		return MsgNoEmbedding, nil
	}

	results, err := c.searcher.QueryNearest(ctx, vec, c.topK)
	if err != nil {
		return "", fmt.Errorf("searching records: %w", err)
	}
	if len(results) == 0 {
		c.logger.Debug("no records matched the question")
		return MsgNoContext, nil
	}

	prompt := buildPrompt(buildContext(results), question)

	// Exactly one generation call; generation failures are the
	// caller's problem, unlike the embedding path above.
	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.modelName),
		ai.WithPrompt(prompt))
	if err != nil {
		return "", fmt.Errorf("generating answer: %w", err)
	}

	c.logger.Debug("answer composed",
		"records", len(results),
		"top_similarity", fmt.Sprintf("%.4f", results[0].Similarity))
	return resp.Text(), nil
}

// buildContext renders retrieved records nearest-first, each tagged
// with its provenance and similarity so the model can cite sources.
func buildContext(results []store.Result) string {
	entries := make([]string, len(results))
	for i, r := range results {
		entries[i] = fmt.Sprintf("Source: %s, similarity: %.4f\n---\n%s", r.Source, r.Similarity, r.Text)
	}
	return strings.Join(entries, "\n\n")
}

func buildPrompt(contextBlock, question string) string {
	return systemInstruction + "\n\nCONTEXT:\n" + contextBlock + "\n\nQUESTION:\n" + question
}
