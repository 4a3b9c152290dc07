package embed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
)

// RetryPolicy configures backoff for rate-limited embedding calls.
type RetryPolicy struct {
	MaxAttempts     int           // Total attempts, including the first
	InitialInterval time.Duration // Backoff before the second attempt
	MaxInterval     time.Duration // Backoff ceiling
}

// DefaultRetryPolicy returns the production policy: three attempts with
// the delay doubling from one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     8 * time.Second,
	}
}

// throttlePatterns are error substrings that identify provider rate
// limiting. Matched case-insensitively against err.Error().
//
// NOTE: string matching because Genkit and the provider SDK do not
// expose typed errors for quota failures. Re-evaluate if a future
// version adds structured error types.
var throttlePatterns = []string{
	"rate limit",
	"quota",
	"429",
	"resource_exhausted",
	"too many requests",
}

// throttled reports whether err is a rate-limit signal. Only these are
// retried; every other failure is permanent for the current item.
func throttled(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, pattern := range throttlePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// callWithRetry executes the embedding request with exponential backoff
// on rate limits. Returns (nil, nil) when all attempts were throttled:
// the caller treats that as "no embedding" rather than a failure.
func (g *Generator) callWithRetry(ctx context.Context, req *ai.EmbedRequest, mode Mode) (*ai.EmbedResponse, error) {
	var lastErr error
	delay := g.policy.InitialInterval
	start := time.Now()

	for attempt := 1; attempt <= g.policy.MaxAttempts; attempt++ {
		resp, err := g.embedder.Embed(ctx, req)
		if err == nil {
			if attempt > 1 {
				g.logger.Debug("embedding succeeded after retry",
					"attempts", attempt, "elapsed", time.Since(start))
			}
			return resp, nil
		}
		lastErr = err

		if !throttled(err) {
			return nil, fmt.Errorf("embedding %s text: %w", mode, err)
		}

		// Last attempt: no point sleeping.
		if attempt == g.policy.MaxAttempts {
			break
		}

		g.logger.Debug("provider throttled, backing off",
			"attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, g.policy.MaxInterval)
		}
	}

	g.logger.Warn("embedding skipped after exhausting retry budget",
		"attempts", g.policy.MaxAttempts,
		"elapsed", time.Since(start),
		"error", lastErr)
	return nil, nil
}
