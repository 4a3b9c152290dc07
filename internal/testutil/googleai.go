package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// GoogleAISetup bundles a Genkit instance with a real Gemini embedder
// for opt-in end-to-end tests against the live API.
type GoogleAISetup struct {
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
}

// SetupGoogleAI initializes Genkit with the Google AI plugin. Skips the
// test when GEMINI_API_KEY is not set, so live-API tests never fail on
// machines without credentials.
func SetupGoogleAI(t *testing.T) *GoogleAISetup {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping live API test in short mode")
	}
	if os.Getenv("GEMINI_API_KEY") == "" {
		t.Skip("GEMINI_API_KEY not set - skipping test requiring live API")
	}

	g := genkit.Init(context.Background(), genkit.WithPlugins(&googlegenai.GoogleAI{}))
	embedder := googlegenai.GoogleAIEmbedder(g, "text-embedding-004")
	if embedder == nil {
		t.Fatal("looking up text-embedding-004 embedder")
	}

	return &GoogleAISetup{Genkit: g, Embedder: embedder}
}
