// Package index drives the indexing pipeline: change detection,
// embedding, and persistence, one document at a time.
//
// A batch never aborts because one document fails. Each document ends
// in exactly one terminal state (skipped, inserted, replaced, or
// failed) and the Report records all of them, so a nightly job over
// thousands of files survives a handful of unreadable or throttled
// documents.
package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/protokoll-ai/protokoll/internal/embed"
	"github.com/protokoll-ai/protokoll/internal/log"
	"github.com/protokoll-ai/protokoll/internal/store"
	"github.com/protokoll-ai/protokoll/internal/track"
)

// ErrNoEmbedding marks a document whose embedding was unavailable
// after the provider retry budget ran out. Nothing is written for such
// a document; re-running the batch retries it.
var ErrNoEmbedding = errors.New("no embedding produced for document")

// Status is the lifecycle state of a document within a batch.
type Status string

const (
	// StatusPending means the document has not reached a terminal
	// state yet. Outcomes returned by the orchestrator never carry it.
	StatusPending Status = "pending"

	// StatusSkipped means the stored content hash matched; no
	// embedding call and no write happened.
	StatusSkipped Status = "skipped"

	// StatusInserted means the document was new and has been stored.
	StatusInserted Status = "inserted"

	// StatusReplaced means a stale record existed and was atomically
	// swapped for the fresh one.
	StatusReplaced Status = "replaced"

	// StatusFailed means this document did not make it; Outcome.Err
	// says why. Other documents in the batch are unaffected.
	StatusFailed Status = "failed"
)

// Document is one unit of content to index.
type Document struct {
	// SourceKey identifies where the content came from, e.g. a
	// normalized file path. All versions of the same source share it.
	SourceKey string

	Text string

	// Metadata carries optional extra fields (file name, size, ...)
	// merged into the stored record's metadata.
	Metadata map[string]string
}

// Outcome is the terminal state of one document.
type Outcome struct {
	SourceKey string
	Status    Status

	// Err is set only when Status is StatusFailed.
	Err error
}

// Report summarizes a finished (or canceled) batch.
type Report struct {
	BatchID  uuid.UUID
	Started  time.Time
	Duration time.Duration
	Outcomes []Outcome
}

// Count returns how many documents ended in the given status.
func (r *Report) Count(status Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Decider resolves what to do with a document given its content hash.
type Decider interface {
	Decide(ctx context.Context, sourceKey, digest string) (track.Decision, error)
}

// Embedder turns text into a vector. An empty vector with a nil error
// means the provider was unavailable and the caller should degrade.
type Embedder interface {
	Embed(ctx context.Context, text string, mode embed.Mode) ([]float32, error)
}

// Writer persists records.
type Writer interface {
	Insert(ctx context.Context, rec store.Record) error
	Replace(ctx context.Context, rec store.Record) error
}

// Orchestrator runs documents through decide -> embed -> write.
type Orchestrator struct {
	decider  Decider
	embedder Embedder
	writer   Writer
	limiter  *rate.Limiter
	logger   log.Logger
}

// New creates an Orchestrator. delay is the minimum spacing between
// embedding calls within a batch; zero disables pacing.
func New(decider Decider, embedder Embedder, writer Writer, delay time.Duration, logger log.Logger) (*Orchestrator, error) {
	if decider == nil {
		return nil, errors.New("decider is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if delay < 0 {
		return nil, fmt.Errorf("delay must not be negative, got %v", delay)
	}
	if logger == nil {
		logger = log.NewNop()
	}

	var limiter *rate.Limiter
	if delay > 0 {
		// Burst 1: the first call passes immediately, every further
		// call waits out the spacing.
		limiter = rate.NewLimiter(rate.Every(delay), 1)
	}

	return &Orchestrator{
		decider:  decider,
		embedder: embedder,
		writer:   writer,
		limiter:  limiter,
		logger:   logger,
	}, nil
}

// IndexDocument runs a single document through the pipeline and
// returns its terminal outcome. It does not return an error: failures
// are data, reported in the outcome, so batch callers can keep going.
func (o *Orchestrator) IndexDocument(ctx context.Context, doc Document) Outcome {
	outcome := Outcome{SourceKey: doc.SourceKey, Status: StatusPending}
	fail := func(err error) Outcome {
		outcome.Status = StatusFailed
		outcome.Err = err
		return outcome
	}

	if doc.SourceKey == "" {
		return fail(errors.New("document source key is required"))
	}
	if strings.TrimSpace(doc.Text) == "" {
		return fail(errors.New("document text is required"))
	}

	digest := track.Fingerprint([]byte(doc.Text))

	decision, err := o.decider.Decide(ctx, doc.SourceKey, digest)
	if err != nil {
		return fail(err)
	}
	if decision == track.DecisionSkip {
		// No embedding call, no pacing wait, no write.
		outcome.Status = StatusSkipped
		return outcome
	}

	if err := o.wait(ctx); err != nil {
		return fail(err)
	}

	vec, err := o.embedder.Embed(ctx, doc.Text, embed.ModeDocument)
	if err != nil {
		return fail(fmt.Errorf("embedding document: %w", err))
	}
	if len(vec) == 0 {
		return fail(ErrNoEmbedding)
	}

	rec := store.Record{
		Text:      doc.Text,
		Embedding: vec,
		Metadata:  o.recordMetadata(doc, digest),
	}

	switch decision {
	case track.DecisionInsert:
		if err := o.writer.Insert(ctx, rec); err != nil {
			return fail(fmt.Errorf("storing document: %w", err))
		}
		outcome.Status = StatusInserted
	case track.DecisionReplace:
		if err := o.writer.Replace(ctx, rec); err != nil {
			return fail(fmt.Errorf("replacing document: %w", err))
		}
		outcome.Status = StatusReplaced
	default:
		return fail(fmt.Errorf("unknown indexing decision %q", decision))
	}

	return outcome
}

// IndexAll indexes every document in order. It returns a non-nil
// Report even on cancellation, covering the documents processed so
// far; the error is non-nil only when ctx ended the batch early.
func (o *Orchestrator) IndexAll(ctx context.Context, docs []Document) (*Report, error) {
	report := &Report{
		BatchID:  uuid.New(),
		Started:  time.Now(),
		Outcomes: make([]Outcome, 0, len(docs)),
	}
	logger := o.logger.With("batch_id", report.BatchID.String())
	logger.Info("indexing batch started", "documents", len(docs))

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(report.Started)
			logger.Warn("indexing batch canceled",
				"processed", len(report.Outcomes),
				"remaining", len(docs)-len(report.Outcomes))
			return report, err
		}

		outcome := o.IndexDocument(ctx, doc)
		report.Outcomes = append(report.Outcomes, outcome)

		switch outcome.Status {
		case StatusFailed:
			logger.Error("document failed",
				"source_key", outcome.SourceKey,
				"error", outcome.Err)
		case StatusSkipped:
			logger.Debug("document unchanged", "source_key", outcome.SourceKey)
		default:
			logger.Info("document indexed",
				"source_key", outcome.SourceKey,
				"status", string(outcome.Status))
		}
	}

	report.Duration = time.Since(report.Started)
	logger.Info("indexing batch finished",
		"documents", len(docs),
		"inserted", report.Count(StatusInserted),
		"replaced", report.Count(StatusReplaced),
		"skipped", report.Count(StatusSkipped),
		"failed", report.Count(StatusFailed),
		"duration", report.Duration)
	return report, nil
}

func (o *Orchestrator) wait(ctx context.Context) error {
	if o.limiter == nil {
		return nil
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for pacing slot: %w", err)
	}
	return nil
}

func (o *Orchestrator) recordMetadata(doc Document, digest string) map[string]string {
	md := make(map[string]string, len(doc.Metadata)+3)
	for k, v := range doc.Metadata {
		md[k] = v
	}
	md[store.MetaSourceKey] = doc.SourceKey
	md[store.MetaContentHash] = digest
	md["indexed_at"] = time.Now().UTC().Format(time.RFC3339)
	return md
}
