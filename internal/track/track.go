// Package track decides whether a document needs (re-)indexing.
//
// Every document carries a SHA-256 fingerprint of its raw content.
// Comparing the current fingerprint against the one stored with the
// last indexed revision yields one of three decisions: skip (unchanged),
// insert (never seen), or replace (content changed). Re-running an
// indexing batch over unchanged sources therefore costs no embedding
// calls and no writes.
package track

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// Decision is the indexing action derived for a document.
type Decision string

const (
	// DecisionSkip means the stored fingerprint matches; nothing to do.
	DecisionSkip Decision = "skip"
	// DecisionInsert means no revision of this source is indexed yet.
	DecisionInsert Decision = "insert"
	// DecisionReplace means the content changed since the last indexing.
	DecisionReplace Decision = "replace"
)

// Fingerprint returns the lowercase hex SHA-256 digest of content.
// The digest is stable across runs and platforms; any byte-level change
// to the content yields a different fingerprint.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// HashSource looks up the fingerprint stored with the newest indexed
// revision of a source. found is false when no revision exists.
type HashSource interface {
	StoredHash(ctx context.Context, sourceKey string) (digest string, found bool, err error)
}

// Tracker derives indexing decisions from stored fingerprints.
type Tracker struct {
	source HashSource
	logger *slog.Logger
}

// New creates a Tracker.
func New(source HashSource, logger *slog.Logger) (*Tracker, error) {
	if source == nil {
		return nil, fmt.Errorf("hash source is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{source: source, logger: logger}, nil
}

// Decide compares digest against the stored fingerprint for sourceKey.
//
// A lookup failure is returned as an error, never silently mapped to
// "not indexed": conflating the two would duplicate documents whenever
// the database hiccups. A stored revision without a fingerprint (for
// example, indexed by an older build) never matches and is replaced.
func (t *Tracker) Decide(ctx context.Context, sourceKey, digest string) (Decision, error) {
	if sourceKey == "" {
		return "", fmt.Errorf("source key is required")
	}
	if digest == "" {
		return "", fmt.Errorf("digest is required")
	}

	stored, found, err := t.source.StoredHash(ctx, sourceKey)
	if err != nil {
		return "", fmt.Errorf("looking up stored hash for %q: %w", sourceKey, err)
	}

	switch {
	case !found:
		return DecisionInsert, nil
	case stored == digest:
		t.logger.Debug("content unchanged", "source_key", sourceKey)
		return DecisionSkip, nil
	default:
		return DecisionReplace, nil
	}
}
