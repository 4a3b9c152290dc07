// Package store persists protocol records in PostgreSQL and retrieves
// them by vector similarity using the pgvector extension.
//
// Every record carries its source key and content hash in the metadata
// JSONB column. The store keeps at most one live record per source key:
// Replace deletes the old rows and inserts the new one inside a single
// transaction, so readers never observe both versions.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/protokoll-ai/protokoll/internal/log"
)

// Metadata keys the indexing pipeline relies on.
const (
	// MetaSourceKey identifies the origin of a record. All records from
	// the same source share one key; Replace and DeleteBySourceKey
	// operate on it.
	MetaSourceKey = "source_key"

	// MetaContentHash holds the SHA-256 hex digest of the content that
	// produced the record. Change detection compares against it.
	MetaContentHash = "content_hash"
)

var (
	// ErrEmptyEmbedding is returned when a write carries no vector.
	ErrEmptyEmbedding = errors.New("embedding must not be empty")

	// ErrDimensionMismatch is returned when a vector's length does not
	// match the store's configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrMissingSourceKey is returned when a record's metadata lacks
	// the source_key entry.
	ErrMissingSourceKey = errors.New("metadata missing source_key")
)

const (
	insertSQL = `
		INSERT INTO protocols (text, embedding, metadata)
		VALUES ($1, $2, $3)
		RETURNING id`

	deleteBySourceKeySQL = `
		DELETE FROM protocols
		WHERE metadata->>'source_key' = $1`

	storedHashSQL = `
		SELECT metadata->>'content_hash'
		FROM protocols
		WHERE metadata->>'source_key' = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	queryNearestSQL = `
		SELECT
			text,
			COALESCE(metadata->>'source_key', '') AS source,
			1 - (embedding <=> $1) AS similarity
		FROM protocols
		ORDER BY embedding <=> $1, id
		LIMIT $2`
)

// querier is the subset of pgxpool.Pool and pgx.Tx the store needs, so
// the same statements run inside and outside transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Record is a protocol document ready for persistence.
type Record struct {
	Text      string
	Embedding []float32
	Metadata  map[string]string
}

// Result is a single similarity search hit.
type Result struct {
	Text string

	// Source is the record's source key, or "" when the record carries
	// no metadata.
	Source string

	// Similarity is 1 - cosine distance: 1.0 for identical direction,
	// 0.0 for orthogonal vectors.
	Similarity float64
}

// Store reads and writes protocol records.
type Store struct {
	pool      *pgxpool.Pool
	dimension int
	logger    log.Logger
}

// New creates a Store backed by pool. dimension must match the VECTOR
// column width of the protocols table.
func New(pool *pgxpool.Pool, dimension int, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	if dimension < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, dimension: dimension, logger: logger}, nil
}

// Insert stores a new record. The caller decides insert vs. Replace;
// Insert does not check whether the source key already exists.
func (s *Store) Insert(ctx context.Context, rec Record) error {
	if err := s.validate(rec); err != nil {
		return err
	}
	return s.insert(ctx, s.pool, rec)
}

// Replace atomically swaps all records sharing rec's source key for
// rec. Deleting zero old rows is not an error, so Replace also repairs
// states where the old record vanished between decision and write.
func (s *Store) Replace(ctx context.Context, rec Record) error {
	if err := s.validate(rec); err != nil {
		return err
	}
	sourceKey := rec.Metadata[MetaSourceKey]

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Error("rolling back replace transaction", "error", rbErr)
		}
	}()

	tag, err := tx.Exec(ctx, deleteBySourceKeySQL, sourceKey)
	if err != nil {
		return fmt.Errorf("deleting old records for %q: %w", sourceKey, err)
	}
	if err := s.insert(ctx, tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing replace transaction: %w", err)
	}

	s.logger.Debug("record replaced",
		"source_key", sourceKey,
		"replaced_rows", tag.RowsAffected())
	return nil
}

// DeleteBySourceKey removes every record whose metadata source_key
// matches. It returns the number of rows removed; zero is not an error.
func (s *Store) DeleteBySourceKey(ctx context.Context, sourceKey string) (int64, error) {
	if sourceKey == "" {
		return 0, errors.New("source key is required")
	}
	tag, err := s.pool.Exec(ctx, deleteBySourceKeySQL, sourceKey)
	if err != nil {
		return 0, fmt.Errorf("deleting records for %q: %w", sourceKey, err)
	}
	s.logger.Debug("records deleted",
		"source_key", sourceKey,
		"rows", tag.RowsAffected())
	return tag.RowsAffected(), nil
}

// StoredHash returns the content hash recorded for sourceKey. found
// reports whether any record exists; a record stored without a hash
// yields ("", true, nil) so callers can tell "never indexed" apart
// from "indexed, hash unknown".
func (s *Store) StoredHash(ctx context.Context, sourceKey string) (digest string, found bool, err error) {
	if sourceKey == "" {
		return "", false, errors.New("source key is required")
	}

	var hash *string
	err = s.pool.QueryRow(ctx, storedHashSQL, sourceKey).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying stored hash for %q: %w", sourceKey, err)
	}
	if hash == nil {
		return "", true, nil
	}
	return *hash, true, nil
}

// QueryNearest returns the limit records closest to embedding by
// cosine distance, nearest first. Ties break on insertion order.
func (s *Store) QueryNearest(ctx context.Context, embedding []float32, limit int) ([]Result, error) {
	if len(embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), s.dimension)
	}
	if limit < 1 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := s.pool.Query(ctx, queryNearestSQL, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("querying nearest records: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Text, &r.Source, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}
	return results, nil
}

func (s *Store) insert(ctx context.Context, q querier, rec Record) error {
	var id int
	err := q.QueryRow(ctx, insertSQL, rec.Text, pgvector.NewVector(rec.Embedding), rec.Metadata).Scan(&id)
	if err != nil {
		return fmt.Errorf("inserting record for %q: %w", rec.Metadata[MetaSourceKey], err)
	}
	s.logger.Debug("record stored",
		"id", id,
		"source_key", rec.Metadata[MetaSourceKey])
	return nil
}

func (s *Store) validate(rec Record) error {
	if rec.Text == "" {
		return errors.New("record text is required")
	}
	if len(rec.Embedding) == 0 {
		return ErrEmptyEmbedding
	}
	if len(rec.Embedding) != s.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(rec.Embedding), s.dimension)
	}
	if rec.Metadata[MetaSourceKey] == "" {
		return ErrMissingSourceKey
	}
	return nil
}
