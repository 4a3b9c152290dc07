// Package mcp exposes the indexing and answering pipelines over the
// Model Context Protocol, so agent hosts can index protocol documents
// and ask grounded questions through a stdio server.
//
// Exactly two tools are registered: index_document accepts a file or
// directory path, or raw text with a source key; answer_question runs
// the retrieval-augmented composer. Input mistakes come back as error
// results the calling agent can read and correct; infrastructure
// failures propagate as protocol errors.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/protokoll-ai/protokoll/internal/index"
	"github.com/protokoll-ai/protokoll/internal/log"
)

// Indexer runs documents through the indexing pipeline.
type Indexer interface {
	IndexAll(ctx context.Context, docs []index.Document) (*index.Report, error)
}

// Loader resolves a file or directory path into documents.
type Loader interface {
	LoadPath(path string) ([]index.Document, error)
}

// Answerer composes a grounded answer for a question.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

// Config holds MCP server configuration.
type Config struct {
	Name     string
	Version  string
	Indexer  Indexer
	Loader   Loader
	Answerer Answerer
	Logger   log.Logger
}

// Server bridges the MCP SDK server and the protokoll pipelines.
type Server struct {
	mcpServer *mcp.Server
	indexer   Indexer
	loader    Loader
	answerer  Answerer
	logger    log.Logger
}

// NewServer creates an MCP server with both tools registered.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if cfg.Indexer == nil {
		return nil, fmt.Errorf("indexer is required")
	}
	if cfg.Loader == nil {
		return nil, fmt.Errorf("loader is required")
	}
	if cfg.Answerer == nil {
		return nil, fmt.Errorf("answerer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		indexer:  cfg.Indexer,
		loader:   cfg.Loader,
		answerer: cfg.Answerer,
		logger:   logger,
	}

	if err := s.registerIndexDocument(); err != nil {
		return nil, fmt.Errorf("registering index_document: %w", err)
	}
	if err := s.registerAnswerQuestion(); err != nil {
		return nil, fmt.Errorf("registering answer_question: %w", err)
	}

	return s, nil
}

// Run serves MCP requests on the given transport until ctx is done or
// the peer disconnects. Blocking.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

// IndexDocumentInput is the input schema for the index_document tool.
// Exactly one of Path or Text must be set.
type IndexDocumentInput struct {
	Path      string `json:"path,omitempty" jsonschema:"File or directory to index. Directories are walked recursively. Mutually exclusive with text."`
	Text      string `json:"text,omitempty" jsonschema:"Raw document content to index. Requires source_key."`
	SourceKey string `json:"source_key,omitempty" jsonschema:"Stable identifier for text content; re-indexing under the same key replaces the old version."`
}

// AnswerQuestionInput is the input schema for the answer_question tool.
type AnswerQuestionInput struct {
	Question string `json:"question" jsonschema:"Question to answer using only indexed documents."`
}

// indexSummary is the JSON payload returned by index_document.
type indexSummary struct {
	BatchID   string         `json:"batch_id"`
	Documents int            `json:"documents"`
	Inserted  int            `json:"inserted"`
	Replaced  int            `json:"replaced"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Failures  []indexFailure `json:"failures,omitempty"`
}

type indexFailure struct {
	SourceKey string `json:"source_key"`
	Error     string `json:"error"`
}

func (s *Server) registerIndexDocument() error {
	inputSchema, err := jsonschema.For[IndexDocumentInput](nil)
	if err != nil {
		return fmt.Errorf("creating input schema: %w", err)
	}

	tool := &mcp.Tool{
		Name: "index_document",
		Description: "Index a document for retrieval. Pass a file or directory path, " +
			"or raw text with a source_key. Unchanged content is skipped; changed " +
			"content replaces the stored version.",
		InputSchema: inputSchema,
	}

	mcp.AddTool(s.mcpServer, tool, func(ctx context.Context, req *mcp.CallToolRequest, in IndexDocumentInput) (*mcp.CallToolResult, any, error) {
		docs, errText := s.resolveDocuments(in)
		if errText != "" {
			return errorResult(errText), nil, nil
		}

		report, err := s.indexer.IndexAll(ctx, docs)
		if err != nil {
			// Only cancellation ends a batch early; the partial report
			// is dropped because the agent will simply retry.
			return nil, nil, fmt.Errorf("indexing interrupted: %w", err)
		}

		summary := indexSummary{
			BatchID:   report.BatchID.String(),
			Documents: len(report.Outcomes),
			Inserted:  report.Count(index.StatusInserted),
			Replaced:  report.Count(index.StatusReplaced),
			Skipped:   report.Count(index.StatusSkipped),
			Failed:    report.Count(index.StatusFailed),
		}
		for _, o := range report.Outcomes {
			if o.Status == index.StatusFailed {
				summary.Failures = append(summary.Failures, indexFailure{
					SourceKey: o.SourceKey,
					Error:     o.Err.Error(),
				})
			}
		}

		s.logger.Info("index_document completed",
			"batch_id", summary.BatchID,
			"documents", summary.Documents,
			"failed", summary.Failed)

		data, err := json.Marshal(summary)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding index summary: %w", err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil, nil
	})

	return nil
}

// resolveDocuments turns tool input into documents. The returned string
// is a caller-correctable problem description, empty on success.
func (s *Server) resolveDocuments(in IndexDocumentInput) ([]index.Document, string) {
	hasPath := in.Path != ""
	hasText := strings.TrimSpace(in.Text) != ""

	switch {
	case hasPath && hasText:
		return nil, "provide either path or text, not both"
	case !hasPath && !hasText:
		return nil, "provide a path to index, or text with a source_key"
	case hasPath && in.SourceKey != "":
		return nil, "source_key only applies to text content; paths name their own sources"
	case hasText && in.SourceKey == "":
		return nil, "source_key is required when indexing text"
	}

	if hasText {
		return []index.Document{{SourceKey: in.SourceKey, Text: in.Text}}, ""
	}

	docs, err := s.loader.LoadPath(in.Path)
	if err != nil {
		return nil, fmt.Sprintf("loading %s: %v", in.Path, err)
	}
	return docs, ""
}

func (s *Server) registerAnswerQuestion() error {
	inputSchema, err := jsonschema.For[AnswerQuestionInput](nil)
	if err != nil {
		return fmt.Errorf("creating input schema: %w", err)
	}

	tool := &mcp.Tool{
		Name: "answer_question",
		Description: "Answer a question using only previously indexed documents. " +
			"The answer cites the sources it was grounded in.",
		InputSchema: inputSchema,
	}

	mcp.AddTool(s.mcpServer, tool, func(ctx context.Context, req *mcp.CallToolRequest, in AnswerQuestionInput) (*mcp.CallToolResult, any, error) {
		question := strings.TrimSpace(in.Question)
		if question == "" {
			return errorResult("question is required"), nil, nil
		}

		text, err := s.answerer.Answer(ctx, question)
		if err != nil {
			return nil, nil, fmt.Errorf("answering question: %w", err)
		}

		s.logger.Debug("answer_question completed", "answer_bytes", len(text))
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil, nil
	})

	return nil
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}
