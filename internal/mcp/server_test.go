package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/protokoll-ai/protokoll/internal/index"
	"github.com/protokoll-ai/protokoll/internal/log"
)

type fakeIndexer struct {
	gotDocs []index.Document
	report  *index.Report
	err     error
}

func (f *fakeIndexer) IndexAll(_ context.Context, docs []index.Document) (*index.Report, error) {
	f.gotDocs = docs
	if f.err != nil {
		return nil, f.err
	}
	if f.report != nil {
		return f.report, nil
	}
	report := &index.Report{BatchID: uuid.New(), Started: time.Now()}
	for _, d := range docs {
		report.Outcomes = append(report.Outcomes, index.Outcome{
			SourceKey: d.SourceKey,
			Status:    index.StatusInserted,
		})
	}
	return report, nil
}

type fakeLoader struct {
	gotPath string
	docs    []index.Document
	err     error
}

func (f *fakeLoader) LoadPath(path string) ([]index.Document, error) {
	f.gotPath = path
	return f.docs, f.err
}

type fakeAnswerer struct {
	gotQuestion string
	text        string
	err         error
}

func (f *fakeAnswerer) Answer(_ context.Context, question string) (string, error) {
	f.gotQuestion = question
	return f.text, f.err
}

// testServerConfig returns a valid Config plus its fakes for mutation
// and inspection.
func testServerConfig() (Config, *fakeIndexer, *fakeLoader, *fakeAnswerer) {
	fi := &fakeIndexer{}
	fl := &fakeLoader{}
	fa := &fakeAnswerer{text: "grounded answer"}
	cfg := Config{
		Name:     "protokoll",
		Version:  "test",
		Indexer:  fi,
		Loader:   fl,
		Answerer: fa,
		Logger:   log.NewNop(),
	}
	return cfg, fi, fl, fa
}

// connectServer creates a protokoll MCP server from the given config
// and an SDK client connected via in-memory transports. Both sessions
// are cleaned up via t.Cleanup.
func connectServer(t *testing.T, cfg Config) *mcp.ClientSession {
	t.Helper()

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() unexpected error: %v", err)
	}

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.mcpServer.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server.Connect() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	clientSession, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client.Connect() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = clientSession.Close() })

	return clientSession
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%q) unexpected error: %v", name, err)
	}
	return result
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	textContent, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] type = %T, want *mcp.TextContent", result.Content[0])
	}
	return textContent.Text
}

func TestNewServer_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing name",
			mutate:  func(c *Config) { c.Name = "" },
			wantErr: "name is required",
		},
		{
			name:    "missing version",
			mutate:  func(c *Config) { c.Version = "" },
			wantErr: "version is required",
		},
		{
			name:    "missing indexer",
			mutate:  func(c *Config) { c.Indexer = nil },
			wantErr: "indexer is required",
		},
		{
			name:    "missing loader",
			mutate:  func(c *Config) { c.Loader = nil },
			wantErr: "loader is required",
		},
		{
			name:    "missing answerer",
			mutate:  func(c *Config) { c.Answerer = nil },
			wantErr: "answerer is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _, _, _ := testServerConfig()
			tt.mutate(&cfg)

			_, err := NewServer(cfg)
			if err == nil {
				t.Fatal("NewServer() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("NewServer() error = %q, want to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestProtocol_ListTools(t *testing.T) {
	cfg, _, _, _ := testServerConfig()
	session := connectServer(t, cfg)

	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools() unexpected error: %v", err)
	}

	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
		if tool.Description == "" {
			t.Errorf("tool %q has empty description", tool.Name)
		}
	}
	sort.Strings(names)

	wantNames := []string{"answer_question", "index_document"}
	if len(names) != len(wantNames) {
		t.Fatalf("ListTools() returned %v, want %v", names, wantNames)
	}
	for i, got := range names {
		if got != wantNames[i] {
			t.Errorf("ListTools() tool[%d] = %q, want %q", i, got, wantNames[i])
		}
	}
}

func TestProtocol_IndexDocument_Text(t *testing.T) {
	cfg, fi, _, _ := testServerConfig()
	session := connectServer(t, cfg)

	result := callTool(t, session, "index_document", map[string]any{
		"text":       "The Q3 budget was approved.",
		"source_key": "m1",
	})
	if result.IsError {
		t.Fatalf("index_document returned error result: %s", resultText(t, result))
	}

	if len(fi.gotDocs) != 1 {
		t.Fatalf("indexer received %d documents, want 1", len(fi.gotDocs))
	}
	if fi.gotDocs[0].SourceKey != "m1" {
		t.Errorf("document source key = %q, want m1", fi.gotDocs[0].SourceKey)
	}
	if fi.gotDocs[0].Text != "The Q3 budget was approved." {
		t.Errorf("document text = %q", fi.gotDocs[0].Text)
	}

	var summary indexSummary
	if err := json.Unmarshal([]byte(resultText(t, result)), &summary); err != nil {
		t.Fatalf("parsing summary: %v", err)
	}
	if summary.Documents != 1 || summary.Inserted != 1 {
		t.Errorf("summary = %+v, want 1 document inserted", summary)
	}
}

func TestProtocol_IndexDocument_Path(t *testing.T) {
	cfg, fi, fl, _ := testServerConfig()
	fl.docs = []index.Document{
		{SourceKey: "notes/a.md", Text: "alpha"},
		{SourceKey: "notes/b.md", Text: "beta"},
	}
	session := connectServer(t, cfg)

	result := callTool(t, session, "index_document", map[string]any{"path": "notes"})
	if result.IsError {
		t.Fatalf("index_document returned error result: %s", resultText(t, result))
	}

	if fl.gotPath != "notes" {
		t.Errorf("loader path = %q, want notes", fl.gotPath)
	}
	if len(fi.gotDocs) != 2 {
		t.Fatalf("indexer received %d documents, want 2", len(fi.gotDocs))
	}

	var summary indexSummary
	if err := json.Unmarshal([]byte(resultText(t, result)), &summary); err != nil {
		t.Fatalf("parsing summary: %v", err)
	}
	if summary.Documents != 2 || summary.Inserted != 2 {
		t.Errorf("summary = %+v, want 2 documents inserted", summary)
	}
}

func TestProtocol_IndexDocument_InputMistakes(t *testing.T) {
	tests := []struct {
		name     string
		args     map[string]any
		wantHint string
	}{
		{
			name:     "both path and text",
			args:     map[string]any{"path": "a.md", "text": "alpha", "source_key": "a"},
			wantHint: "not both",
		},
		{
			name:     "neither path nor text",
			args:     map[string]any{},
			wantHint: "provide a path",
		},
		{
			name:     "text without source_key",
			args:     map[string]any{"text": "alpha"},
			wantHint: "source_key is required",
		},
		{
			name:     "path with source_key",
			args:     map[string]any{"path": "a.md", "source_key": "a"},
			wantHint: "paths name their own sources",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, fi, _, _ := testServerConfig()
			session := connectServer(t, cfg)

			result := callTool(t, session, "index_document", tt.args)
			if !result.IsError {
				t.Fatal("index_document succeeded, want error result")
			}
			if text := resultText(t, result); !strings.Contains(text, tt.wantHint) {
				t.Errorf("error text = %q, want to contain %q", text, tt.wantHint)
			}
			if fi.gotDocs != nil {
				t.Error("indexer must not run on invalid input")
			}
		})
	}
}

func TestProtocol_IndexDocument_LoaderFailure(t *testing.T) {
	cfg, fi, fl, _ := testServerConfig()
	fl.err = errors.New("permission denied")
	session := connectServer(t, cfg)

	result := callTool(t, session, "index_document", map[string]any{"path": "secret"})
	if !result.IsError {
		t.Fatal("index_document succeeded, want error result")
	}
	if text := resultText(t, result); !strings.Contains(text, "permission denied") {
		t.Errorf("error text = %q, want loader failure", text)
	}
	if fi.gotDocs != nil {
		t.Error("indexer must not run when loading fails")
	}
}

func TestProtocol_IndexDocument_ReportsFailures(t *testing.T) {
	cfg, fi, _, _ := testServerConfig()
	fi.report = &index.Report{
		BatchID: uuid.New(),
		Started: time.Now(),
		Outcomes: []index.Outcome{
			{SourceKey: "a.md", Status: index.StatusInserted},
			{SourceKey: "b.md", Status: index.StatusFailed, Err: errors.New("quota exhausted")},
		},
	}
	session := connectServer(t, cfg)

	result := callTool(t, session, "index_document", map[string]any{"path": "notes"})
	if result.IsError {
		t.Fatalf("index_document returned error result: %s", resultText(t, result))
	}

	var summary indexSummary
	if err := json.Unmarshal([]byte(resultText(t, result)), &summary); err != nil {
		t.Fatalf("parsing summary: %v", err)
	}
	if summary.Inserted != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want 1 inserted 1 failed", summary)
	}
	if len(summary.Failures) != 1 || summary.Failures[0].SourceKey != "b.md" {
		t.Fatalf("failures = %+v, want b.md", summary.Failures)
	}
	if !strings.Contains(summary.Failures[0].Error, "quota") {
		t.Errorf("failure error = %q, want quota message", summary.Failures[0].Error)
	}
}

func TestProtocol_AnswerQuestion(t *testing.T) {
	cfg, _, _, fa := testServerConfig()
	session := connectServer(t, cfg)

	result := callTool(t, session, "answer_question", map[string]any{
		"question": "  What was decided about the budget?  ",
	})
	if result.IsError {
		t.Fatalf("answer_question returned error result: %s", resultText(t, result))
	}

	if got := resultText(t, result); got != "grounded answer" {
		t.Errorf("answer = %q, want %q", got, "grounded answer")
	}
	if fa.gotQuestion != "What was decided about the budget?" {
		t.Errorf("composer received %q, want trimmed question", fa.gotQuestion)
	}
}

func TestProtocol_AnswerQuestion_EmptyQuestion(t *testing.T) {
	cfg, _, _, fa := testServerConfig()
	session := connectServer(t, cfg)

	result := callTool(t, session, "answer_question", map[string]any{"question": "   "})
	if !result.IsError {
		t.Fatal("answer_question succeeded, want error result")
	}
	if fa.gotQuestion != "" {
		t.Error("composer must not run on an empty question")
	}
}

func TestProtocol_AnswerQuestion_Failure(t *testing.T) {
	cfg, _, _, fa := testServerConfig()
	fa.err = errors.New("store unreachable")
	session := connectServer(t, cfg)

	// Handler failures surface to the client either as an in-band error
	// result or a protocol error, depending on SDK transport handling.
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "answer_question",
		Arguments: map[string]any{"question": "anything"},
	})
	if err == nil && !result.IsError {
		t.Fatal("answer_question failure was swallowed")
	}
}
