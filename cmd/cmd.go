// Package cmd implements the protokoll command line interface.
//
// Commands:
//   - index: fingerprint, embed, and store documents
//   - ask: answer one question from indexed documents
//   - mcp: serve both operations over MCP stdio
//
// Signal handling and graceful shutdown are implemented for all
// commands via context cancellation.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/protokoll-ai/protokoll/internal/log"
)

// Execute is the main entry point for the protokoll CLI.
func Execute() error {
	// Initialize the logger once at the entry point.
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(log.New(log.Config{Level: level}))

	if len(os.Args) < 2 {
		printHelp(os.Stdout)
		return nil
	}

	switch os.Args[1] {
	case "index":
		return runIndex(os.Args[2:])
	case "ask":
		return runAsk(os.Args[2:])
	case "mcp":
		return runMCP()
	case "version", "--version", "-v":
		printVersion(os.Stdout)
		return nil
	case "help", "--help", "-h":
		printHelp(os.Stdout)
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "protokoll - incremental document indexing and grounded Q&A")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  protokoll index <path>...   Index files or directories")
	fmt.Fprintln(w, "  protokoll ask <question>    Answer a question from indexed documents")
	fmt.Fprintln(w, "  protokoll mcp               Start MCP server (for Claude Desktop/Cursor)")
	fmt.Fprintln(w, "  protokoll version           Show version information")
	fmt.Fprintln(w, "  protokoll help              Show this help")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment Variables:")
	fmt.Fprintln(w, "  GEMINI_API_KEY     Required: Gemini API key")
	fmt.Fprintln(w, "  DATABASE_URL       Optional: overrides the postgres_* settings")
	fmt.Fprintln(w, "  DEBUG              Optional: enable debug logging")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration file: ~/.protokoll/config.yaml")
}
