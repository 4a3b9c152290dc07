package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/protokoll-ai/protokoll/internal/app"
	"github.com/protokoll-ai/protokoll/internal/config"
	"github.com/protokoll-ai/protokoll/internal/index"
)

// runIndex indexes every file under the given paths.
func runIndex(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: protokoll index <path> [<path>...]")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Single writer: two concurrent batches would race change detection
	// and duplicate records.
	lockPath, err := indexLockPath()
	if err != nil {
		return err
	}
	lock, err := acquireIndexLock(lockPath)
	if err != nil {
		return err
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			slog.Warn("releasing index lock", "error", unlockErr)
		}
	}()

	a, err := app.Setup(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Warn("shutdown error", "error", closeErr)
		}
	}()

	var docs []index.Document
	for _, path := range args {
		loaded, err := a.Loader.LoadPath(path)
		if err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
		docs = append(docs, loaded...)
	}
	if len(docs) == 0 {
		fmt.Println("nothing to index")
		return nil
	}

	report, indexErr := a.Indexer.IndexAll(ctx, docs)
	printReport(os.Stdout, report)

	if indexErr != nil {
		return fmt.Errorf("indexing interrupted: %w", indexErr)
	}
	if failed := report.Count(index.StatusFailed); failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(report.Outcomes))
	}
	return nil
}

// indexLockPath returns the lock file path, creating ~/.protokoll.
func indexLockPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting user home directory: %w", err)
	}
	dir := filepath.Join(home, ".protokoll")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating lock directory: %w", err)
	}
	return filepath.Join(dir, "index.lock"), nil
}

// acquireIndexLock takes the advisory file lock, failing immediately
// when another indexing run holds it.
func acquireIndexLock(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring index lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another indexing run is in progress (lock: %s)", path)
	}
	return lock, nil
}

func printReport(w io.Writer, report *index.Report) {
	fmt.Fprintf(w, "indexed %d documents in %s\n",
		len(report.Outcomes), report.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  inserted: %d\n", report.Count(index.StatusInserted))
	fmt.Fprintf(w, "  replaced: %d\n", report.Count(index.StatusReplaced))
	fmt.Fprintf(w, "  skipped:  %d\n", report.Count(index.StatusSkipped))
	fmt.Fprintf(w, "  failed:   %d\n", report.Count(index.StatusFailed))
	for _, o := range report.Outcomes {
		if o.Status == index.StatusFailed {
			fmt.Fprintf(w, "    %s: %v\n", o.SourceKey, o.Err)
		}
	}
}
