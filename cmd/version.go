package cmd

import (
	"fmt"
	"io"
)

// Version information (injected at build time via ldflags).
var (
	Version   = "development"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "protokoll %s\n", Version)
	fmt.Fprintf(w, "  build time: %s\n", BuildTime)
	fmt.Fprintf(w, "  git commit: %s\n", GitCommit)
}
