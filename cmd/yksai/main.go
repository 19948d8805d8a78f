// Command yksai is the entry point for the YKS study assistant.
// It provides a CLI interface (via Cobra) and an optional HTTP server
// exposing the question answering and retrieval API.
package main

import (
	"fmt"
	"os"

	"github.com/bilgeai/yksai-go/cmd/yksai/commands"
)

func main() {
	// Errors are printed here because the root command silences cobra's
	// own reporting.
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "yksai: %v\n", err)
		os.Exit(1)
	}
}
