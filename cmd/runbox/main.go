// Runbox
//
// A sandboxed test orchestrator. Point it at test files and it runs each in
// an isolated Docker sandbox, streaming progress as it goes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "runbox",
	Short: "Runbox - Sandboxed Test Orchestrator",
	Long: `Runbox runs test files in isolated Docker sandboxes.

  runbox serve                                  Start the server
  runbox run a_test.go b_test.go                Run test files
  runbox run --suite smoke                      Run a suite manifest
  runbox runs                                   List runs
  runbox status <id>                            Check run status`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("RUNBOX_SERVER", "http://localhost:7090"), "Runbox server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
