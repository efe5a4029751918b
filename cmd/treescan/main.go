package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "treescan",
	Short: "A cache-first directory tree viewer",
	Long: `treescan prints directory trees from a persistent cache instead of
walking the filesystem on every invocation. The first run scans and
caches the tree; later runs serve from the cache and rescan only the
working directory when the cache has aged past the freshness window.`,
	RunE: runShow,
}

func init() {
	rootCmd.Version = version
}
