package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	internal "github.com/ZanzyTHEbar/treescan/tscan"
	"github.com/ZanzyTHEbar/treescan/tscan/changes"
	"github.com/ZanzyTHEbar/treescan/tscan/config"
	"github.com/ZanzyTHEbar/treescan/tscan/policy"
	"github.com/ZanzyTHEbar/treescan/tscan/render"
	"github.com/ZanzyTHEbar/treescan/tscan/store"
	"github.com/ZanzyTHEbar/treescan/tscan/traverse"
)

var (
	showRoot     string
	showDir      string
	showForce    bool
	showFormat   string
	showWorkers  int
	showSkip     []string
	showAdmin    bool
	showMaxDepth int
	showQuiet    bool
	showDebug    bool
	showConfig   string
)

func init() {
	rootCmd.Flags().StringVarP(&showRoot, "root", "r", "/", "Tree root the cache covers")
	rootCmd.Flags().StringVarP(&showDir, "dir", "d", "", "Directory to display (default: working directory)")
	rootCmd.Flags().BoolVarP(&showForce, "force", "f", false, "Rescan even when the cache is fresh")
	rootCmd.Flags().StringVar(&showFormat, "format", "tree", "Output format: tree|json")
	rootCmd.Flags().IntVarP(&showWorkers, "workers", "w", 0, "Worker goroutines (0 = 2x logical cores)")
	rootCmd.Flags().StringSliceVar(&showSkip, "skip", nil, "Extra directory names to skip (can be repeated)")
	rootCmd.Flags().BoolVar(&showAdmin, "admin", false, "Scan system directories that need elevated rights")
	rootCmd.Flags().IntVar(&showMaxDepth, "max-depth", 0, "Limit output depth (0 = unlimited)")
	rootCmd.Flags().BoolVarP(&showQuiet, "quiet", "q", false, "Refresh the cache without printing the tree")
	rootCmd.Flags().BoolVar(&showDebug, "debug", false, "Print scan diagnostics to stderr")
	rootCmd.Flags().StringVar(&showConfig, "config", "", "Path to config file")
}

func runShow(cmd *cobra.Command, args []string) error {
	logger := internal.GetLogger()

	cfg, err := config.LoadConfig(showConfig)
	if err != nil {
		return err
	}

	dir := showDir
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return fmt.Errorf("failed to resolve working directory: %w", err)
		}
	}
	if dir, err = filepath.Abs(dir); err != nil {
		return fmt.Errorf("failed to resolve display directory: %w", err)
	}

	switch showFormat {
	case "tree", "json":
	default:
		return fmt.Errorf("invalid format %q (expected tree|json)", showFormat)
	}

	if showWorkers == 0 {
		showWorkers = cfg.Treescan.Workers
	}
	elevated := showAdmin || cfg.Treescan.Elevated

	rules := traverse.NewSkipRules(append(traverse.DefaultSkipNames(elevated),
		append(showSkip, cfg.Treescan.SkipDirs...)...))
	if cfg.Treescan.IgnoreFile != "" {
		if _, statErr := os.Stat(cfg.Treescan.IgnoreFile); statErr == nil {
			if err := rules.WithIgnoreFile(cfg.Treescan.IgnoreFile); err != nil {
				logger.Debug().Err(err).Msg("ignore file not loaded")
			}
		}
	}

	if err := os.MkdirAll(cfg.Treescan.CacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	cache, err := store.Open(cfg.Treescan.CacheBase(), cfg.Treescan.HotEntries)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer cache.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nCanceling... (press Ctrl+C again to force)")
		cancel()
		<-sigCh
		os.Exit(130)
	}()

	refresher := &policy.Refresher{
		Cache: cache,
		// A platform change feed plugs in here: changes.WatchSource for a
		// long-lived process, or a journal-backed source where the OS keeps
		// one. A one-shot run has no events to replay, so freshness stays
		// age-based.
		Source:        changes.Unsupported{},
		Window:        time.Duration(cfg.Treescan.FreshnessMinutes) * time.Minute,
		Workers:       showWorkers,
		SortThreshold: cfg.Treescan.SortThreshold,
		Rules:         rules,
	}

	report, err := refresher.Refresh(ctx, showRoot, dir, showForce)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Scan canceled.")
			return nil
		}
		return err
	}

	if showDebug {
		printReport(report)
		fmt.Fprintf(os.Stderr, "dirs under %s: %d\n", dir, len(cache.PathsUnder(dir)))
	}
	if showQuiet {
		return nil
	}

	entries := cache.GetAll()
	switch showFormat {
	case "json":
		out, err := render.JSON(entries, dir, render.Options{MaxDepth: showMaxDepth})
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	default:
		var sb strings.Builder
		render.Tree(&sb, entries, dir, render.Options{MaxDepth: showMaxDepth})
		fmt.Print(sb.String())
	}
	return nil
}

func printReport(r *policy.Report) {
	fmt.Fprintf(os.Stderr, "scope: %s\n", r.Scope)
	fmt.Fprintf(os.Stderr, "first run: %v\n", r.FirstRun)
	fmt.Fprintf(os.Stderr, "cache used: %v\n", r.CacheUsed)
	fmt.Fprintf(os.Stderr, "total dirs: %d\n", r.TotalDirs)
	if r.ScanID != "" {
		fmt.Fprintf(os.Stderr, "scan id: %s\n", r.ScanID)
		fmt.Fprintf(os.Stderr, "scan root: %s\n", r.ScanRoot)
		fmt.Fprintf(os.Stderr, "workers: %d\n", r.WorkersUsed)
		fmt.Fprintf(os.Stderr, "traversal: %s\n", r.TraversalTime.Round(time.Millisecond))
		fmt.Fprintf(os.Stderr, "save: %s\n", r.SaveTime.Round(time.Millisecond))
	}
	for rule, n := range r.Skipped {
		fmt.Fprintf(os.Stderr, "skipped %q: %d\n", rule, n)
	}
	if len(r.Errors) > 0 {
		fmt.Fprintf(os.Stderr, "unreadable dirs: %d\n", len(r.Errors))
	}
}
