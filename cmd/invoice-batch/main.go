package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
	"github.com/joseph-ayodele/invoices-pipeline/internal/app"
	"github.com/joseph-ayodele/invoices-pipeline/internal/async"
	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
	"github.com/joseph-ayodele/invoices-pipeline/internal/pipeline"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

type summary struct {
	mu        sync.Mutex
	decisions map[constants.Decision]int
	failed    int
	halted    int
}

func (s *summary) record(_ async.Job, out pipeline.Outcome, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case errors.Is(err, async.ErrHalted):
		s.halted++
	case err != nil:
		s.failed++
	default:
		s.decisions[out.Result.Decision]++
	}
}

func main() {
	var (
		configPath = flag.String("config", os.Getenv("INVOICES_CONFIG"), "path to a yaml/toml/json config file")
		dir        = flag.String("dir", "", "directory to process invoices from (required)")
		out        = flag.String("out", "", "review XLSX path (optional, defaults to <dir>/../quarantine.xlsx)")
		skipHidden = flag.Bool("skip-hidden", true, "skip dot files and directories")
		inmem      = flag.Bool("inmem", false, "use an in-memory SQLite database")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(filepath.Clean(*dir)), "quarantine.xlsx")
	}

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(2)
	}
	if *inmem {
		cfg.Database.Driver = "sqlite"
		cfg.Database.SQLitePath = ":memory:"
	}
	logger := common.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	start := time.Now()
	results, stats, err := a.Ingestor.Directory(ctx, *dir, *skipHidden)
	if err != nil {
		logger.Error("failed to scan directory", "dir", *dir, "error", err)
		os.Exit(1)
	}

	sum := &summary{decisions: map[constants.Decision]int{}}
	queue := a.NewQueue(async.WithResultFunc(sum.record))
	for _, r := range results {
		if r.Err != "" {
			logger.Warn("skipping file", "path", r.Path, "error", r.Err)
			continue
		}
		if err := queue.Enqueue(ctx, async.Job{Document: r.Document, TraceID: "batch-" + r.Document.ContentHash[:12]}); err != nil {
			logger.Error("enqueue failed", "path", r.Path, "error", err)
			break
		}
	}
	queue.Shutdown(context.Background())

	xlsx, err := a.Exports.ExportQuarantineXLSX(ctx)
	if err != nil {
		logger.Error("failed to export review workbook", "error", err)
	} else if err := os.WriteFile(*out, xlsx, 0o644); err != nil {
		logger.Error("failed to write review workbook", "path", *out, "error", err)
	}

	logger.Info("batch complete",
		"matched", stats.Matched,
		"insert", sum.decisions[constants.DecisionInsert],
		"update", sum.decisions[constants.DecisionUpdate],
		"skip", sum.decisions[constants.DecisionSkip],
		"quarantine", sum.decisions[constants.DecisionQuarantine],
		"failed", sum.failed+int(stats.Failed),
		"not_processed", sum.halted,
		"review_xlsx", *out,
		"duration", time.Since(start))

	if queue.Halted() {
		printError("Error: batch halted after %d consecutive critical errors\n", cfg.Pipeline.HaltAfterCritical)
		os.Exit(3)
	}
}
