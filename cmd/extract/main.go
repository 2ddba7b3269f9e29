package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joseph-ayodele/invoices-pipeline/internal/app"
	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
	"github.com/joseph-ayodele/invoices-pipeline/internal/dedup"
	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoices-pipeline/internal/extract"
)

// report is what the tool prints: the reconciled candidate and, with -decide,
// the decision the pipeline would take against the configured store.
type report struct {
	Document  entity.Document         `json:"document"`
	Candidate entity.CandidateInvoice `json:"candidate"`
	Consensus *extract.Consensus      `json:"consensus,omitempty"`
	Decision  *dedup.Result           `json:"decision,omitempty"`
	Duration  string                  `json:"duration"`
}

func main() {
	var (
		configPath = flag.String("config", os.Getenv("INVOICES_CONFIG"), "path to a yaml/toml/json config file")
		file       = flag.String("file", "", "invoice PDF or image (required)")
		samples    = flag.Int("samples", 0, "extraction attempts fed to the consistency check (default pipeline.samples)")
		decide     = flag.Bool("decide", false, "look the candidate up in the database and print the decision without applying it")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if *file == "" {
		logger.Error("usage", "cmd", "extract -file <invoice.pdf> [-samples n] [-decide]")
		os.Exit(2)
	}

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	if *samples > 0 {
		cfg.Pipeline.Samples = *samples
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	doc, err := a.Ingestor.Load(ctx, *file)
	if err != nil {
		logger.Error("failed to load file", "file", *file, "error", err)
		os.Exit(1)
	}

	start := time.Now()
	out := report{Document: doc}
	c, cons, err := a.Processor.ExtractWithConsensus(ctx, doc)
	if err != nil {
		logger.Error("extraction failed", "file", *file, "error", err)
		os.Exit(1)
	}
	out.Candidate = c
	if cons.Attempts > 1 {
		out.Consensus = &cons
	}

	if *decide {
		res, _, err := a.Processor.Decide(ctx, c)
		if err != nil {
			logger.Error("decision failed", "error", err)
			os.Exit(1)
		}
		out.Decision = &res
	}
	out.Duration = time.Since(start).String()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Error("failed to print report", "error", err)
		os.Exit(1)
	}
}
