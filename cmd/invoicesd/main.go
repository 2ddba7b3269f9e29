package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joseph-ayodele/invoices-pipeline/internal/app"
	"github.com/joseph-ayodele/invoices-pipeline/internal/async"
	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
	"github.com/joseph-ayodele/invoices-pipeline/internal/ingest"
	"github.com/joseph-ayodele/invoices-pipeline/internal/pipeline"
	"github.com/joseph-ayodele/invoices-pipeline/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("INVOICES_CONFIG"), "path to a yaml/toml/json config file")
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
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

	queue := a.NewQueue(async.WithResultFunc(func(job async.Job, out pipeline.Outcome, err error) {
		if err != nil {
			logger.Error("invoice.failed", "path", job.Document.Path, "trace_id", job.TraceID, "error", err)
			return
		}
		logger.Info("invoice.done", "path", job.Document.Path, "trace_id", job.TraceID,
			"decision", out.Result.Decision, "invoice_id", out.InvoiceID, "quarantine_key", out.QuarantineKey)
	}))

	// gRPC
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	review := server.NewReviewService(a.Quarantine, a.Resolver, logger)
	ingestion := server.NewIngestionService(a.Ingestor, a.Processor, queue, logger)
	grpcServer, _ := server.NewGRPCServer(review, ingestion, logger)

	// HTTP
	api := server.NewAPI(server.HTTPConfig{
		MaxUploadMB: cfg.Ingest.MaxUploadMB,
		UploadDir:   cfg.Ingest.UploadDir,
	}, a.Ingestor, a.Processor, review, a.Exports, a.Health, logger)
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if len(cfg.Ingest.WatchDirs) > 0 {
		if err := watch(ctx, cfg.Ingest, a.Ingestor, queue, logger); err != nil {
			logger.Error("failed to start inbox watcher", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("invoicesd listening", "grpc_addr", cfg.Server.GRPCAddr, "http_addr", cfg.Server.HTTPAddr)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC serve error", "error", err)
			stop()
		}
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP serve error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	queue.Shutdown(shutdownCtx)
}

// watch feeds files that appear in the inbox directories into the queue.
func watch(ctx context.Context, cfg common.IngestConfig, ing *ingest.FSIngestor, queue *async.ProcessorQueue, logger *slog.Logger) error {
	events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       cfg.WatchDirs,
		InitialScan: true,
		Debounce:    cfg.Debounce,
		SkipHidden:  cfg.SkipHidden,
	}, logger)
	if err != nil {
		return err
	}
	go func() {
		for {
			select {
			case path, ok := <-events:
				if !ok {
					return
				}
				doc, err := ing.Load(ctx, path)
				if err != nil {
					logger.Warn("watcher.load.failed", "path", path, "error", err)
					continue
				}
				if err := queue.Enqueue(ctx, async.Job{Document: doc, TraceID: "watch-" + doc.ContentHash[:12]}); err != nil {
					logger.Error("watcher.enqueue.failed", "path", path, "error", err)
				}
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				logger.Warn("watcher.error", "error", err)
			}
		}
	}()
	return nil
}
