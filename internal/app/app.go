package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoices-pipeline/internal/async"
	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
	"github.com/joseph-ayodele/invoices-pipeline/internal/dedup"
	"github.com/joseph-ayodele/invoices-pipeline/internal/export"
	"github.com/joseph-ayodele/invoices-pipeline/internal/extract"
	"github.com/joseph-ayodele/invoices-pipeline/internal/ingest"
	"github.com/joseph-ayodele/invoices-pipeline/internal/llm/openai"
	"github.com/joseph-ayodele/invoices-pipeline/internal/ocr"
	"github.com/joseph-ayodele/invoices-pipeline/internal/pipeline"
	"github.com/joseph-ayodele/invoices-pipeline/internal/quarantine"
	repo "github.com/joseph-ayodele/invoices-pipeline/internal/repository"
	"github.com/joseph-ayodele/invoices-pipeline/internal/server"
)

// App holds every long-lived component a binary needs.
type App struct {
	Config     *common.Config
	Pipeline   pipeline.Config
	Logger     *slog.Logger
	DB         *repo.DB
	Invoices   repo.InvoiceRepository
	Quarantine quarantine.Store
	Resolver   *quarantine.Resolver
	Ingestor   *ingest.FSIngestor
	Reconciler *extract.Reconciler
	Processor  *pipeline.Processor
	Exports    *export.Service
}

// PipelineConfig converts the loaded settings into the explicit processor config.
func PipelineConfig(cfg *common.Config) (pipeline.Config, error) {
	tol, err := decimal.NewFromString(cfg.Similarity.AmountTolerance)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("%w: similarity.amount_tolerance %q: %v", common.ErrInvalidInput, cfg.Similarity.AmountTolerance, err)
	}
	return pipeline.Config{
		MaxRetries:           cfg.Pipeline.MaxRetries,
		BatchSize:            cfg.Pipeline.BatchSize,
		TimeoutPerExtraction: cfg.Pipeline.TimeoutPerExtraction,
		Samples:              cfg.Pipeline.Samples,
		AgreementThreshold:   cfg.Pipeline.AgreementThreshold,
		DPI:                  cfg.Pipeline.DPI,
		AmountTolerance:      tol,
		Similarity: dedup.SimilarityPolicy{
			AmountTolerance:       tol,
			ProviderMinSimilarity: cfg.Similarity.ProviderMinSimilarity,
			DateWindow:            time.Duration(cfg.Similarity.DateWindowDays) * 24 * time.Hour,
		},
	}, nil
}

// OpenQuarantine selects the review store backend.
func OpenQuarantine(ctx context.Context, cfg common.QuarantineConfig, logger *slog.Logger) (quarantine.Store, error) {
	switch cfg.Backend {
	case "s3":
		return quarantine.NewS3Store(ctx, quarantine.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			Prefix:    cfg.S3Prefix,
		}, logger)
	case "fs", "":
		return quarantine.NewFSStore(cfg.Dir, logger)
	}
	return nil, fmt.Errorf("%w: quarantine backend %q", common.ErrInvalidInput, cfg.Backend)
}

// NewReconciler wires tesseract as the numeric extractor and, when an API key
// is configured, the OpenAI client as the text extractor.
func NewReconciler(cfg *common.Config, pc pipeline.Config, logger *slog.Logger) *extract.Reconciler {
	ocrExtractor := ocr.NewExtractor(ocr.Config{
		Pdftoppm:            cfg.OCR.Pdftoppm,
		Tesseract:           cfg.OCR.Tesseract,
		TesseractLang:       cfg.OCR.Lang,
		MaxPages:            cfg.OCR.MaxPages,
		TessdataDir:         cfg.OCR.TessdataDir,
		PSM:                 cfg.OCR.PSM,
		OEM:                 cfg.OCR.OEM,
		EnableTSVConfidence: true,
	}, logger)
	if missing := ocrExtractor.MissingTools(); len(missing) > 0 {
		logger.Warn("ocr.tools.missing", "tools", missing)
	}
	adapter := extract.NewOCRAdapter(ocrExtractor, logger)

	var text extract.TextExtractor
	if cfg.LLM.APIKey != "" {
		text = openai.NewClient(openai.Config{
			APIKey:          cfg.LLM.APIKey,
			BaseURL:         cfg.LLM.BaseURL,
			Model:           cfg.LLM.Model,
			Temperature:     cfg.LLM.Temperature,
			Timeout:         cfg.LLM.Timeout,
			DefaultCurrency: cfg.LLM.DefaultCurrency,
			VisionDPI:       cfg.LLM.VisionDPI,
			LenientOptional: cfg.LLM.LenientOptional,
		}, adapter, logger)
	} else {
		logger.Warn("llm.disabled", "reason", "llm.api_key is empty; every result uses the numeric extractor only")
	}
	return extract.NewReconciler(adapter, text, adapter, pc.ExtractConfig(), logger)
}

// New opens the store, migrates it and wires the pipeline.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pc, err := PipelineConfig(cfg)
	if err != nil {
		return nil, err
	}

	db, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	q, err := OpenQuarantine(ctx, cfg.Quarantine, logger)
	if err != nil {
		server.CloseDB(db, logger)
		return nil, err
	}

	invoices := repo.NewInvoiceRepository(db, pc.Similarity, logger)
	reconciler := NewReconciler(cfg, pc, logger)

	return &App{
		Config:     cfg,
		Pipeline:   pc,
		Logger:     logger,
		DB:         db,
		Invoices:   invoices,
		Quarantine: q,
		Resolver:   quarantine.NewResolver(q, invoices, logger),
		Ingestor:   ingest.NewFSIngestor(cfg.OCR.MaxPages, logger),
		Reconciler: reconciler,
		Processor:  pipeline.New(reconciler, invoices, q, pc, logger),
		Exports:    export.NewService(invoices, q, logger),
	}, nil
}

// NewQueue starts a worker pool sized by pipeline.batch_size.
func (a *App) NewQueue(opts ...async.Option) *async.ProcessorQueue {
	base := []async.Option{
		async.WithWorkers(a.Pipeline.BatchSize),
		async.WithQueueSize(a.Pipeline.BatchSize * 64),
		async.WithProcessTimeout(JobTimeout(a.Pipeline)),
		async.WithHaltAfter(a.Config.Pipeline.HaltAfterCritical),
	}
	return async.NewProcessorQueue(a.Processor, a.Logger, append(base, opts...)...)
}

// JobTimeout bounds one queued document: every sample runs both extractors with
// their retries, plus one extra extraction's worth for the decision and its re-runs.
func JobTimeout(pc pipeline.Config) time.Duration {
	samples := pc.Samples
	if samples < 1 {
		samples = 1
	}
	perSample := time.Duration(pc.MaxRetries+1) * 2 * pc.TimeoutPerExtraction
	return time.Duration(samples)*perSample + pc.TimeoutPerExtraction
}

// Health pings the database.
func (a *App) Health(ctx context.Context) error {
	return server.PingDB(ctx, a.DB, a.Logger, 2*time.Second)
}

func (a *App) Close() {
	server.CloseDB(a.DB, a.Logger)
}
