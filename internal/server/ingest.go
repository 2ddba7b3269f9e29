package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/invoices-pipeline/internal/async"
	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoices-pipeline/internal/ingest"
	"github.com/joseph-ayodele/invoices-pipeline/internal/pipeline"
)

// DocumentProcessor is satisfied by *pipeline.Processor.
type DocumentProcessor interface {
	Process(ctx context.Context, doc entity.Document) (pipeline.Outcome, error)
}

// Enqueuer is satisfied by *async.ProcessorQueue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job async.Job) error
}

type IngestionService struct {
	ingestor  ingest.Ingestor
	processor DocumentProcessor
	queue     Enqueuer
	logger    *slog.Logger
}

// NewIngestionService wires the ingestion RPCs. A nil queue makes IngestDirectory process inline.
func NewIngestionService(ing ingest.Ingestor, proc DocumentProcessor, queue Enqueuer, logger *slog.Logger) *IngestionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestionService{ingestor: ing, processor: proc, queue: queue, logger: logger}
}

func (s *IngestionService) IngestFile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	path := stringField(in, "path")
	if err := common.ValidateAndReturnError(common.NewValidator().Field("path", path, common.Required)); err != nil {
		s.logger.Error("ingest request missing path")
		return nil, err
	}

	out, err := s.ingestFile(ctx, path)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return toStruct(newOutcomeView(out))
}

func (s *IngestionService) ingestFile(ctx context.Context, path string) (pipeline.Outcome, error) {
	s.logger.Info("starting file ingest", append(common.LogAttrs(ctx), "path", path)...)
	doc, err := s.ingestor.Load(ctx, path)
	if err != nil {
		return pipeline.Outcome{}, fmt.Errorf("%w: ingest: %v", common.ErrInvalidInput, err)
	}
	out, err := s.processor.Process(common.WithSourcePath(ctx, doc.Path), doc)
	if err != nil {
		s.logger.Error("pipeline.failed", append(common.LogAttrs(ctx), "path", doc.Path, "error", err)...)
		return out, err
	}
	return out, nil
}

func (s *IngestionService) IngestDirectory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	root := stringField(in, "root_path")
	if err := common.ValidateAndReturnError(common.NewValidator().Field("root_path", root, common.Required)); err != nil {
		s.logger.Error("ingest directory request missing root_path")
		return nil, err
	}
	skipHidden := boolField(in, "skip_hidden", true)

	view, err := s.ingestDirectory(ctx, root, skipHidden)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return toStruct(view)
}

func (s *IngestionService) ingestDirectory(ctx context.Context, root string, skipHidden bool) (directoryView, error) {
	s.logger.Info("starting directory ingest", append(common.LogAttrs(ctx), "root", root, "skip_hidden", skipHidden)...)
	results, stats, err := s.ingestor.Directory(ctx, root, skipHidden)
	if err != nil {
		return directoryView{}, fmt.Errorf("%w: ingest directory: %v", common.ErrInvalidInput, err)
	}

	view := newDirectoryView(stats)
	traceID := common.RequestIDFromContext(ctx)
	for _, r := range results {
		item := fileView{Path: r.Path, ContentHash: r.Document.ContentHash, Error: r.Err}
		if r.Err != "" {
			view.Results = append(view.Results, item)
			continue
		}
		if view.Halted {
			item.Error = async.ErrHalted.Error()
			view.Results = append(view.Results, item)
			continue
		}

		if s.queue != nil {
			err := s.queue.Enqueue(ctx, async.Job{Document: r.Document, SubmittedAt: time.Now(), TraceID: traceID})
			switch {
			case err == nil:
				item.Queued = true
				view.Queued++
			case errors.Is(err, async.ErrHalted):
				view.Halted = true
				item.Error = err.Error()
			default:
				item.Error = err.Error()
			}
		} else if _, err := s.processor.Process(common.WithSourcePath(ctx, r.Path), r.Document); err != nil {
			s.logger.Error("pipeline.failed", append(common.LogAttrs(ctx), "path", r.Path, "error", err)...)
			item.Error = err.Error()
		}
		view.Results = append(view.Results, item)
	}

	s.logger.Info("directory ingest completed", append(common.LogAttrs(ctx),
		"root", root, "scanned", stats.Scanned, "matched", stats.Matched, "queued", view.Queued, "failed", stats.Failed, "halted", view.Halted)...)
	return view, nil
}
