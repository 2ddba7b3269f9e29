package async

import (
	"context"
	"errors"
	"time"

	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoices-pipeline/internal/pipeline"
)

// ErrHalted is returned by Enqueue once the consecutive-error breaker tripped.
var ErrHalted = errors.New("queue halted after consecutive critical errors")

// ErrClosed is returned by Enqueue after Shutdown.
var ErrClosed = errors.New("queue is shutting down")

// Job is one document to run through the pipeline.
type Job struct {
	Document    entity.Document
	SubmittedAt time.Time
	TraceID     string
}

// Processor is satisfied by *pipeline.Processor.
type Processor interface {
	Process(ctx context.Context, doc entity.Document) (pipeline.Outcome, error)
}

// ResultFunc receives every finished job. Jobs skipped after a halt arrive with ErrHalted.
type ResultFunc func(job Job, out pipeline.Outcome, err error)

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
	Halted() bool
}
