package ingest

import (
	"context"

	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
)

// Result is the per-file outcome of a directory scan.
type Result struct {
	Path     string
	Document entity.Document
	Err      string
}

// DirStats summarizes a directory scan.
type DirStats struct {
	Scanned   uint32
	Matched   uint32
	Succeeded uint32
	Failed    uint32
}

// Ingestor turns files on disk into Documents ready for the pipeline.
type Ingestor interface {
	// Load a single path.
	Load(ctx context.Context, path string) (entity.Document, error)
	// Directory loads all matching files under root.
	Directory(ctx context.Context, root string, skipHidden bool) ([]Result, DirStats, error)
}
