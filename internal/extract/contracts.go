package extract

import (
	"context"
	"errors"

	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
)

// ErrExtractionFailed is returned when neither extractor produced a result within the retry budget.
var ErrExtractionFailed = errors.New("extraction failed")

// NumericExtractor reads amounts and percentages from one rendered page.
// An empty result is not an error; errors mean I/O or service failure.
type NumericExtractor interface {
	ID() string
	Extract(ctx context.Context, page entity.PageImage, dpi int) (entity.ExtractedFields, error)
}

// TextExtractor reads provider, number, date and currency from the whole document.
type TextExtractor interface {
	ID() string
	Extract(ctx context.Context, doc entity.Document) (entity.ExtractedFields, error)
}

// Rasterizer turns a document into page images. cleanup removes any temporary files.
type Rasterizer interface {
	Rasterize(ctx context.Context, doc entity.Document, dpi int) (pages []entity.PageImage, cleanup func(), err error)
}
