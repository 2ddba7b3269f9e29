package extract

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoices-pipeline/internal/ocr"
)

// OCRAdapter exposes the tesseract extractor as both Rasterizer and NumericExtractor.
type OCRAdapter struct {
	e      *ocr.Extractor
	logger *slog.Logger
}

func NewOCRAdapter(e *ocr.Extractor, logger *slog.Logger) *OCRAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &OCRAdapter{e: e, logger: logger}
}

func (a *OCRAdapter) ID() string { return "tesseract" }

func (a *OCRAdapter) Rasterize(ctx context.Context, doc entity.Document, dpi int) ([]entity.PageImage, func(), error) {
	paths, cleanup, err := a.e.RenderPages(ctx, doc.Path, dpi)
	if err != nil {
		return nil, cleanup, err
	}
	pages := make([]entity.PageImage, len(paths))
	for i, p := range paths {
		pages[i] = entity.PageImage{Path: p, Page: i + 1}
	}
	return pages, cleanup, nil
}

func (a *OCRAdapter) Extract(ctx context.Context, page entity.PageImage, _ int) (entity.ExtractedFields, error) {
	pt, err := a.e.RecognizePage(ctx, page.Path)
	if err != nil {
		return entity.ExtractedFields{}, err
	}
	amounts := ocr.ParseAmounts(pt.Text)
	a.logger.Debug("ocr.page.amounts",
		"page", page.Page,
		"ocr_confidence", pt.Confidence,
		"total", amounts.Total,
		"base", amounts.Base,
		"tax", amounts.Tax,
		"rate", amounts.VATRate,
	)
	out := entity.ExtractedFields{
		Total:    amounts.Total,
		Base:     amounts.Base,
		TaxTotal: amounts.Tax,
		VATRate:  amounts.VATRate,
	}
	if amounts.Currency != "" {
		cur := amounts.Currency
		out.Currency = &cur
	}
	return out, nil
}
