package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
)

type Config struct {
	Timeout            time.Duration   // per extraction call, default 60s
	MaxRetries         int             // retries after the first call; 0 disables, negative means default 1
	RetryBackoff       time.Duration   // pause before a retry, default 500ms
	DPI                int             // page render resolution, default 300
	AmountTolerance    decimal.Decimal // numeric/text disagreement below this is ignored, default 0.01
	AgreementThreshold float64         // oracle threshold, default 0.70
}

// Reconciler runs both extractors and merges their output into one result.
type Reconciler struct {
	numeric NumericExtractor
	text    TextExtractor
	raster  Rasterizer
	cfg     Config
	logger  *slog.Logger
}

// NewReconciler wires the extractors. text and raster may be nil: a nil text
// extractor always falls back, a nil rasterizer feeds the document file as its only page.
func NewReconciler(numeric NumericExtractor, text TextExtractor, raster Rasterizer, cfg Config, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.AmountTolerance.IsZero() {
		cfg.AmountTolerance = decimal.RequireFromString("0.01")
	}
	if cfg.AgreementThreshold <= 0 {
		cfg.AgreementThreshold = 0.70
	}
	return &Reconciler{numeric: numeric, text: text, raster: raster, cfg: cfg, logger: logger}
}

// Reconcile produces a single-run result. When both extractors fail the returned
// error wraps ErrExtractionFailed and the result carries no fields.
func (r *Reconciler) Reconcile(ctx context.Context, doc entity.Document) (entity.ExtractionResult, error) {
	start := time.Now()
	res := entity.ExtractionResult{
		Source:         entity.Source{NumericExtractorID: constants.ExtractorNone, TextExtractorID: constants.ExtractorNone},
		Confidence:     constants.ConfidenceBaja,
		AgreementRatio: 1,
		Attempts:       1,
	}

	var num entity.ExtractedFields
	var numErr error
	if r.numeric == nil {
		numErr = errors.New("numeric extractor not configured")
	} else {
		num, numErr = retry(ctx, r, "numeric", func(ctx context.Context) (entity.ExtractedFields, error) {
			return r.extractNumeric(ctx, doc, &res)
		})
	}
	if numErr == nil {
		res.Source.NumericExtractorID = r.numeric.ID()
	}

	var txt entity.ExtractedFields
	var txtErr error
	if r.text == nil {
		txtErr = errors.New("text extractor not configured")
	} else {
		txt, txtErr = retry(ctx, r, "text", func(ctx context.Context) (entity.ExtractedFields, error) {
			return r.text.Extract(ctx, doc)
		})
	}
	if txtErr == nil {
		res.Source.TextExtractorID = r.text.ID()
	} else {
		res.Warnings = append(res.Warnings, "text extractor unavailable: "+txtErr.Error())
		r.logger.Warn("reconcile.text.fallback", "path", doc.Path, "error", txtErr)
	}

	if numErr != nil && txtErr != nil {
		r.logger.Error("reconcile.failed", "path", doc.Path, "numeric_error", numErr, "text_error", txtErr)
		return res, fmt.Errorf("%w: numeric: %v; text: %v", ErrExtractionFailed, numErr, txtErr)
	}
	if numErr != nil {
		res.Warnings = append(res.Warnings, "numeric extractor unavailable: "+numErr.Error())
	}

	merged, diffs := Merge(num, txt, r.cfg.AmountTolerance)
	res.Fields = merged
	res.Discrepancies = diffs
	res.Confidence = Label(Signals{
		Numeric:   NumericStatus(num, numErr),
		Text:      TextStatus(txt, txtErr),
		Plausible: Plausible(merged),
		Agreement: 1,
	}, r.cfg.AgreementThreshold)

	r.logger.Info("reconcile.ok",
		"path", doc.Path,
		"numeric", res.Source.NumericExtractorID,
		"text", res.Source.TextExtractorID,
		"confidence", res.Confidence,
		"discrepancies", len(diffs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Sample runs n independent reconciliations and applies the consistency oracle.
func (r *Reconciler) Sample(ctx context.Context, doc entity.Document, n int) (entity.ExtractionResult, Consensus, error) {
	if n <= 1 {
		res, err := r.Reconcile(ctx, doc)
		return res, Consensus{}, err
	}
	// a failed attempt stays in the vote as a result with every field absent
	runs := make([]entity.ExtractionResult, 0, n)
	var lastErr error
	failed := 0
	first := -1
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return entity.ExtractionResult{}, Consensus{}, err
		}
		res, err := r.Reconcile(ctx, doc)
		if err != nil {
			lastErr = err
			failed++
			runs = append(runs, entity.ExtractionResult{Confidence: constants.ConfidenceBaja})
			continue
		}
		if first < 0 && !res.Fields.IsEmpty() {
			first = i
		}
		runs = append(runs, res)
	}
	if failed == n {
		return entity.ExtractionResult{}, Consensus{}, lastErr
	}
	if first < 0 {
		for i, run := range runs {
			if run.Source.NumericExtractorID != "" {
				first = i
				break
			}
		}
	}

	oracle := Oracle{Threshold: r.cfg.AgreementThreshold}
	cons := oracle.Evaluate(runs)
	out := runs[first]
	out.Fields = cons.Fields
	out.Confidence = cons.Label
	out.AgreementRatio = cons.Ratio
	out.Attempts = n
	if failed > 0 {
		out.Warnings = append(out.Warnings, fmt.Sprintf("%d of %d attempts failed", failed, n))
	}
	r.logger.Info("reconcile.sample.ok",
		"path", doc.Path,
		"attempts", n,
		"failed", failed,
		"agreement", cons.Ratio,
		"confidence", cons.Label,
	)
	return out, cons, nil
}

func (r *Reconciler) extractNumeric(ctx context.Context, doc entity.Document, res *entity.ExtractionResult) (entity.ExtractedFields, error) {
	pages := []entity.PageImage{{Path: doc.Path, Page: 1}}
	if r.raster != nil {
		rendered, cleanup, err := r.raster.Rasterize(ctx, doc, r.cfg.DPI)
		if cleanup != nil {
			defer cleanup()
		}
		if err != nil {
			return entity.ExtractedFields{}, fmt.Errorf("rasterize: %w", err)
		}
		pages = rendered
	}

	// totals usually sit on the last page, so later pages override earlier ones
	var out entity.ExtractedFields
	var failures int
	var lastErr error
	for _, p := range pages {
		f, err := r.numeric.Extract(ctx, p, r.cfg.DPI)
		if err != nil {
			failures++
			lastErr = err
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d: %v", p.Page, err))
			continue
		}
		overlay(&out, f)
	}
	if failures == len(pages) {
		return entity.ExtractedFields{}, lastErr
	}
	return out, nil
}

func overlay(dst *entity.ExtractedFields, src entity.ExtractedFields) {
	if src.Total != nil {
		dst.Total = src.Total
	}
	if src.Base != nil {
		dst.Base = src.Base
	}
	if src.TaxTotal != nil {
		dst.TaxTotal = src.TaxTotal
	}
	if src.VATRate != nil {
		dst.VATRate = src.VATRate
	}
	if src.Currency != nil {
		dst.Currency = src.Currency
	}
	if src.Number != nil {
		dst.Number = src.Number
	}
	if src.Provider != nil {
		dst.Provider = src.Provider
	}
	if src.IssueDate != nil {
		dst.IssueDate = src.IssueDate
	}
}

// retry runs fn under the per-call timeout, retrying up to MaxRetries times.
func retry(ctx context.Context, r *Reconciler, stage string, fn func(context.Context) (entity.ExtractedFields, error)) (entity.ExtractedFields, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			r.logger.Warn("reconcile."+stage+".retry", "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return entity.ExtractedFields{}, ctx.Err()
			case <-time.After(r.cfg.RetryBackoff):
			}
		}
		cctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		f, err := fn(cctx)
		cancel()
		if err == nil {
			return f, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return entity.ExtractedFields{}, ctx.Err()
		}
	}
	return entity.ExtractedFields{}, lastErr
}
