package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
)

type Config struct {
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "spa+eng"
	MaxPages      int    // 0 = no limit

	TessdataDir string

	PSM int // e.g., 6 is good for uniform block of text
	OEM int // 1 = LSTM; leave 0 to use default

	// EnableTSVConfidence runs a second tesseract pass to compute word confidence.
	EnableTSVConfidence bool
}

// PageText is the recognized text of one page image.
type PageText struct {
	Text       string
	Confidence float32
	Warnings   []string
}

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "spa+eng"
	}
	return &Extractor{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
}

// WithRunner swaps the command runner, used by tests.
func (e *Extractor) WithRunner(r Runner) *Extractor {
	e.runner = r
	return e
}

// RenderPages returns one PNG path per page. Images pass through untouched.
// cleanup is always safe to call.
func (e *Extractor) RenderPages(ctx context.Context, path string, dpi int) ([]string, func(), error) {
	noop := func() {}
	switch constants.MapExtToFormat(filepath.Ext(path)) {
	case constants.IMAGE:
		return []string{path}, noop, nil
	case constants.PDF:
	default:
		e.logger.Error("ocr.render.unsupported", "path", path)
		return nil, noop, fmt.Errorf("unsupported extension: %q", filepath.Ext(path))
	}
	if dpi <= 0 {
		dpi = 300
	}

	tmpDir, err := os.MkdirTemp("", "inv-pp-*")
	if err != nil {
		return nil, noop, err
	}
	cleanup := func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.logger.Warn("ocr.render.cleanup_failed", "dir", tmpDir, "error", err)
		}
	}

	prefix := filepath.Join(tmpDir, "page")
	args := []string{"-r", strconv.Itoa(dpi), "-png"}
	if e.cfg.MaxPages > 0 {
		args = append(args, "-l", strconv.Itoa(e.cfg.MaxPages))
	}
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	args = append(args, path, prefix)
	if _, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, args...); err != nil {
		return nil, cleanup, fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 512))
	}

	// collect generated pngs (prefix-1.png, prefix-2.png, ...)
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if e.cfg.MaxPages > 0 && len(matches) > e.cfg.MaxPages {
		matches = matches[:e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return nil, cleanup, fmt.Errorf("no pages rendered")
	}
	e.logger.Debug("ocr.render.ok", "path", path, "pages", len(matches), "dpi", dpi)
	return matches, cleanup, nil
}
