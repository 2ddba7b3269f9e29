package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoices-pipeline/internal/ocr"
)

// FSIngestor reads invoices from the local filesystem.
type FSIngestor struct {
	MaxPages int
	logger   *slog.Logger
}

func NewFSIngestor(maxPages int, logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSIngestor{MaxPages: maxPages, logger: logger}
}

func (i *FSIngestor) Load(ctx context.Context, path string) (entity.Document, error) {
	if err := ctx.Err(); err != nil {
		return entity.Document{}, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return entity.Document{}, fmt.Errorf("abs path: %w", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return entity.Document{}, fmt.Errorf("read %s: %w", abs, err)
	}
	return i.FromBytes(abs, data)
}

// FromBytes builds a Document for content already in memory; name only supplies the extension and source path.
func (i *FSIngestor) FromBytes(name string, data []byte) (entity.Document, error) {
	ext := constants.NormalizeExt(filepath.Ext(name))
	format := constants.MapExtToFormat(ext)
	if format == "" {
		return entity.Document{}, fmt.Errorf("%w: unsupported or missing extension %q", common.ErrInvalidInput, ext)
	}
	if len(data) == 0 {
		return entity.Document{}, fmt.Errorf("%w: empty file %s", common.ErrInvalidInput, name)
	}

	sum := sha256.Sum256(data)
	doc := entity.Document{
		Path:        name,
		Format:      format,
		ContentHash: hex.EncodeToString(sum[:]),
		Size:        int64(len(data)),
	}

	if format == constants.PDF {
		text, err := ocr.TextLayer(data, i.MaxPages)
		switch {
		case err == nil:
			doc.TextLayer = text
		case errors.Is(err, ocr.ErrNoTextLayer):
			i.logger.Debug("ingest.text_layer.none", "path", name)
		default:
			i.logger.Warn("ingest.text_layer.failed", "path", name, "error", err)
		}
	}

	i.logger.Debug("ingest.loaded", "path", name, "format", format, "size", doc.Size, "content_hash", doc.ContentHash)
	return doc, nil
}
