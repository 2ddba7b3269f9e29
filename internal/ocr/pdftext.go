package ocr

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoTextLayer is returned for scanned PDFs that carry no embedded text.
var ErrNoTextLayer = fmt.Errorf("pdf has no text layer")

// TextLayer returns the embedded text of a PDF, capped at maxPages (0 = all).
// Scanned invoices usually have none; callers treat ErrNoTextLayer as normal.
func TextLayer(data []byte, maxPages int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("parse pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	n := r.NumPage()
	if maxPages > 0 && n > maxPages {
		n = maxPages
	}
	for i := 1; i <= n; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pt, perr := page.GetPlainText(nil)
		if perr != nil {
			continue
		}
		b.WriteString(pt)
		b.WriteString("\n")
	}

	out := Normalize(b.String())
	if out == "" {
		return "", ErrNoTextLayer
	}
	return out, nil
}
