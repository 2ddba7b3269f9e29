package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
)

// Runner lets tests stub pdftoppm and tesseract.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	logger *slog.Logger
}

// Run executes name. A binary missing from PATH wraps common.ErrUnavailable.
func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	attrs := []any{
		"cmd", name,
		"args", strings.Join(args, " "),
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		r.logger.Warn("ocr.exec.failed", append(attrs, "error", err, "stderr", truncate(errb.String(), 8<<10))...)
		if errors.Is(err, exec.ErrNotFound) {
			err = fmt.Errorf("%w: %s: %v", common.ErrUnavailable, name, err)
		}
		return out.Bytes(), errb.Bytes(), err
	}
	r.logger.Debug("ocr.exec.ok", append(attrs, "stdout_bytes", out.Len(), "stderr_bytes", errb.Len())...)
	return out.Bytes(), errb.Bytes(), nil
}

// MissingTools lists the configured binaries that cannot be found on PATH.
func (e *Extractor) MissingTools() []string {
	var missing []string
	for _, bin := range []string{e.cfg.Pdftoppm, e.cfg.Tesseract} {
		if _, err := exec.LookPath(bin); err != nil {
			missing = append(missing, bin)
		}
	}
	return missing
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
