package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
	"github.com/joseph-ayodele/invoices-pipeline/internal/ingest"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Exporter renders review and invoice workbooks.
type Exporter interface {
	ExportQuarantineXLSX(ctx context.Context) ([]byte, error)
	ExportInvoicesXLSX(ctx context.Context, from, to *time.Time) ([]byte, error)
}

type HTTPConfig struct {
	MaxUploadMB int
	UploadDir   string
}

type API struct {
	ingestor  ingest.Ingestor
	processor DocumentProcessor
	review    *ReviewService
	exports   Exporter
	health    func(ctx context.Context) error
	cfg       HTTPConfig
	logger    *slog.Logger
}

func NewAPI(cfg HTTPConfig, ing ingest.Ingestor, proc DocumentProcessor, review *ReviewService, exports Exporter, health func(ctx context.Context) error, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = constants.MaxUploadMB
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join(os.TempDir(), "invoices-uploads")
	}
	return &API{ingestor: ing, processor: proc, review: review, exports: exports, health: health, cfg: cfg, logger: logger}
}

func (a *API) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(a.requestID, a.recovery, a.logRequests)

	r.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/invoices", a.uploadInvoice).Methods(http.MethodPost)
	api.HandleFunc("/invoices/export.xlsx", a.exportInvoices).Methods(http.MethodGet)
	api.HandleFunc("/quarantine", a.listQuarantine).Methods(http.MethodGet)
	api.HandleFunc("/quarantine/export.xlsx", a.exportQuarantine).Methods(http.MethodGet)
	api.HandleFunc("/quarantine/{key}/{action:promote|discard}", a.resolveQuarantine).Methods(http.MethodPost)
	return r
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		if err := a.health(r.Context()); err != nil {
			a.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	a.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) uploadInvoice(w http.ResponseWriter, r *http.Request) {
	limit := int64(a.cfg.MaxUploadMB) << 20
	if r.ContentLength > limit {
		a.respondError(w, r, fmt.Errorf("%w: file exceeds %dMB limit", common.ErrInvalidInput, a.cfg.MaxUploadMB))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.respondError(w, r, fmt.Errorf("%w: file exceeds %dMB limit", common.ErrInvalidInput, a.cfg.MaxUploadMB))
			return
		}
		a.respondError(w, r, fmt.Errorf("%w: invalid form data", common.ErrInvalidInput))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		a.respondError(w, r, fmt.Errorf("%w: no file provided", common.ErrInvalidInput))
		return
	}
	defer file.Close()

	ext := filepath.Ext(header.Filename)
	if !ingest.AllowedExt(ext) {
		a.respondError(w, r, fmt.Errorf("%w: only pdf, jpg, jpeg and png files are accepted", common.ErrInvalidInput))
		return
	}

	path, err := a.store(file, ext)
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	ctx := r.Context()
	doc, err := a.ingestor.Load(ctx, path)
	if err != nil {
		if rerr := os.Remove(path); rerr != nil {
			a.logger.Warn("http.upload.cleanup_failed", "path", path, "error", rerr)
		}
		a.respondError(w, r, fmt.Errorf("%w: %v", common.ErrInvalidInput, err))
		return
	}
	// content-addressed name so re-uploads land on the same file
	final := filepath.Join(a.cfg.UploadDir, doc.ContentHash+constants.NormalizeExtWithDot(ext))
	if err := os.Rename(path, final); err == nil {
		doc.Path = final
	} else {
		a.logger.Warn("http.upload.rename_failed", "from", path, "to", final, "error", err)
	}

	a.logger.Info("http.upload.ok", append(common.LogAttrs(ctx), "filename", header.Filename, "size", doc.Size, "content_hash", doc.ContentHash)...)
	out, err := a.processor.Process(common.WithSourcePath(ctx, doc.Path), doc)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respondJSON(w, http.StatusOK, newOutcomeView(out))
}

func (a *API) store(src io.Reader, ext string) (string, error) {
	if err := os.MkdirAll(a.cfg.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	tmp, err := os.CreateTemp(a.cfg.UploadDir, "upload-*"+constants.NormalizeExtWithDot(ext))
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: read upload: %v", common.ErrInvalidInput, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close upload file: %w", err)
	}
	return tmp.Name(), nil
}

func (a *API) listQuarantine(w http.ResponseWriter, r *http.Request) {
	view, err := a.review.listPending(r.Context(), r.URL.Query().Get("month"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respondJSON(w, http.StatusOK, view)
}

func (a *API) resolveQuarantine(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key, action := vars["key"], vars["action"]
	id, err := a.review.resolve(r.Context(), key, action)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respondJSON(w, http.StatusOK, map[string]string{"key": key, "action": action, "invoice_id": id})
}

func (a *API) exportQuarantine(w http.ResponseWriter, r *http.Request) {
	b, err := a.exports.ExportQuarantineXLSX(r.Context())
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respondXLSX(w, "quarantine.xlsx", b)
}

func (a *API) exportInvoices(w http.ResponseWriter, r *http.Request) {
	from, err := parseDateParam(r, "from")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	to, err := parseDateParam(r, "to")
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	b, err := a.exports.ExportInvoicesXLSX(r.Context(), from, to)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respondXLSX(w, "invoices.xlsx", b)
}

func parseDateParam(r *http.Request, name string) (*time.Time, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be YYYY-MM-DD", common.ErrInvalidInput, name)
	}
	return &t, nil
}

func (a *API) respondXLSX(w http.ResponseWriter, name string, b []byte) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (a *API) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("http.encode.failed", "error", err)
	}
}

func (a *API) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	attrs := append(common.LogAttrs(r.Context()), "path", r.URL.Path, "status", status, "error", err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("http.request.failed", attrs...)
	} else {
		a.logger.Warn("http.request.rejected", attrs...)
	}
	a.respondJSON(w, status, map[string]string{"error": err.Error()})
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrInvalidInput), common.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, common.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(common.WithRequestID(r.Context(), id)))
	})
}

func (a *API) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.logger.Error("http.panic", append(common.LogAttrs(r.Context()), "path", r.URL.Path, "panic", rec)...)
				a.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Info("http.request", append(common.LogAttrs(r.Context()),
			"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))...)
	})
}
