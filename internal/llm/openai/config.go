package openai

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joseph-ayodele/invoices-pipeline/internal/extract"
)

// Config for the OpenAI-compatible client.
type Config struct {
	APIKey          string        // if empty, falls back to env OPENAI_API_KEY
	BaseURL         string        // default https://api.openai.com/v1
	Model           string        // e.g., "gpt-4o-mini"
	Temperature     float32       // 0..2
	Timeout         time.Duration // http client timeout
	DefaultCurrency string
	VisionDPI       int // resolution used when a scanned page is attached
	LenientOptional bool
}

// Client implements extract.TextExtractor over chat/completions.
type Client struct {
	cfg    Config
	http   *http.Client
	raster extract.Rasterizer
	logger *slog.Logger
}

// NewClient builds a client. raster may be nil, in which case scanned PDFs
// without a text layer are sent with the filename hint only.
func NewClient(cfg Config, raster extract.Rasterizer, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.VisionDPI <= 0 {
		cfg.VisionDPI = 150
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		raster: raster,
		logger: logger,
	}
}

func (c *Client) ID() string { return "openai:" + c.cfg.Model }
