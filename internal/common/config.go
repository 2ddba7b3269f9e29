package common

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	OCR        OCRConfig
	LLM        LLMConfig
	Pipeline   PipelineConfig
	Similarity SimilarityConfig
	Quarantine QuarantineConfig
	Ingest     IngestConfig
	Log        LogConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "postgres" | "sqlite"
	DSN              string
	SQLitePath       string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
	HTTPAddr string
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Tesseract   string
	Pdftoppm    string
	Lang        string
	TessdataDir string
	PSM         int
	OEM         int
	MaxPages    int
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float32
	Timeout     time.Duration
	// DefaultCurrency is assumed when the invoice shows no currency.
	DefaultCurrency string
	// LenientOptional drops malformed optional fields instead of rejecting the response.
	LenientOptional bool
	VisionDPI       int
}

// PipelineConfig bounds retries, concurrency and per-call deadlines.
type PipelineConfig struct {
	MaxRetries           int
	BatchSize            int
	TimeoutPerExtraction time.Duration
	Samples              int
	AgreementThreshold   float64
	DPI                  int
	HaltAfterCritical    int
}

// SimilarityConfig holds the fuzzy duplicate thresholds.
type SimilarityConfig struct {
	AmountTolerance       string
	ProviderMinSimilarity float64
	DateWindowDays        int
}

// QuarantineConfig selects and configures the review store backend.
type QuarantineConfig struct {
	Backend     string // "fs" | "s3"
	Dir         string
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3Prefix    string
}

// IngestConfig controls directory discovery and uploads.
type IngestConfig struct {
	WatchDirs   []string
	Debounce    time.Duration
	SkipHidden  bool
	MaxUploadMB int
	UploadDir   string
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string
	Format string // "text" | "json"
}

// EnvPrefix is prepended to every environment override, e.g. INVOICES_DATABASE_DSN.
const EnvPrefix = "INVOICES"

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.sqlite_path", "./data/invoices.db")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("database.max_conn_idle_time", 5*time.Minute)
	v.SetDefault("database.dial_timeout", 3*time.Second)
	v.SetDefault("database.statement_timeout", time.Duration(0))

	v.SetDefault("server.grpc_addr", ":8080")
	v.SetDefault("server.http_addr", ":8081")

	v.SetDefault("ocr.tesseract", "tesseract")
	v.SetDefault("ocr.pdftoppm", "pdftoppm")
	v.SetDefault("ocr.lang", "spa+eng")
	v.SetDefault("ocr.tessdata_dir", "")
	v.SetDefault("ocr.psm", 6)
	v.SetDefault("ocr.oem", 1)
	v.SetDefault("ocr.max_pages", 5)

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.timeout", 45*time.Second)
	v.SetDefault("llm.default_currency", "EUR")
	v.SetDefault("llm.lenient_optional", true)
	v.SetDefault("llm.vision_dpi", 150)

	v.SetDefault("pipeline.max_retries", 1)
	v.SetDefault("pipeline.batch_size", 4)
	v.SetDefault("pipeline.timeout_per_extraction", 60*time.Second)
	v.SetDefault("pipeline.samples", 1)
	v.SetDefault("pipeline.agreement_threshold", 0.70)
	v.SetDefault("pipeline.dpi", 300)
	v.SetDefault("pipeline.halt_after_critical", 3)

	v.SetDefault("similarity.amount_tolerance", "0.01")
	v.SetDefault("similarity.provider_min_similarity", 0.85)
	v.SetDefault("similarity.date_window_days", 7)

	v.SetDefault("quarantine.backend", "fs")
	v.SetDefault("quarantine.dir", "./data/quarantine")
	v.SetDefault("quarantine.s3_endpoint", "")
	v.SetDefault("quarantine.s3_bucket", "invoices-quarantine")
	v.SetDefault("quarantine.s3_access_key", "")
	v.SetDefault("quarantine.s3_secret_key", "")
	v.SetDefault("quarantine.s3_use_ssl", false)
	v.SetDefault("quarantine.s3_prefix", "quarantine/")

	v.SetDefault("ingest.watch_dirs", []string{})
	v.SetDefault("ingest.debounce", 2*time.Second)
	v.SetDefault("ingest.skip_hidden", true)
	v.SetDefault("ingest.max_upload_mb", 20)
	v.SetDefault("ingest.upload_dir", "./data/uploads")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig reads defaults, an optional config file at path (yaml/toml/json by
// extension) and INVOICES_* environment overrides, in increasing priority.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, NewAppError("CONFIG_ERROR", fmt.Sprintf("read config %s", path), err)
		}
	}

	return &Config{
		Database: DatabaseConfig{
			Driver:           strings.ToLower(v.GetString("database.driver")),
			DSN:              v.GetString("database.dsn"),
			SQLitePath:       v.GetString("database.sqlite_path"),
			MaxConns:         v.GetInt32("database.max_conns"),
			MinConns:         v.GetInt32("database.min_conns"),
			MaxConnLifetime:  v.GetDuration("database.max_conn_lifetime"),
			MaxConnIdleTime:  v.GetDuration("database.max_conn_idle_time"),
			DialTimeout:      v.GetDuration("database.dial_timeout"),
			StatementTimeout: v.GetDuration("database.statement_timeout"),
		},
		Server: ServerConfig{
			GRPCAddr: v.GetString("server.grpc_addr"),
			HTTPAddr: v.GetString("server.http_addr"),
		},
		OCR: OCRConfig{
			Tesseract:   v.GetString("ocr.tesseract"),
			Pdftoppm:    v.GetString("ocr.pdftoppm"),
			Lang:        v.GetString("ocr.lang"),
			TessdataDir: v.GetString("ocr.tessdata_dir"),
			PSM:         v.GetInt("ocr.psm"),
			OEM:         v.GetInt("ocr.oem"),
			MaxPages:    v.GetInt("ocr.max_pages"),
		},
		LLM: LLMConfig{
			BaseURL:     v.GetString("llm.base_url"),
			Model:       v.GetString("llm.model"),
			APIKey:      v.GetString("llm.api_key"),
			Temperature: float32(v.GetFloat64("llm.temperature")),
			Timeout:     v.GetDuration("llm.timeout"),

			DefaultCurrency: strings.ToUpper(v.GetString("llm.default_currency")),
			LenientOptional: v.GetBool("llm.lenient_optional"),
			VisionDPI:       v.GetInt("llm.vision_dpi"),
		},
		Pipeline: PipelineConfig{
			MaxRetries:           v.GetInt("pipeline.max_retries"),
			BatchSize:            v.GetInt("pipeline.batch_size"),
			TimeoutPerExtraction: v.GetDuration("pipeline.timeout_per_extraction"),
			Samples:              v.GetInt("pipeline.samples"),
			AgreementThreshold:   v.GetFloat64("pipeline.agreement_threshold"),
			DPI:                  v.GetInt("pipeline.dpi"),
			HaltAfterCritical:    v.GetInt("pipeline.halt_after_critical"),
		},
		Similarity: SimilarityConfig{
			AmountTolerance:       v.GetString("similarity.amount_tolerance"),
			ProviderMinSimilarity: v.GetFloat64("similarity.provider_min_similarity"),
			DateWindowDays:        v.GetInt("similarity.date_window_days"),
		},
		Quarantine: QuarantineConfig{
			Backend:     strings.ToLower(v.GetString("quarantine.backend")),
			Dir:         v.GetString("quarantine.dir"),
			S3Endpoint:  v.GetString("quarantine.s3_endpoint"),
			S3Bucket:    v.GetString("quarantine.s3_bucket"),
			S3AccessKey: v.GetString("quarantine.s3_access_key"),
			S3SecretKey: v.GetString("quarantine.s3_secret_key"),
			S3UseSSL:    v.GetBool("quarantine.s3_use_ssl"),
			S3Prefix:    v.GetString("quarantine.s3_prefix"),
		},
		Ingest: IngestConfig{
			WatchDirs:   v.GetStringSlice("ingest.watch_dirs"),
			Debounce:    v.GetDuration("ingest.debounce"),
			SkipHidden:  v.GetBool("ingest.skip_hidden"),
			MaxUploadMB: v.GetInt("ingest.max_upload_mb"),
			UploadDir:   v.GetString("ingest.upload_dir"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}, nil
}

// Validate checks the settings every binary needs. LLM credentials are optional:
// without them the text extractor is disabled and every result falls back.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			errs = append(errs, errors.New("database.sqlite_path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be postgres or sqlite", c.Database.Driver))
	}
	switch c.Quarantine.Backend {
	case "fs":
		if c.Quarantine.Dir == "" {
			errs = append(errs, errors.New("quarantine.dir is required for the fs backend"))
		}
	case "s3":
		if c.Quarantine.S3Endpoint == "" || c.Quarantine.S3Bucket == "" {
			errs = append(errs, errors.New("quarantine.s3_endpoint and quarantine.s3_bucket are required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("quarantine.backend %q must be fs or s3", c.Quarantine.Backend))
	}
	if c.Pipeline.BatchSize <= 0 {
		errs = append(errs, errors.New("pipeline.batch_size must be positive"))
	}
	if c.Pipeline.MaxRetries < 0 {
		errs = append(errs, errors.New("pipeline.max_retries must not be negative"))
	}
	if c.Pipeline.AgreementThreshold < 0 || c.Pipeline.AgreementThreshold > 1 {
		errs = append(errs, errors.New("pipeline.agreement_threshold must be within [0,1]"))
	}
	if len(errs) > 0 {
		return NewAppError("CONFIG_ERROR", "invalid configuration", errors.Join(append([]error{ErrInvalidInput}, errs...)...))
	}
	return nil
}
