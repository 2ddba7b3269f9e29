package pipeline

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoices-pipeline/internal/dedup"
	"github.com/joseph-ayodele/invoices-pipeline/internal/extract"
)

// Config is everything the processor needs; nothing is read from the environment.
type Config struct {
	MaxRetries           int           // extraction retries and conflict re-decisions
	BatchSize            int           // worker count for the async queue
	TimeoutPerExtraction time.Duration // per extractor call
	Samples              int           // attempts fed to the consistency oracle; 1 disables sampling
	AgreementThreshold   float64
	DPI                  int
	AmountTolerance      decimal.Decimal // numeric vs text disagreement threshold
	Similarity           dedup.SimilarityPolicy
}

// Defaults returns the documented pipeline defaults.
func Defaults() Config {
	return Config{
		MaxRetries:           1,
		BatchSize:            4,
		TimeoutPerExtraction: 60 * time.Second,
		Samples:              1,
		AgreementThreshold:   0.70,
		DPI:                  300,
		AmountTolerance:      decimal.RequireFromString("0.01"),
		Similarity:           dedup.DefaultSimilarityPolicy(),
	}
}

func (c Config) withDefaults() Config {
	d := Defaults()
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.TimeoutPerExtraction <= 0 {
		c.TimeoutPerExtraction = d.TimeoutPerExtraction
	}
	if c.Samples <= 0 {
		c.Samples = d.Samples
	}
	if c.AgreementThreshold <= 0 {
		c.AgreementThreshold = d.AgreementThreshold
	}
	if c.DPI <= 0 {
		c.DPI = d.DPI
	}
	if c.AmountTolerance.IsZero() {
		c.AmountTolerance = d.AmountTolerance
	}
	return c
}

// ExtractConfig derives the reconciler settings.
func (c Config) ExtractConfig() extract.Config {
	c = c.withDefaults()
	return extract.Config{
		Timeout:            c.TimeoutPerExtraction,
		MaxRetries:         c.MaxRetries,
		DPI:                c.DPI,
		AmountTolerance:    c.AmountTolerance,
		AgreementThreshold: c.AgreementThreshold,
	}
}
