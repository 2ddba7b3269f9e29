package extract

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
)

func strp(s string) *string { return &s }

func decp(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func datep(y int, m time.Month, d int) *entity.Date {
	return entity.DatePtr(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

// fakeNumeric returns queued results in order, repeating the last one.
type fakeNumeric struct {
	mu      sync.Mutex
	results []entity.ExtractedFields
	errs    []error
	calls   int
}

func (f *fakeNumeric) ID() string { return "fake-ocr" }

func (f *fakeNumeric) Extract(ctx context.Context, _ entity.PageImage, _ int) (entity.ExtractedFields, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	} else if len(f.errs) > 0 && len(f.results) == 0 {
		err = f.errs[len(f.errs)-1]
	}
	if err != nil {
		return entity.ExtractedFields{}, err
	}
	if len(f.results) == 0 {
		return entity.ExtractedFields{}, nil
	}
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i], nil
}

// fakeText returns fields or err; errs overrides err per call and block makes it
// wait for the context.
type fakeText struct {
	mu     sync.Mutex
	fields entity.ExtractedFields
	err    error
	errs   []error
	block  bool
	calls  int
}

func (f *fakeText) ID() string { return "fake-llm" }

func (f *fakeText) Extract(ctx context.Context, _ entity.Document) (entity.ExtractedFields, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	err := f.err
	if i < len(f.errs) {
		err = f.errs[i]
	}
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return entity.ExtractedFields{}, ctx.Err()
	}
	if err != nil {
		return entity.ExtractedFields{}, err
	}
	return f.fields, nil
}

func numericFields() entity.ExtractedFields {
	return entity.ExtractedFields{
		Total:    decp("121.00"),
		Base:     decp("100.00"),
		TaxTotal: decp("21.00"),
		VATRate:  decp("21"),
	}
}

func textFields() entity.ExtractedFields {
	return entity.ExtractedFields{
		Provider:  strp("Acme Suministros SL"),
		Number:    strp("F-2024/001"),
		IssueDate: datep(2024, time.March, 5),
		Currency:  strp("EUR"),
	}
}

func testConfig() Config {
	return Config{Timeout: 50 * time.Millisecond, MaxRetries: 1, RetryBackoff: time.Millisecond}
}

// callErrs builds a per-call error script: ok successful calls, then failed failing ones.
func callErrs(ok, failed int, err error) []error {
	out := make([]error, 0, ok+failed)
	for i := 0; i < ok; i++ {
		out = append(out, nil)
	}
	for i := 0; i < failed; i++ {
		out = append(out, err)
	}
	return out
}
