package server

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
	"github.com/joseph-ayodele/invoices-pipeline/internal/ingest"
	"github.com/joseph-ayodele/invoices-pipeline/internal/pipeline"
	"github.com/joseph-ayodele/invoices-pipeline/internal/quarantine"
)

var monthRe = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

type pendingView struct {
	Total  int                           `json:"total"`
	Months []string                      `json:"months"`
	Groups map[string][]quarantine.Entry `json:"groups"`
}

// pendingByMonth groups entries by month, optionally keeping only one month.
func pendingByMonth(entries []quarantine.Entry, month string) (pendingView, error) {
	if month != "" && !monthRe.MatchString(month) {
		return pendingView{}, fmt.Errorf("%w: month must be YYYY-MM", common.ErrInvalidInput)
	}
	groups, months := quarantine.GroupByMonth(entries)
	view := pendingView{Months: []string{}, Groups: map[string][]quarantine.Entry{}}
	for _, m := range months {
		if month != "" && m != month {
			continue
		}
		view.Months = append(view.Months, m)
		view.Groups[m] = groups[m]
		view.Total += len(groups[m])
	}
	return view, nil
}

type outcomeView struct {
	Path          string   `json:"path"`
	ContentHash   string   `json:"content_hash"`
	Decision      string   `json:"decision"`
	Reason        string   `json:"reason"`
	MatchedIDs    []string `json:"matched_ids,omitempty"`
	InvoiceID     string   `json:"invoice_id,omitempty"`
	QuarantineKey string   `json:"quarantine_key,omitempty"`
	Estado        string   `json:"estado"`
	Confidence    string   `json:"confidence"`
	Hash          string   `json:"hash_contenido,omitempty"`
	Candidate     any      `json:"candidate"`
}

func newOutcomeView(out pipeline.Outcome) outcomeView {
	return outcomeView{
		Path:          out.Document.Path,
		ContentHash:   out.Document.ContentHash,
		Decision:      string(out.Result.Decision),
		Reason:        out.Result.Reason,
		MatchedIDs:    out.Result.MatchedIDs,
		InvoiceID:     out.InvoiceID,
		QuarantineKey: out.QuarantineKey,
		Estado:        string(out.Candidate.Estado),
		Confidence:    string(out.Candidate.Confidence),
		Hash:          out.Candidate.HashContenido,
		Candidate:     out.Candidate,
	}
}

type fileView struct {
	Path        string `json:"path"`
	ContentHash string `json:"content_hash,omitempty"`
	Queued      bool   `json:"queued"`
	Error       string `json:"error,omitempty"`
}

type directoryView struct {
	Scanned   uint32     `json:"scanned"`
	Matched   uint32     `json:"matched"`
	Succeeded uint32     `json:"succeeded"`
	Failed    uint32     `json:"failed"`
	Queued    int        `json:"queued"`
	Halted    bool       `json:"halted"`
	Results   []fileView `json:"results"`
}

func newDirectoryView(stats ingest.DirStats) directoryView {
	return directoryView{
		Scanned:   stats.Scanned,
		Matched:   stats.Matched,
		Succeeded: stats.Succeeded,
		Failed:    stats.Failed,
		Results:   []fileView{},
	}
}

// toStruct converts any JSON-serializable value into a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func stringField(in *structpb.Struct, name string) string {
	if v, ok := in.GetFields()[name]; ok {
		return strings.TrimSpace(v.GetStringValue())
	}
	return ""
}

func boolField(in *structpb.Struct, name string, def bool) bool {
	v, ok := in.GetFields()[name]
	if !ok {
		return def
	}
	if _, isBool := v.GetKind().(*structpb.Value_BoolValue); !isBool {
		return def
	}
	return v.GetBoolValue()
}
