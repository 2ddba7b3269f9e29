package extract

import (
	"math"
	"sort"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoices-pipeline/internal/hasher"
)

// FieldAgreement is the majority value of one field across attempts.
type FieldAgreement struct {
	Field   string  `json:"field"`
	Value   string  `json:"value"` // canonical form, "" when the majority reported nothing
	Count   int     `json:"count"`
	Ratio   float64 `json:"ratio"`
	Present bool    `json:"present"`
}

// Consensus is the oracle's view over N attempts.
type Consensus struct {
	Fields   entity.ExtractedFields `json:"fields"`
	PerField []FieldAgreement       `json:"per_field"`
	Ratio    float64                `json:"ratio"` // minimum per-field ratio
	Label    constants.Confidence   `json:"label"`
	Attempts int                    `json:"attempts"`
}

// Oracle selects majority values across repeated extraction attempts.
type Oracle struct {
	Threshold float64
}

const absentKey = "\x00absent"

// field binds a canonical key and a copier to one member of ExtractedFields.
type field struct {
	name string
	key  func(entity.ExtractedFields) (string, bool)
	copy func(dst *entity.ExtractedFields, src entity.ExtractedFields)
}

var oracleFields = []field{
	{"importe_total",
		func(f entity.ExtractedFields) (string, bool) {
			if f.Total == nil {
				return "", false
			}
			return hasher.NormalizeAmount(*f.Total), true
		},
		func(d *entity.ExtractedFields, s entity.ExtractedFields) { d.Total = s.Total }},
	{"base_imponible",
		func(f entity.ExtractedFields) (string, bool) {
			if f.Base == nil {
				return "", false
			}
			return hasher.NormalizeAmount(*f.Base), true
		},
		func(d *entity.ExtractedFields, s entity.ExtractedFields) { d.Base = s.Base }},
	{"impuestos_total",
		func(f entity.ExtractedFields) (string, bool) {
			if f.TaxTotal == nil {
				return "", false
			}
			return hasher.NormalizeAmount(*f.TaxTotal), true
		},
		func(d *entity.ExtractedFields, s entity.ExtractedFields) { d.TaxTotal = s.TaxTotal }},
	{"iva_porcentaje",
		func(f entity.ExtractedFields) (string, bool) {
			if f.VATRate == nil {
				return "", false
			}
			return hasher.NormalizeAmount(*f.VATRate), true
		},
		func(d *entity.ExtractedFields, s entity.ExtractedFields) { d.VATRate = s.VATRate }},
	{"numero_factura",
		func(f entity.ExtractedFields) (string, bool) {
			if f.Number == nil {
				return "", false
			}
			return hasher.NormalizeNumber(*f.Number), true
		},
		func(d *entity.ExtractedFields, s entity.ExtractedFields) { d.Number = s.Number }},
	{"proveedor_text",
		func(f entity.ExtractedFields) (string, bool) {
			if f.Provider == nil {
				return "", false
			}
			return hasher.NormalizeText(*f.Provider), true
		},
		func(d *entity.ExtractedFields, s entity.ExtractedFields) { d.Provider = s.Provider }},
	{"fecha_emision",
		func(f entity.ExtractedFields) (string, bool) {
			if f.IssueDate == nil {
				return "", false
			}
			return f.IssueDate.String(), true
		},
		func(d *entity.ExtractedFields, s entity.ExtractedFields) { d.IssueDate = s.IssueDate }},
	{"moneda",
		func(f entity.ExtractedFields) (string, bool) {
			if f.Currency == nil {
				return "", false
			}
			return hasher.NormalizeText(*f.Currency), true
		},
		func(d *entity.ExtractedFields, s entity.ExtractedFields) { d.Currency = s.Currency }},
}

// Evaluate picks the most frequent value per field, ties going to the value seen
// in the earliest attempt. Absence counts as a value. Fields no attempt reported
// are ignored. The overall ratio is the lowest per-field ratio; below Threshold
// the label is forced to baja.
func (o Oracle) Evaluate(attempts []entity.ExtractionResult) Consensus {
	n := len(attempts)
	cons := Consensus{Attempts: n, Label: constants.ConfidenceBaja}
	if n == 0 {
		return cons
	}

	cons.Ratio = 1
	reported := false
	for _, fd := range oracleFields {
		type tally struct {
			count   int
			first   int
			present bool
		}
		tallies := map[string]*tally{}
		for i, a := range attempts {
			k, ok := fd.key(a.Fields)
			if !ok {
				k = absentKey
			}
			t, seen := tallies[k]
			if !seen {
				t = &tally{first: i, present: ok}
				tallies[k] = t
			}
			t.count++
		}
		if _, onlyAbsent := tallies[absentKey]; onlyAbsent && len(tallies) == 1 {
			continue
		}
		reported = true

		var best string
		var bt *tally
		for k, t := range tallies {
			if bt == nil || t.count > bt.count || (t.count == bt.count && t.first < bt.first) {
				best, bt = k, t
			}
		}
		if !bt.present {
			best = ""
		}
		ratio := float64(bt.count) / float64(n)
		cons.PerField = append(cons.PerField, FieldAgreement{
			Field:   fd.name,
			Value:   best,
			Count:   bt.count,
			Ratio:   ratio,
			Present: bt.present,
		})
		cons.Ratio = math.Min(cons.Ratio, ratio)
		if bt.present {
			fd.copy(&cons.Fields, attempts[bt.first].Fields)
		}
	}
	if !reported {
		cons.Ratio = 0
		return cons
	}

	cons.Label = modalLabel(attempts)
	if cons.Ratio < o.Threshold {
		cons.Label = constants.ConfidenceBaja
	}
	return cons
}

// modalLabel returns the most frequent label, ties going to the lower label.
func modalLabel(attempts []entity.ExtractionResult) constants.Confidence {
	counts := map[constants.Confidence]int{}
	for _, a := range attempts {
		counts[a.Confidence]++
	}
	labels := make([]constants.Confidence, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		if counts[labels[i]] != counts[labels[j]] {
			return counts[labels[i]] > counts[labels[j]]
		}
		return labels[i].Rank() < labels[j].Rank()
	})
	return labels[0]
}
