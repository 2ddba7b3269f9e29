package dedup

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoices-pipeline/internal/hasher"
)

// ReasonNewInvoice is the reason attached to every INSERT.
const ReasonNewInvoice = "new invoice"

var (
	// MaterialAbsolute and MaterialRelative bound what counts as a corrected amount.
	// A difference is material only when it exceeds both.
	MaterialAbsolute = decimal.NewFromInt(1)
	MaterialRelative = decimal.RequireFromString("0.01")
)

// Result is the disposition of one candidate.
type Result struct {
	Decision   constants.Decision `json:"decision"`
	Reason     string             `json:"reason"`
	MatchedIDs []string           `json:"matched_ids,omitempty"`
}

// DecideAction is a pure function of its inputs. Any of the three matches may be nil.
func DecideAction(c entity.CandidateInvoice, hashMatch, numberMatch, similarMatch *entity.InvoiceSummary) Result {
	if c.Estado == constants.EstadoErrorPermanente {
		msg := "extraction failed permanently"
		if c.ErrorMsg != nil && *c.ErrorMsg != "" {
			msg += ": " + *c.ErrorMsg
		}
		return Result{Decision: constants.DecisionQuarantine, Reason: msg}
	}
	if ok, why := hasher.ValidateHashCompleteness(c.ExtractedFields); !ok {
		return Result{Decision: constants.DecisionQuarantine, Reason: "insufficient data to decide: " + why}
	}

	if hashMatch != nil {
		return Result{
			Decision:   constants.DecisionSkip,
			Reason:     fmt.Sprintf("identical content already stored as %s (hash %s)", hashMatch.ID, short(hashMatch.Hash)),
			MatchedIDs: []string{hashMatch.ID},
		}
	}

	if numberMatch != nil {
		if materialAmountChange(*c.Total, numberMatch.Amount) {
			return Result{
				Decision: constants.DecisionQuarantine,
				Reason: fmt.Sprintf("invoice %s from %s already stored as %s with amount %s, candidate has %s",
					numberMatch.Number, numberMatch.Provider, numberMatch.ID,
					hasher.NormalizeAmount(numberMatch.Amount), hasher.NormalizeAmount(*c.Total)),
				MatchedIDs: []string{numberMatch.ID},
			}
		}
		changed := changedFields(c, *numberMatch)
		if len(changed) == 0 {
			return Result{
				Decision:   constants.DecisionSkip,
				Reason:     fmt.Sprintf("invoice already stored as %s with no field changes", numberMatch.ID),
				MatchedIDs: []string{numberMatch.ID},
			}
		}
		return Result{
			Decision:   constants.DecisionUpdate,
			Reason:     fmt.Sprintf("same invoice as %s, re-extracted values changed: %s", numberMatch.ID, strings.Join(changed, ", ")),
			MatchedIDs: []string{numberMatch.ID},
		}
	}

	if similarMatch != nil {
		return Result{
			Decision: constants.DecisionQuarantine,
			Reason: fmt.Sprintf("possible duplicate of %s (%s, number %s, amount %s, date %s) under a different invoice number",
				similarMatch.ID, similarMatch.Provider, similarMatch.Number,
				hasher.NormalizeAmount(similarMatch.Amount), similarMatch.Date.String()),
			MatchedIDs: []string{similarMatch.ID},
		}
	}

	return Result{Decision: constants.DecisionInsert, Reason: ReasonNewInvoice}
}

func materialAmountChange(a, b decimal.Decimal) bool {
	diff := a.Sub(b).Abs()
	if !diff.GreaterThan(MaterialAbsolute) {
		return false
	}
	larger := decimal.Max(a.Abs(), b.Abs())
	return diff.GreaterThan(larger.Mul(MaterialRelative))
}

func changedFields(c entity.CandidateInvoice, s entity.InvoiceSummary) []string {
	var out []string
	if hasher.NormalizeAmount(*c.Total) != hasher.NormalizeAmount(s.Amount) {
		out = append(out, fmt.Sprintf("importe_total %s -> %s", hasher.NormalizeAmount(s.Amount), hasher.NormalizeAmount(*c.Total)))
	}
	if c.IssueDate.String() != s.Date.String() {
		out = append(out, fmt.Sprintf("fecha_emision %s -> %s", s.Date.String(), c.IssueDate.String()))
	}
	if *c.Provider != s.Provider && hasher.NormalizeText(*c.Provider) != hasher.NormalizeText(s.Provider) {
		out = append(out, fmt.Sprintf("proveedor_text %q -> %q", s.Provider, *c.Provider))
	}
	if *c.Number != s.Number && hasher.NormalizeNumber(*c.Number) != hasher.NormalizeNumber(s.Number) {
		out = append(out, fmt.Sprintf("numero_factura %q -> %q", s.Number, *c.Number))
	}
	return out
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
