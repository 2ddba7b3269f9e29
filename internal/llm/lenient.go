package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	reDecimal = regexp.MustCompile(`^-?\d+(\.\d{1,2})?$`)
	reISOCode = regexp.MustCompile(`^[A-Z]{3}$`)
	optMoney  = []string{"importe_total", "base_imponible", "impuestos_total", "iva_porcentaje"} // optional only
)

// SanitizeOptionalFields removes or normalizes optional fields that don't meet the stricter schema,
// so the overall document can still validate. Required fields are never touched.
func SanitizeOptionalFields(doc []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, nil, err
	}

	var dropped []string

	if v, ok := m["moneda"].(string); ok {
		s := strings.ToUpper(strings.TrimSpace(v))
		if !reISOCode.MatchString(s) {
			delete(m, "moneda")
			dropped = append(dropped, "moneda")
		} else {
			m["moneda"] = s
		}
	}

	if v, ok := m["confidence"].(float64); ok && (v < 0 || v > 1) {
		delete(m, "confidence")
		dropped = append(dropped, "confidence")
	}

	for _, k := range optMoney {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			m[k] = fmt.Sprintf("%.2f", t)
		case string:
			s := strings.TrimSpace(t)
			if s == "" || strings.EqualFold(s, "null") {
				delete(m, k)
				dropped = append(dropped, k)
				continue
			}
			if reDecimal.MatchString(s) {
				m[k] = s
				continue
			}
			// accept european decimals like "121,00"
			if f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64); err == nil {
				m[k] = fmt.Sprintf("%.2f", f)
			} else {
				delete(m, k)
				dropped = append(dropped, k)
			}
		default:
			delete(m, k)
			dropped = append(dropped, k)
		}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil, nil, err
	}
	return b, dropped, nil
}
