package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
)

// NormalizeAndSanitizeJSON
// - Renames known synonyms (invoice_number -> numero_factura, ...)
// - Drops null/empty optionals
// - Coerces numeric -> string for money fields
// - Removes unknown keys (strict additionalProperties = false friendliness)
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 8)
	renamed := func(from, to string) {
		if v, ok := m[from]; ok {
			if _, exists := m[to]; !exists {
				m[to] = v
			}
			delete(m, from)
			dropped = append(dropped, from+"->"+to)
		}
	}

	renamed("proveedor", "proveedor_text")
	renamed("provider", "proveedor_text")
	renamed("vendor", "proveedor_text")
	renamed("invoice_number", "numero_factura")
	renamed("numero", "numero_factura")
	renamed("issue_date", "fecha_emision")
	renamed("fecha", "fecha_emision")
	renamed("currency", "moneda")
	renamed("total", "importe_total")
	renamed("base", "base_imponible")
	renamed("iva", "impuestos_total")
	renamed("vat_rate", "iva_porcentaje")

	for _, k := range optMoney {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			m[k] = fmt.Sprintf("%.2f", t)
		case string:
			if s := strings.TrimSpace(t); s == "" {
				delete(m, k)
				dropped = append(dropped, k+"(empty)")
			} else {
				m[k] = s
			}
		case nil:
			delete(m, k)
			dropped = append(dropped, k+"(null)")
		default:
			delete(m, k)
			dropped = append(dropped, k+"(type)")
		}
	}

	allowed := BuildInvoiceJSONSchema()["properties"].(map[string]any)
	for k := range maps.Clone(m) {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	for _, k := range []string{"proveedor_text", "numero_factura", "fecha_emision", "moneda"} {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s == "" {
				delete(m, k)
				dropped = append(dropped, k+"(empty)")
			} else {
				m[k] = s
			}
		case nil:
			if _, present := m[k]; present {
				delete(m, k)
				dropped = append(dropped, k+"(null)")
			}
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("llm.extract.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}
