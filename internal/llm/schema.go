package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildInvoiceJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// We pass this to the model as a structured output constraint and also use it locally to validate.
func BuildInvoiceJSONSchema() map[string]any {
	props := map[string]any{
		"proveedor_text":  map[string]any{"type": "string", "minLength": 1},
		"numero_factura":  map[string]any{"type": "string", "minLength": 1},
		"fecha_emision":   map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
		"moneda":          map[string]any{"type": "string", "minLength": 3, "maxLength": 3},
		"importe_total":   decimalProp(),
		"base_imponible":  decimalProp(),
		"impuestos_total": decimalProp(),
		"iva_porcentaje":  decimalProp(),
		"confidence":      map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
	}
	required := []string{"proveedor_text", "numero_factura", "fecha_emision"}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

func decimalProp() map[string]any {
	return map[string]any{
		"type":    "string",
		"pattern": `^-?\d+(\.\d{1,2})?$`, // credit notes carry negative totals
	}
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
