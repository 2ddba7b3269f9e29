package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoices-pipeline/internal/llm"
)

// Extract implements extract.TextExtractor. The PDF text layer is sent when present;
// otherwise the first page is attached as an image.
func (c *Client) Extract(ctx context.Context, doc entity.Document) (entity.ExtractedFields, error) {
	rid := common.RequestIDFromContext(ctx)
	if rid == "" {
		rid = uuid.NewString()
		ctx = common.WithRequestID(ctx, rid)
	}
	start := time.Now()

	req := llm.ExtractRequest{
		Text:            doc.TextLayer,
		FilenameHint:    filepath.Base(doc.Path),
		DefaultCurrency: c.cfg.DefaultCurrency,
	}
	if strings.TrimSpace(doc.TextLayer) == "" {
		req.ImageDataURL = c.firstPageDataURL(ctx, doc, rid)
	}

	c.logger.Info("llm.extract.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"text_len", len(req.Text),
		"image_attached", req.ImageDataURL != "",
	)
	if req.Text == "" && req.ImageDataURL == "" {
		c.logger.Warn("llm.extract.no_input", "req_id", rid, "path", doc.Path)
		return entity.ExtractedFields{}, fmt.Errorf("no text layer and no page image for %s", doc.Path)
	}

	schema := llm.BuildInvoiceJSONSchema()
	userContent := []map[string]any{
		{"type": "text", "text": llm.BuildUserPrompt(req) + "\n\nReturn ONLY JSON that matches the provided schema."},
	}
	if req.ImageDataURL != "" {
		userContent = append(userContent, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": req.ImageDataURL},
		})
	}
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt(req)},
			{"role": "user", "content": userContent},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, status, err := llm.PostJSON(ctx, c.http, endpoint, body, headers, c.logger)
	if err != nil {
		c.logger.Error("llm.extract.http_error",
			"req_id", rid, "status", status, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return entity.ExtractedFields{}, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("llm.extract.decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw))
		return entity.ExtractedFields{}, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		c.logger.Error("llm.extract.no_choices", "req_id", rid, "raw", string(raw))
		return entity.ExtractedFields{}, fmt.Errorf("no choices in openai response")
	}

	content, err := c.validate(rid, schema, []byte(strings.TrimSpace(cc.Choices[0].Message.Content)))
	if err != nil {
		return entity.ExtractedFields{}, err
	}

	var out llm.InvoiceFields
	if err := json.Unmarshal(content, &out); err != nil {
		c.logger.Error("llm.extract.unmarshal_failed", "req_id", rid, "error", err)
		return entity.ExtractedFields{}, fmt.Errorf("unmarshal fields: %w", err)
	}
	fields, warnings := out.ToExtracted()
	if len(warnings) > 0 {
		c.logger.Warn("llm.extract.field_warnings", "req_id", rid, "warnings", warnings)
	}

	c.logger.Info("llm.extract.ok",
		"req_id", rid,
		"provider", out.Provider,
		"number", out.Number,
		"date", out.IssueDate,
		"currency", out.Currency,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return fields, nil
}

// validate checks content against the schema: first after normalization, then once more after a
// lenient pass over optional fields when enabled.
func (c *Client) validate(rid string, schema map[string]any, content []byte) ([]byte, error) {
	normalized, _, err := llm.NormalizeAndSanitizeJSON(content, c.logger)
	if err != nil {
		c.logger.Error("llm.extract.sanitize_failed", "req_id", rid, "error", err)
		return nil, err
	}

	vErr := llm.ValidateJSONAgainstSchema(schema, normalized)
	if vErr == nil {
		return normalized, nil
	}
	if !c.cfg.LenientOptional {
		c.logger.Error("llm.extract.schema_validation_failed", "req_id", rid, "error", vErr, "content", string(normalized))
		return nil, fmt.Errorf("schema validation failed: %w", vErr)
	}

	cleaned, dropped, sErr := llm.SanitizeOptionalFields(normalized)
	if sErr != nil {
		c.logger.Error("llm.extract.sanitize_failed", "req_id", rid, "error", sErr)
		return nil, fmt.Errorf("sanitize failed: %w", sErr)
	}
	if err := llm.ValidateJSONAgainstSchema(schema, cleaned); err != nil {
		c.logger.Error("llm.extract.schema_validation_failed", "req_id", rid, "error", err, "content", string(cleaned))
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	c.logger.Warn("llm.extract.lenient_sanitize_applied", "req_id", rid, "dropped", dropped)
	return cleaned, nil
}

func (c *Client) firstPageDataURL(ctx context.Context, doc entity.Document, rid string) string {
	if constants.MapExtToFormat(filepath.Ext(doc.Path)) == constants.IMAGE {
		u, err := llm.ReadAsDataURL(doc.Path)
		if err != nil {
			c.logger.Warn("llm.extract.attach_failed", "req_id", rid, "error", err)
			return ""
		}
		return u
	}
	if c.raster == nil {
		return ""
	}
	pages, cleanup, err := c.raster.Rasterize(ctx, doc, c.cfg.VisionDPI)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil || len(pages) == 0 {
		c.logger.Warn("llm.extract.render_failed", "req_id", rid, "error", err)
		return ""
	}
	u, err := llm.ReadAsDataURL(pages[0].Path)
	if err != nil {
		c.logger.Warn("llm.extract.attach_failed", "req_id", rid, "error", err)
		return ""
	}
	return u
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
