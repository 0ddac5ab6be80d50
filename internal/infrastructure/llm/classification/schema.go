package classification

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const labelSchema = `{
  "type": "object",
  "required": ["category", "confidence"],
  "properties": {
    "category": {"type": "string", "minLength": 1},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reasoning": {"type": "string"}
  }
}`

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("label.json", strings.NewReader(labelSchema)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiled, compileErr = compiler.Compile("label.json")
	})
	return compiled, compileErr
}

// ParseLabel validates a model reply and decodes it into a Label. Replies
// that are not a conforming JSON object are reported as ErrAIService.
func ParseLabel(raw string) (domain.Label, error) {
	body := extractJSONObject(raw)
	if body == "" {
		return domain.Label{}, domain.WrapError(domain.ErrAIService, "parse label", errors.New("reply contains no json object"))
	}

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return domain.Label{}, domain.WrapError(domain.ErrAIService, "parse label", err)
	}
	s, err := schema()
	if err != nil {
		return domain.Label{}, err
	}
	if err := s.Validate(doc); err != nil {
		return domain.Label{}, domain.WrapError(domain.ErrAIService, "parse label", fmt.Errorf("reply does not match schema: %w", err))
	}

	var label domain.Label
	if err := json.Unmarshal([]byte(body), &label); err != nil {
		return domain.Label{}, domain.WrapError(domain.ErrAIService, "parse label", err)
	}
	label.Category = strings.TrimSpace(label.Category)
	label.Reasoning = strings.TrimSpace(label.Reasoning)
	return label, nil
}

// extractJSONObject strips prose or code fences around the first object.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return ""
}
