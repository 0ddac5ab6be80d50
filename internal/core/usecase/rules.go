package usecase

import (
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const defaultRuleReasoning = "Classified using filename analysis (OpenAI unavailable)"

type filenameRule struct {
	allOf      []string
	anyOf      []string
	category   string
	confidence float64
	reasoning  string
}

func (r filenameRule) matches(name string) bool {
	for _, token := range r.allOf {
		if !strings.Contains(name, token) {
			return false
		}
	}
	if len(r.anyOf) == 0 {
		return true
	}
	for _, token := range r.anyOf {
		if strings.Contains(name, token) {
			return true
		}
	}
	return false
}

// The quest+billing rule sits ahead of invoice/bill because "billing" also
// contains "bill"; first match wins.
var filenameRules = []filenameRule{
	{
		anyOf:      []string{"receipt"},
		category:   "Receipts",
		confidence: 0.9,
		reasoning:  `Filename contains "receipt"`,
	},
	{
		allOf:      []string{"quest", "billing"},
		category:   "Invoices",
		confidence: 0.85,
		reasoning:  "Quest billing document appears to be an invoice",
	},
	{
		anyOf:      []string{"invoice", "bill"},
		category:   "Invoices",
		confidence: 0.9,
		reasoning:  "Filename suggests this is an invoice or bill",
	},
	{
		anyOf:      []string{"contract"},
		category:   "Contracts",
		confidence: 0.9,
		reasoning:  `Filename contains "contract"`,
	},
}

// RuleClassifier is the deterministic filename-based fallback. It holds no
// state and performs no I/O.
type RuleClassifier struct{}

func (RuleClassifier) Classify(filename string) domain.Label {
	name := strings.ToLower(filename)
	for _, rule := range filenameRules {
		if rule.matches(name) {
			return domain.Label{
				Category:   rule.category,
				Confidence: rule.confidence,
				Reasoning:  rule.reasoning,
			}
		}
	}
	return domain.Label{
		Category:   domain.OtherCategory,
		Confidence: 0.7,
		Reasoning:  defaultRuleReasoning,
	}
}
