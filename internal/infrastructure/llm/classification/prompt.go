package classification

import (
	"fmt"
	"strings"
)

const (
	// Temperature and MaxTokens are shared by every provider.
	Temperature = 0.1
	MaxTokens   = 500
)

// SystemPrompt lists the closed taxonomy and the expected JSON reply.
func SystemPrompt(taxonomy []string) string {
	var b strings.Builder
	b.WriteString("You are an AI document classifier. Analyze the document and classify it into exactly one of these categories:\n\n")
	b.WriteString("Categories:\n")
	for i, name := range taxonomy {
		fmt.Fprintf(&b, "%d. %s\n", i+1, name)
	}
	b.WriteString(`
Instructions:
- Choose the MOST appropriate category, using the name exactly as listed
- Provide a confidence score between 0.00 and 1.00
- Explain your reasoning in 1-2 sentences
- If uncertain, use "Other" with lower confidence

Respond with a single JSON object and nothing else:
{"category": "category_name", "confidence": 0.95, "reasoning": "..."}`)
	return b.String()
}

func UserPrompt(descriptor string) string {
	return "Classify this document:\n\n" + descriptor
}

// CombinedPrompt is used by completion-style providers with no system role.
func CombinedPrompt(taxonomy []string, descriptor string) string {
	return SystemPrompt(taxonomy) + "\n\n" + UserPrompt(descriptor)
}
