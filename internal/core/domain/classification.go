package domain

import (
	"math"
	"time"
)

type ClassificationStatus string

const (
	ClassificationPending     ClassificationStatus = "pending"
	ClassificationCompleted   ClassificationStatus = "completed"
	ClassificationFailed      ClassificationStatus = "failed"
	ClassificationNeedsReview ClassificationStatus = "needs_review"
)

// ClassificationMethod records which classifier produced the label.
type ClassificationMethod string

const (
	MethodAI     ClassificationMethod = "ai"
	MethodRules  ClassificationMethod = "rules"
	MethodManual ClassificationMethod = "manual"
)

type Classification struct {
	ID                   string               `json:"id"`
	DocumentID           string               `json:"documentId"`
	CategoryID           string               `json:"categoryId"`
	Confidence           float64              `json:"confidence"`
	IsManualOverride     bool                 `json:"isManualOverride"`
	ClassificationStatus ClassificationStatus `json:"classificationStatus"`
	AIReasoning          string               `json:"aiReasoning"`
	Method               ClassificationMethod `json:"method"`
	CreatedAt            time.Time            `json:"createdAt"`
	UpdatedAt            time.Time            `json:"updatedAt"`
}

// Label is an unresolved classification result, as produced by the AI service
// or the rule-based fallback.
type Label struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// AIRequest is what the orchestrator hands to an AI classification service.
type AIRequest struct {
	Taxonomy   []string
	Descriptor string
}

// ClampConfidence bounds c to [0, 1] and rounds it to two decimals.
func ClampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return math.Round(c*100) / 100
}
