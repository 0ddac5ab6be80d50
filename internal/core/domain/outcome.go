package domain

// StageOutcome is the explicit result of one stage run.
type StageOutcome string

const (
	// OutcomeSucceeded: the primary path produced and persisted a result.
	OutcomeSucceeded StageOutcome = "succeeded"
	// OutcomeFallback: the AI service was unusable and the rule-based classifier was used.
	OutcomeFallback StageOutcome = "fallback"
	// OutcomeCached: extraction already completed; stored text was returned.
	OutcomeCached StageOutcome = "cached"
	// OutcomeSkipped: another run holds the claim or the stage is already terminal.
	OutcomeSkipped StageOutcome = "skipped"
	// OutcomeFailed: unrecoverable; the stage status was marked failed.
	OutcomeFailed StageOutcome = "failed"
)

type ClassificationReport struct {
	DocumentID     string           `json:"documentId"`
	Outcome        StageOutcome     `json:"outcome"`
	Status         ProcessingStatus `json:"processingStatus"`
	Classification *Classification  `json:"classification,omitempty"`
	CategoryName   string           `json:"categoryName,omitempty"`
	FallbackReason string           `json:"fallbackReason,omitempty"`
}

type ExtractionReport struct {
	DocumentID string         `json:"documentId"`
	Outcome    StageOutcome   `json:"outcome"`
	Status     OCRStatus      `json:"ocrStatus"`
	Text       string         `json:"-"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ExtractionResult is the structured output of an extraction engine run.
type ExtractionResult struct {
	Text     string
	Metadata map[string]any
}

// TriggerReceipt tells a caller what a trigger call did.
type TriggerReceipt struct {
	DocumentID string   `json:"documentId"`
	Kind       TaskKind `json:"kind"`
	Dispatched bool     `json:"dispatched"`
	TaskID     string   `json:"taskId,omitempty"`
	Status     string   `json:"status"`
}
