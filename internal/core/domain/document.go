package domain

import "time"

// ProcessingStatus tracks the pipeline-level (classification) progress of a document.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

func (s ProcessingStatus) Terminal() bool {
	return s == ProcessingCompleted || s == ProcessingFailed
}

func (s ProcessingStatus) Valid() bool {
	switch s {
	case ProcessingPending, ProcessingProcessing, ProcessingCompleted, ProcessingFailed:
		return true
	default:
		return false
	}
}

// OCRStatus tracks the text extraction stage of a document.
type OCRStatus string

const (
	OCRPending    OCRStatus = "pending"
	OCRProcessing OCRStatus = "processing"
	OCRCompleted  OCRStatus = "completed"
	OCRFailed     OCRStatus = "failed"
)

func (s OCRStatus) Terminal() bool {
	return s == OCRCompleted || s == OCRFailed
}

func (s OCRStatus) Valid() bool {
	switch s {
	case OCRPending, OCRProcessing, OCRCompleted, OCRFailed:
		return true
	default:
		return false
	}
}

type Document struct {
	ID               string           `json:"id"`
	UserID           string           `json:"userId"`
	StorageKey       string           `json:"storageKey"`
	OriginalName     string           `json:"originalName"`
	MimeType         string           `json:"mimeType"`
	SizeBytes        int64            `json:"sizeBytes"`
	ProcessingStatus ProcessingStatus `json:"processingStatus"`
	ExtractedText    *string          `json:"extractedText"`
	OCRStatus        OCRStatus        `json:"ocrStatus"`
	OCRCompletedAt   *time.Time       `json:"ocrCompletedAt"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// HasExtractedText reports whether a completed extraction left usable text behind.
func (d *Document) HasExtractedText() bool {
	return d.ExtractedText != nil && *d.ExtractedText != ""
}

func (d *Document) OwnedBy(userID string) bool {
	return d.UserID != "" && d.UserID == userID
}

type DocumentFilter struct {
	ProcessingStatus ProcessingStatus
	OCRStatus        OCRStatus
	Limit            int
	Offset           int
}

// DocumentView is the read model returned to callers polling a document.
type DocumentView struct {
	Document       Document        `json:"document"`
	Classification *Classification `json:"classification"`
	Category       *Category       `json:"category"`
	FileURL        *string         `json:"fileUrl"`
}
