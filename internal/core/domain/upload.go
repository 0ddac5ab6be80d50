package domain

import "io"

type UploadFile struct {
	Filename string
	MimeType string
	Size     int64
	Body     io.Reader
}

// DispatchState reports whether the downstream stages were handed off.
type DispatchState string

const (
	DispatchQueued  DispatchState = "queued"
	DispatchPartial DispatchState = "partial"
	DispatchFailed  DispatchState = "failed"
)

type UploadedFile struct {
	ID         string        `json:"id"`
	Filename   string        `json:"filename"`
	Size       int64         `json:"size"`
	Type       string        `json:"type"`
	Status     string        `json:"status"`
	StorageKey string        `json:"storageKey"`
	Dispatch   DispatchState `json:"dispatch"`
}

type FileError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// BatchResult aggregates a multi-file upload. Success is true iff at least one file was stored.
type BatchResult struct {
	Success  bool           `json:"success"`
	Uploaded int            `json:"uploaded"`
	Total    int            `json:"total"`
	Results  []UploadedFile `json:"results"`
	Errors   []FileError    `json:"errors"`
}
