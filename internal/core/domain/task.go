package domain

import "time"

type TaskKind string

const (
	TaskClassify TaskKind = "classify"
	TaskExtract  TaskKind = "extract"
)

func (k TaskKind) Valid() bool {
	return k == TaskClassify || k == TaskExtract
}

// Task is a unit of asynchronous stage work handed from a trigger to a worker.
type Task struct {
	ID         string    `json:"id"`
	Kind       TaskKind  `json:"kind"`
	DocumentID string    `json:"documentId"`
	UserID     string    `json:"userId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}
