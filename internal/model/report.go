package model

import "time"

// FileStatus is the outcome of one file within a run.
type FileStatus string

const (
	StatusSuccess FileStatus = "success"
	StatusSkipped FileStatus = "skipped"
	StatusFailed  FileStatus = "failed"
)

// IndexingError is a failed entry of a run report.
type IndexingError struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	Error    string `json:"error"`
	Kind     string `json:"kind,omitempty"`
}

// ProcessedFile is one entry of processedFiles, appended in completion order.
type ProcessedFile struct {
	FileID     string     `json:"fileId"`
	FileName   string     `json:"fileName"`
	Status     FileStatus `json:"status"`
	Timestamp  time.Time  `json:"timestamp"`
	Details    string     `json:"details"`
	ChunkCount int        `json:"chunkCount,omitempty"`
}

// IndexingRunReport aggregates one batch or single-file run. NotStarted counts
// files never dispatched because the run was cancelled, so
// successful+failed+skipped+notStarted always equals total.
type IndexingRunReport struct {
	RunID          string          `json:"runId"`
	Total          int             `json:"total"`
	Successful     int             `json:"successful"`
	Failed         int             `json:"failed"`
	Skipped        int             `json:"skipped"`
	NotStarted     int             `json:"notStarted"`
	Errors         []IndexingError `json:"errors"`
	ProcessedFiles []ProcessedFile `json:"processedFiles"`
	StartedAt      time.Time       `json:"startedAt"`
	FinishedAt     time.Time       `json:"finishedAt"`
	Cancelled      bool            `json:"cancelled"`
}

// RunStatus tracks an asynchronous run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// IndexingRun is the stored state of an asynchronous run.
type IndexingRun struct {
	RunID     string             `json:"runId"`
	Status    RunStatus          `json:"status"`
	Scope     Scope              `json:"scope"`
	FileID    string             `json:"fileId,omitempty"`
	Report    *IndexingRunReport `json:"report,omitempty"`
	Error     string             `json:"error,omitempty"`
	UpdatedAt time.Time          `json:"updatedAt"`
}
