package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// BatchRun is the bookkeeping record for one batch of pages.
type BatchRun struct {
	ID          int64      `json:"id" db:"id"`
	RunUUID     string     `json:"run_uuid" db:"run_uuid"`
	Input       string     `json:"input" db:"input"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	FinishedAt  *time.Time `json:"finished_at" db:"finished_at"`
	Status      RunStatus  `json:"status" db:"status"`
	PagesSeen   int        `json:"pages_seen" db:"pages_seen"`
	Accepted    int        `json:"accepted" db:"accepted"`
	Rejected    int        `json:"rejected" db:"rejected"`
	Duplicates  int        `json:"duplicates" db:"duplicates"`
	FetchErrors int        `json:"fetch_errors" db:"fetch_errors"`
	ErrorsCount int        `json:"errors_count" db:"errors_count"`
}
