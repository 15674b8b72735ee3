package models

import (
	"encoding/json"
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type PassKind string

const (
	PassIngest PassKind = "ingest"
	PassWatch  PassKind = "watch"
)

// PassRun records one ingestion or watch-check pass.
type PassRun struct {
	ID         string          `json:"id" db:"id"`
	Kind       PassKind        `json:"kind" db:"kind"`
	StartedAt  time.Time       `json:"started_at" db:"started_at"`
	FinishedAt *time.Time      `json:"finished_at" db:"finished_at"`
	Status     RunStatus       `json:"status" db:"status"`
	Stats      json.RawMessage `json:"stats" db:"stats"`
	Error      string          `json:"error" db:"error"`
}

// IngestStats tracks aggregate counters for an ingestion pass
type IngestStats struct {
	Seen           int `json:"seen"`
	Rejected       int `json:"rejected"`
	Duplicates     int `json:"duplicates"`
	Enriched       int `json:"enriched"`
	EnrichFailed   int `json:"enrich_failed"`
	Upserted       int `json:"upserted"`
	Ended          int `json:"ended"`
	SearchFailures int `json:"search_failures"`
	ImagesFetched  int `json:"images_fetched"`
}

func (s *IngestStats) ToJSON() json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

// WatchStats tracks aggregate counters for a watch-check pass
type WatchStats struct {
	Checked  int `json:"checked"`
	Skipped  int `json:"skipped"`
	Ended    int `json:"ended"`
	Notified int `json:"notified"`
	Errors   int `json:"errors"`
}

func (s *WatchStats) ToJSON() json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}
