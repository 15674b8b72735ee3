package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdIngestNow  CommandType = "ingest_now"
	CmdWatchCheck CommandType = "watch_check"
	CmdWatchAdd   CommandType = "watch_add"
	CmdPause      CommandType = "pause"
	CmdResume     CommandType = "resume"
)

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	ItemID string `json:"item_id,omitempty"`
}

func (c *Command) ParseParams() (*CommandParams, error) {
	var p CommandParams
	if len(c.Params) == 0 {
		return &p, nil
	}
	if err := json.Unmarshal(c.Params, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
