package db

import (
	"time"
)

// SettingHistoryDays overrides database.history_days when set.
const SettingHistoryDays = "history_days"

// JobRecord is one row of the job history.
type JobRecord struct {
	ID           string     `json:"id"`
	PrinterID    string     `json:"printer_id"`
	Name         string     `json:"name"`
	DocumentPath string     `json:"-"`
	DocumentName string     `json:"document_name"`
	MimeType     string     `json:"mime_type"`
	Copies       int        `json:"copies"`
	SubmittedBy  string     `json:"submitted_by,omitempty"`
	State        string     `json:"state"`
	Reason       string     `json:"reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

type JobFilter struct {
	PrinterID string
	State     string
	Limit     int
	Offset    int
}
