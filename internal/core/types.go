package core

import (
	"errors"
	"time"

	"github.com/orrn/netprint/internal/printer"
)

var (
	ErrPrinterOffline  = errors.New("printer offline")
	ErrUnreadableInput = errors.New("unreadable input")
	ErrPrintFailed     = errors.New("print failed")
	ErrJobNotFound     = errors.New("job not found")
	ErrInvalidRequest  = errors.New("invalid job request")
)

// Document is the file handed to the backend.
type Document struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
}

// JobRequest is what the host submits.
type JobRequest struct {
	PrinterID   printer.ID `json:"printer_id"`
	Name        string     `json:"name"`
	Document    Document   `json:"document"`
	Copies      int        `json:"copies"`
	SubmittedBy string     `json:"submitted_by"`
}

func (r JobRequest) Validate() error {
	switch {
	case r.PrinterID.IsZero():
		return errors.Join(ErrInvalidRequest, errors.New("printer id is required"))
	case r.Document.Path == "":
		return errors.Join(ErrInvalidRequest, errors.New("document path is required"))
	case r.Copies < 0:
		return errors.Join(ErrInvalidRequest, errors.New("copies must be non-negative"))
	}
	return nil
}

// JobSpec is the job as seen by a backend.
type JobSpec struct {
	ID       string
	Name     string
	Document Document
	Copies   int
}

// Outcome is the terminal, host-visible result of a job.
type Outcome struct {
	State  JobState
	Err    error
	Reason string
	At     time.Time
}
