package models

import (
	"errors"
	"time"
)

// Run statuses recorded in the store.
const (
	RunStatusOK    = "ok"
	RunStatusError = "error"
)

// Run records one estimation cycle: when it ran, what source data it saw,
// and how many regions it produced estimates for or skipped.
type Run struct {
	ID               string    `json:"id"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Status           string    `json:"status"` // "ok" or "error"
	SourceDate       time.Time `json:"source_date,omitempty"`
	RegionsEstimated int       `json:"regions_estimated"`
	RegionsSkipped   int       `json:"regions_skipped"`
	Estimates        int       `json:"estimates"`
	Error            string    `json:"error,omitempty"`
}

// Validate checks that all run fields are valid.
func (r *Run) Validate() error {
	if r.ID == "" {
		return errors.New("run ID must not be empty")
	}
	if r.Status != RunStatusOK && r.Status != RunStatusError {
		return errors.New("status must be 'ok' or 'error'")
	}
	if r.StartedAt.IsZero() {
		return errors.New("started at must not be zero")
	}
	if !r.FinishedAt.IsZero() && r.FinishedAt.Before(r.StartedAt) {
		return errors.New("finished at must not precede started at")
	}
	if r.RegionsEstimated < 0 {
		return errors.New("regions estimated must not be negative")
	}
	if r.RegionsSkipped < 0 {
		return errors.New("regions skipped must not be negative")
	}
	if r.Estimates < 0 {
		return errors.New("estimate count must not be negative")
	}
	if r.Status == RunStatusError && r.Error == "" {
		return errors.New("error runs must carry an error message")
	}
	return nil
}
