// Package models defines the core domain entities for the rtwatch application.
// These models represent reported case counts, per-day reproduction number
// estimates, and estimation run metadata. All models include built-in
// validation to ensure data integrity throughout the application.
//
// Terminology:
//   - Cumulative count: the running total of cases a region has reported up
//     to and including a date. This is what public sources publish.
//   - Daily count: the day-over-day difference of the cumulative series.
//     Corrections in the source can make individual days negative.
//
// Dates are calendar days with no time-of-day component; they are normalized
// to midnight UTC and serialized with DateLayout.
package models

import (
	"errors"
	"time"
)

// DateLayout is the serialization format for calendar days across the
// store, exports, and the HTTP API.
const DateLayout = "2006-01-02"

// ParseDate parses a calendar day in DateLayout, normalized to UTC.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// Day truncates t to its calendar day in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CaseCount is one source observation: the cumulative case total a region
// had reported as of a date.
type CaseCount struct {
	Region     string    `json:"region"`
	Date       time.Time `json:"date"`
	Cumulative int       `json:"cumulative"`
}

// Validate checks that all case count fields are valid.
func (c *CaseCount) Validate() error {
	if c.Region == "" {
		return errors.New("region must not be empty")
	}
	if c.Date.IsZero() {
		return errors.New("date must not be zero")
	}
	if c.Cumulative < 0 {
		return errors.New("cumulative count must not be negative")
	}
	return nil
}
