package models

import (
	"errors"
	"time"
)

// Estimate is the effective reproduction number estimated for a region on a
// single day: the posterior mode plus the bounds of the highest-density
// credible interval.
type Estimate struct {
	Region string    `json:"region" db:"region"`
	Date   time.Time `json:"date"`
	Mode   float64   `json:"mode" db:"mode"`
	Low    float64   `json:"low" db:"low"`
	High   float64   `json:"high" db:"high"`
}

// Validate checks that all estimate fields are valid.
func (e *Estimate) Validate() error {
	if e.Region == "" {
		return errors.New("region must not be empty")
	}
	if e.Date.IsZero() {
		return errors.New("date must not be zero")
	}
	if e.Low < 0 {
		return errors.New("interval low must not be negative")
	}
	if e.High < e.Low {
		return errors.New("interval high must be >= low")
	}
	if e.Mode < e.Low || e.Mode > e.High {
		return errors.New("mode must lie inside the credible interval")
	}
	return nil
}
