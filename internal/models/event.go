// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package models

import (
	"fmt"
	"time"

	"github.com/tomtom215/gatewatch/internal/validation"
)

// LoginEvent is one authentication attempt. UserID is empty for attempts
// against identities that do not exist.
type LoginEvent struct {
	ID        string            `json:"id,omitempty" validate:"omitempty,max=128"`
	UserID    string            `json:"user_id,omitempty" validate:"max=256"`
	IP        string            `json:"ip" validate:"required,ip"`
	UserAgent string            `json:"user_agent" validate:"max=4096"`
	Timestamp time.Time         `json:"timestamp" validate:"required"`
	Success   bool              `json:"success"`
	Metadata  map[string]string `json:"metadata,omitempty" validate:"max=64"`
}

// Validate returns an error wrapping ErrInvalidEvent when required fields
// are missing or malformed.
func (e *LoginEvent) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: event is nil", ErrInvalidEvent)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidEvent)
	}
	if err := validation.Struct(e); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return nil
}

// TimeRange is inclusive at both ends.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Trailing returns the range of length d ending at end.
func Trailing(end time.Time, d time.Duration) TimeRange {
	return TimeRange{Start: end.Add(-d), End: end}
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Duration is End minus Start.
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Valid reports whether both ends are set and ordered.
func (r TimeRange) Valid() bool {
	return !r.Start.IsZero() && !r.End.IsZero() && !r.End.Before(r.Start)
}

// EventFilter selects events from history. Empty fields match everything;
// Range is required.
type EventFilter struct {
	UserID    string
	IP        string
	UserAgent string
	Success   *bool
	Range     TimeRange
}

// Matches applies the filter to a single event.
func (f EventFilter) Matches(e *LoginEvent) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.IP != "" && e.IP != f.IP {
		return false
	}
	if f.UserAgent != "" && e.UserAgent != f.UserAgent {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	return f.Range.Contains(e.Timestamp)
}

// Bool returns a pointer to b, for EventFilter.Success.
func Bool(b bool) *bool {
	return &b
}
