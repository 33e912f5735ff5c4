// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package models

import (
	"context"
	"errors"
)

var (
	// ErrInvalidEvent marks input missing required fields or malformed.
	// It is never retryable.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrStoreUnavailable marks a failed or timed-out history read. Callers
	// may retry; no verdict is produced under this condition.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrSweepInProgress is returned when another run holds the sweep lock.
	ErrSweepInProgress = errors.New("sweep already in progress")

	// ErrNotFound is returned by lookups that match nothing.
	ErrNotFound = errors.New("not found")
)

// IsRetryable reports whether err is transient from the caller's view.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}
