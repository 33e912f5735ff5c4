// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

// Package models holds the records shared across Gatewatch: login events,
// device fingerprints, sweep alerts, the error kinds callers branch on, and
// the HTTP response envelope.
//
// Events and fingerprints are immutable once recorded. Alerts are created by
// the sweeper and never mutated.
package models
