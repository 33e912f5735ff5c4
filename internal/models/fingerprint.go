// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tomtom215/gatewatch/internal/validation"
)

// DeviceFingerprint is addressable by Hash. Several fingerprints may point
// at the same user.
type DeviceFingerprint struct {
	Hash      string    `json:"hash" validate:"required,sha256hex"`
	UserID    string    `json:"user_id,omitempty" validate:"max=256"`
	SessionID string    `json:"session_id,omitempty" validate:"max=256"`
	IP        string    `json:"ip" validate:"required,ip"`
	UserAgent string    `json:"user_agent" validate:"max=4096"`
	CreatedAt time.Time `json:"created_at" validate:"required"`
}

// Validate checks the fingerprint's required fields.
func (f *DeviceFingerprint) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: fingerprint is nil", ErrInvalidEvent)
	}
	if err := validation.Struct(f); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return nil
}

// FingerprintPayload is the raw client-side probe a fingerprint hash is
// derived from.
type FingerprintPayload struct {
	OS      string            `json:"os"`
	Browser string            `json:"browser"`
	Screen  string            `json:"screen"`
	Canvas  string            `json:"canvas"`
	WebGL   string            `json:"webgl"`
	Audio   string            `json:"audio"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// Empty reports whether no probe field is set.
func (p *FingerprintPayload) Empty() bool {
	return p.OS == "" && p.Browser == "" && p.Screen == "" &&
		p.Canvas == "" && p.WebGL == "" && p.Audio == "" && len(p.Extra) == 0
}

// FingerprintHash is the hex SHA-256 over the payload's fields in a fixed
// order, followed by extra keys sorted by name.
func FingerprintHash(p FingerprintPayload) string {
	var b strings.Builder
	for _, kv := range [...][2]string{
		{"os", p.OS},
		{"browser", p.Browser},
		{"screen", p.Screen},
		{"canvas", p.Canvas},
		{"webgl", p.WebGL},
		{"audio", p.Audio},
	} {
		b.WriteString(kv[0])
		b.WriteByte('=')
		b.WriteString(kv[1])
		b.WriteByte('\n')
	}

	keys := make([]string, 0, len(p.Extra))
	for k := range p.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("x-")
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p.Extra[k])
		b.WriteByte('\n')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// FingerprintSimilarity is the weighted share of matching probe fields, in
// [0,1]. Canvas and WebGL count double.
func FingerprintSimilarity(a, b FingerprintPayload) float64 {
	fields := []struct {
		x, y   string
		weight float64
	}{
		{a.OS, b.OS, 1},
		{a.Browser, b.Browser, 1},
		{a.Screen, b.Screen, 1},
		{a.Canvas, b.Canvas, 2},
		{a.WebGL, b.WebGL, 2},
		{a.Audio, b.Audio, 1},
	}

	var matched, total float64
	for _, f := range fields {
		total += f.weight
		if f.x == f.y {
			matched += f.weight
		}
	}
	return matched / total
}
