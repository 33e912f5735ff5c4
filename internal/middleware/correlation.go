// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

// Package middleware holds HTTP middleware shared by the API router.
package middleware

import (
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tomtom215/gatewatch/internal/logging"
)

// CorrelationHeader carries the correlation ID in and out.
const CorrelationHeader = "X-Correlation-ID"

const maxCorrelationLen = 128

// Correlation puts a correlation ID on the request context and echoes it in
// the response. An inbound X-Correlation-ID wins, then chi's request ID,
// then a fresh ID. Run it after chimiddleware.RequestID.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := sanitizeID(r.Header.Get(CorrelationHeader))
		if id == "" {
			id = chimiddleware.GetReqID(r.Context())
		}
		if id == "" {
			id = logging.NewCorrelationID()
		}

		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithCorrelationID(r.Context(), id)))
	})
}

// sanitizeID drops IDs that are too long or carry control characters, so
// the value is safe to log and echo.
func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > maxCorrelationLen {
		return ""
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7F {
			return ""
		}
	}
	return id
}
