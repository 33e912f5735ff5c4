// Gatewatch - Login Risk and Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gatewatch

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/gatewatch/internal/baseline"
	"github.com/tomtom215/gatewatch/internal/logging"
	"github.com/tomtom215/gatewatch/internal/models"
	"github.com/tomtom215/gatewatch/internal/risk"
	"github.com/tomtom215/gatewatch/internal/store"
	"github.com/tomtom215/gatewatch/internal/sweep"
)

// maxAlertLimit caps GET /alerts.
const maxAlertLimit = 1000

// Assessor scores a login event.
type Assessor interface {
	Assess(ctx context.Context, event *models.LoginEvent) (*risk.Assessment, error)
}

// AssessmentReader reads stored assessments by source event ID.
type AssessmentReader interface {
	Get(ctx context.Context, eventID string) (*risk.Assessment, error)
}

// SweepRunner runs on-demand sweeps under the scheduler's lock.
type SweepRunner interface {
	RunWindow(ctx context.Context, window models.TimeRange) ([]models.Alert, error)
	Window() time.Duration
	LastRun() *sweep.RunStatus
}

// HandlerConfig wires a Handler. Assessments and Sweeps are optional.
type HandlerConfig struct {
	Store       store.Store
	Assessor    Assessor
	Assessments AssessmentReader
	Sweeps      SweepRunner
	Windows     baseline.Windows
	Clock       func() time.Time
}

// Handler implements the /api/v1 endpoints.
type Handler struct {
	store       store.Store
	assessor    Assessor
	assessments AssessmentReader
	sweeps      SweepRunner
	baselines   *baseline.Builder
	windows     baseline.Windows
	now         func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Windows == (baseline.Windows{}) {
		cfg.Windows = baseline.DefaultWindows()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Handler{
		store:       cfg.Store,
		assessor:    cfg.Assessor,
		assessments: cfg.Assessments,
		sweeps:      cfg.Sweeps,
		baselines:   baseline.NewBuilder(cfg.Store, cfg.Store),
		windows:     cfg.Windows,
		now:         cfg.Clock,
	}
}

// Assess scores a login event without recording it.
//
// POST /api/v1/assess
func (h *Handler) Assess(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var event models.LoginEvent
	if err := decodeJSON(w, r, &event, false); err != nil {
		respondServiceError(w, r, err)
		return
	}

	a, err := h.assessor.Assess(r.Context(), &event)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, a, start)
}

// recordEventResponse is returned by POST /events.
type recordEventResponse struct {
	ID         string           `json:"id"`
	Assessment *risk.Assessment `json:"assessment,omitempty"`
}

// RecordEvent appends a login event to history. With ?assess=true the
// event is assessed after recording.
//
// POST /api/v1/events
func (h *Handler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var event models.LoginEvent
	if err := decodeJSON(w, r, &event, false); err != nil {
		respondServiceError(w, r, err)
		return
	}

	id, err := h.store.Record(r.Context(), &event)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	resp := recordEventResponse{ID: id}

	if strings.EqualFold(r.URL.Query().Get("assess"), "true") {
		a, err := h.assessor.Assess(r.Context(), &event)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		resp.Assessment = a
	}
	respondSuccess(w, http.StatusCreated, resp, start)
}

// fingerprintRequest is the body of POST /fingerprints. Hash is derived
// from Payload when omitted.
type fingerprintRequest struct {
	Hash      string                     `json:"hash,omitempty"`
	UserID    string                     `json:"user_id,omitempty"`
	SessionID string                     `json:"session_id,omitempty"`
	IP        string                     `json:"ip"`
	UserAgent string                     `json:"user_agent"`
	CreatedAt time.Time                  `json:"created_at,omitempty"`
	Payload   *models.FingerprintPayload `json:"payload,omitempty"`
}

// RecordFingerprint stores a device fingerprint.
//
// POST /api/v1/fingerprints
func (h *Handler) RecordFingerprint(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req fingerprintRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		respondServiceError(w, r, err)
		return
	}

	fp := models.DeviceFingerprint{
		Hash:      strings.ToLower(req.Hash),
		UserID:    req.UserID,
		SessionID: req.SessionID,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		CreatedAt: req.CreatedAt,
	}
	if fp.Hash == "" && req.Payload != nil && !req.Payload.Empty() {
		fp.Hash = models.FingerprintHash(*req.Payload)
	}
	if fp.CreatedAt.IsZero() {
		fp.CreatedAt = h.now().UTC()
	}

	hash, err := h.store.RecordFingerprint(r.Context(), &fp)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusCreated, map[string]string{"hash": hash}, start)
}

// Baseline returns a user's behavioral baseline as of now or ?as_of.
//
// GET /api/v1/users/{userID}/baseline
func (h *Handler) Baseline(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, "user id is required", nil)
		return
	}

	asOf, err := getTimeParam(r, "as_of")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, err.Error(), nil)
		return
	}
	if asOf.IsZero() {
		asOf = h.now().UTC()
	}

	ctx := logging.WithUserID(r.Context(), userID)
	b, err := h.baselines.Build(ctx, userID, asOf, h.windows)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, b, start)
}

// GetAssessment reads a stored assessment.
//
// GET /api/v1/assessments/{eventID}
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.assessments == nil {
		respondError(w, r, http.StatusNotFound, CodeNotFound, "assessment log is disabled", nil)
		return
	}

	a, err := h.assessments.Get(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, a, start)
}

// sweepRequest is the optional body of POST /sweep.
type sweepRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type detectorError struct {
	Detector models.AlertKind `json:"detector"`
	Error    string           `json:"error"`
}

// sweepResponse is returned by POST /sweep.
type sweepResponse struct {
	Window         models.TimeRange `json:"window"`
	Alerts         []models.Alert   `json:"alerts"`
	DetectorErrors []detectorError  `json:"detector_errors,omitempty"`
}

// Sweep runs the aggregate detectors over {start, end}, or over the
// trailing sweep window when the body is empty.
//
// POST /api/v1/sweep
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.sweeps == nil {
		respondError(w, r, http.StatusNotFound, CodeNotFound, "sweeper is disabled", nil)
		return
	}

	var req sweepRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, err.Error(), nil)
		return
	}

	window := models.TimeRange{Start: req.Start.UTC(), End: req.End.UTC()}
	if req.Start.IsZero() && req.End.IsZero() {
		window = models.Trailing(h.now().UTC(), h.sweeps.Window())
	}
	if !window.Valid() {
		respondError(w, r, http.StatusBadRequest, CodeInvalidWindow,
			fmt.Sprintf("window must have start <= end, got %s to %s", req.Start.Format(time.RFC3339), req.End.Format(time.RFC3339)), nil)
		return
	}

	alerts, err := h.sweeps.RunWindow(r.Context(), window)
	resp := sweepResponse{Window: window, Alerts: alerts}
	if resp.Alerts == nil {
		resp.Alerts = []models.Alert{}
	}

	var pf *sweep.PartialFailure
	switch {
	case err == nil:
	case errors.As(err, &pf):
		for _, f := range pf.Failures {
			resp.DetectorErrors = append(resp.DetectorErrors, detectorError{Detector: f.Detector, Error: f.Err.Error()})
		}
	default:
		respondServiceError(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, resp, start)
}

// Alerts lists archived sweep alerts, newest first.
//
// GET /api/v1/alerts?limit=N
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	limit := getIntParam(r, "limit", store.DefaultAlertLimit)
	if limit <= 0 || limit > maxAlertLimit {
		respondError(w, r, http.StatusBadRequest, CodeInvalidRequest,
			fmt.Sprintf("limit must be between 1 and %d", maxAlertLimit), nil)
		return
	}

	alerts, err := h.store.ListAlerts(r.Context(), limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	respondSuccess(w, http.StatusOK, alerts, start)
}

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status    string           `json:"status"`
	Store     string           `json:"store"`
	LastSweep *sweep.RunStatus `json:"last_sweep,omitempty"`
}

// Health reports liveness and whether the history store answers.
//
// GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "healthy", Store: "ok"}
	if h.sweeps != nil {
		resp.LastSweep = h.sweeps.LastRun()
	}

	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("component", "api").Msg("Health check: store ping failed")
		resp.Status = "degraded"
		resp.Store = "unavailable"
		status = http.StatusServiceUnavailable
	}
	respondSuccess(w, status, resp, start)
}
