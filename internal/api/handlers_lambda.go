// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/tomtom215/marquee/internal/lambda"
)

// TriggerBatch serves POST /api/v1/lambda/batch. The run is synchronous;
// an overlapping request gets 409.
func (h *Handler) TriggerBatch(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	result, err := h.orch.TriggerBatchUpdate(r.Context())
	switch {
	case errors.Is(err, lambda.ErrBatchInProgress):
		rw.Conflict(err.Error())
	case err != nil:
		h.logger.Error().Err(err).Msg("manual batch update failed")
		rw.Error(http.StatusInternalServerError, ErrCodeInternalError, "Batch update failed: "+err.Error())
	default:
		rw.Success(result)
	}
}

// StartScheduler serves POST /api/v1/lambda/scheduler/start. The optional
// body sets interval_hours before starting.
func (h *Handler) StartScheduler(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req SchedulerStartRequest
	if !decodeBody(rw, r, &req, true) {
		return
	}

	interval := time.Duration(req.IntervalHours * float64(time.Hour))
	err := h.orch.StartScheduler(interval)
	switch {
	case errors.Is(err, lambda.ErrSchedulerRunning):
		rw.Conflict(err.Error())
	case err != nil:
		rw.BadRequest(err.Error())
	default:
		rw.Success(h.orch.GetStatus())
	}
}

// StopScheduler serves POST /api/v1/lambda/scheduler/stop. Stopping an
// idle scheduler is not an error; Stopped reports whether one was running.
func (h *Handler) StopScheduler(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	stopped := h.orch.StopScheduler()
	rw.Success(SchedulerStopResponse{Stopped: stopped, Status: h.orch.GetStatus()})
}

// LambdaStatus serves GET /api/v1/lambda/status.
func (h *Handler) LambdaStatus(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.orch.GetStatus())
}

// LambdaStatistics serves GET /api/v1/lambda/statistics.
func (h *Handler) LambdaStatistics(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.orch.GetStatistics())
}
