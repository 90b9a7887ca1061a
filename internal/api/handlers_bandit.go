// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/marquee/internal/bandit"
	"github.com/tomtom215/marquee/internal/store"
)

// SelectResponse is the arm chosen for a user plus the context it was
// chosen under. Credit feedback to Selection.ExperimentID.
type SelectResponse struct {
	Selection *bandit.Selection   `json:"selection"`
	Context   *bandit.UserContext `json:"context"`
}

// RewardResponse reports the reward credited to an experiment.
type RewardResponse struct {
	ExperimentID string  `json:"experiment_id"`
	Arm          string  `json:"arm"`
	Outcome      string  `json:"outcome"`
	Reward       float64 `json:"reward"`
}

// ArmStatesResponse lists a user's posterior per arm.
type ArmStatesResponse struct {
	UserID int               `json:"user_id"`
	Arms   []bandit.ArmState `json:"arms"`
}

// BanditSelect serves POST /api/v1/bandit/select: build the user's
// context, draw a contextual arm and log the experiment.
func (h *Handler) BanditSelect(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req bandit.ContextRequest
	if !decodeBody(rw, r, &req, false) {
		return
	}

	sel, uc, err := h.bandit.SelectForUser(r.Context(), req)
	if err != nil {
		h.banditError(rw, err)
		return
	}
	rw.Created(SelectResponse{Selection: sel, Context: uc})
}

// BanditFeedback serves POST /api/v1/bandit/feedback.
func (h *Handler) BanditFeedback(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var fb bandit.Feedback
	if !decodeBody(rw, r, &fb, false) {
		return
	}

	exp, err := h.bandit.UpdateReward(r.Context(), fb)
	if err != nil {
		h.banditError(rw, err)
		return
	}
	resp := RewardResponse{ExperimentID: exp.ID, Arm: exp.Arm, Outcome: exp.Context.Outcome}
	if exp.Reward != nil {
		resp.Reward = *exp.Reward
	}
	rw.Success(resp)
}

// BanditArms serves GET /api/v1/bandit/users/{userID}/arms.
func (h *Handler) BanditArms(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	userID, err := pathUserID(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	states, err := h.bandit.ArmStates(r.Context(), userID)
	if err != nil {
		h.banditError(rw, err)
		return
	}
	rw.Success(ArmStatesResponse{UserID: userID, Arms: states})
}

// BanditStats serves GET /api/v1/bandit/users/{userID}/stats.
func (h *Handler) BanditStats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	userID, err := pathUserID(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	stats, err := h.bandit.Statistics(r.Context(), userID)
	if err != nil {
		h.banditError(rw, err)
		return
	}
	rw.Success(stats)
}

func (h *Handler) banditError(rw *ResponseWriter, err error) {
	switch {
	case errors.Is(err, bandit.ErrInvalidContext):
		rw.BadRequest(err.Error())
	case errors.Is(err, store.ErrNotFound):
		rw.NotFound(err.Error())
	case errors.Is(err, store.ErrRewardAlreadySet):
		rw.Conflict(err.Error())
	default:
		rw.StoreError(err)
	}
}
