// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package bandit

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/marquee/internal/store"
)

const (
	TimeMorning   = "morning"
	TimeAfternoon = "afternoon"
	TimeEvening   = "evening"
	TimeNight     = "night"

	DayWeekday = "weekday"
	DayWeekend = "weekend"
)

// maxRecentGenres bounds the genre list carried into a context snapshot.
const maxRecentGenres = 10

// UserContext describes the user's situation at selection time. It is
// never stored on its own, only as part of a logged experiment.
type UserContext struct {
	UserID                 int      `json:"user_id" validate:"gt=0"`
	TimeOfDay              string   `json:"time_of_day" validate:"oneof=morning afternoon evening night"`
	DayOfWeek              string   `json:"day_of_week" validate:"oneof=weekday weekend"`
	SessionDuration        float64  `json:"session_duration" validate:"gte=0"`
	RecentGenres           []string `json:"recent_genres,omitempty"`
	RecentInteractionCount int      `json:"recent_interaction_count" validate:"gte=0"`
	DeviceType             string   `json:"device_type,omitempty" validate:"omitempty,max=32"`
	Mood                   string   `json:"mood,omitempty" validate:"omitempty,max=32"`
}

// Snapshot converts the context into the form stored on an experiment.
func (uc *UserContext) Snapshot() store.ExperimentContext {
	return store.ExperimentContext{
		TimeOfDay:              uc.TimeOfDay,
		DayOfWeek:              uc.DayOfWeek,
		SessionDuration:        uc.SessionDuration,
		RecentGenres:           append([]string(nil), uc.RecentGenres...),
		RecentInteractionCount: uc.RecentInteractionCount,
		DeviceType:             uc.DeviceType,
		Mood:                   uc.Mood,
	}
}

// TimeOfDay buckets the hour: morning 05-11, afternoon 12-16,
// evening 17-21, night otherwise.
func TimeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return TimeMorning
	case h >= 12 && h < 17:
		return TimeAfternoon
	case h >= 17 && h < 22:
		return TimeEvening
	default:
		return TimeNight
	}
}

// DayOfWeek returns weekend for Saturday and Sunday.
func DayOfWeek(t time.Time) string {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return DayWeekend
	default:
		return DayWeekday
	}
}

// contextualBoost returns the boost in [0, 1] the rule table grants arm
// under uc.
func contextualBoost(arm Arm, uc *UserContext) float64 {
	var boost float64
	switch arm {
	case ArmNeural:
		if uc.RecentInteractionCount > 10 {
			boost += 0.3
		}
	case ArmCollaborative:
		if uc.DayOfWeek == DayWeekend {
			boost += 0.2
		}
	case ArmTrending:
		if uc.TimeOfDay == TimeEvening {
			boost += 0.25
		}
	case ArmContentBased:
		if uc.RecentInteractionCount < 5 {
			boost += 0.4
		}
	case ArmExploration:
		if uc.SessionDuration < 5 {
			boost += 0.3
		}
	case ArmDynamicWeighting:
		if uc.SessionDuration > 15 {
			boost += 0.25
		}
	}
	return min(boost, 1.0)
}

// ContextRequest carries the caller-supplied parts of a UserContext.
type ContextRequest struct {
	UserID          int     `json:"user_id" validate:"gt=0"`
	SessionDuration float64 `json:"session_duration" validate:"gte=0"`
	DeviceType      string  `json:"device_type,omitempty" validate:"omitempty,max=32"`
	Mood            string  `json:"mood,omitempty" validate:"omitempty,max=32"`
}

// BuildContext derives a UserContext from the clock and the user's events
// within the lookback window.
func (s *Selector) BuildContext(ctx context.Context, req ContextRequest) (*UserContext, error) {
	now := s.now()
	events, err := s.events.UserEventsSince(ctx, req.UserID, now.Add(-s.lookback))
	if err != nil {
		return nil, fmt.Errorf("load recent events: %w", err)
	}

	uc := &UserContext{
		UserID:                 req.UserID,
		TimeOfDay:              TimeOfDay(now),
		DayOfWeek:              DayOfWeek(now),
		SessionDuration:        req.SessionDuration,
		RecentInteractionCount: len(events),
		DeviceType:             req.DeviceType,
		Mood:                   req.Mood,
	}

	seen := make(map[string]struct{})
	for i := range events {
		if uc.DeviceType == "" && events[i].Device != "" {
			uc.DeviceType = events[i].Device
		}
		for _, g := range events[i].Genres {
			if _, ok := seen[g]; ok || len(uc.RecentGenres) >= maxRecentGenres {
				continue
			}
			seen[g] = struct{}{}
			uc.RecentGenres = append(uc.RecentGenres, g)
		}
	}
	return uc, nil
}
