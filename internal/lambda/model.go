// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package lambda

import (
	"context"
	"fmt"
	"sort"

	"github.com/tomtom215/marquee/internal/bandit"
	"github.com/tomtom215/marquee/internal/recommend"
	"github.com/tomtom215/marquee/internal/store"
)

// Model is the candidate-generation black box the serving and batch layers
// call. *recommend.Engine satisfies it.
type Model interface {
	Recommend(ctx context.Context, userID, limit int) ([]recommend.ScoredItem, error)
}

// Trainer is the part of the model the batch layer retrains and retunes.
// *recommend.Engine satisfies it.
type Trainer interface {
	Train(ctx context.Context, interactions []recommend.Interaction, items []recommend.Item) (*recommend.TrainingReport, error)
	RecalibrateWeights(successRates map[string]float64) recommend.AlgorithmWeights
	IsTrained() bool
}

// ArmStats supplies population-wide bandit beliefs. *bandit.Selector
// satisfies it.
type ArmStats interface {
	GlobalArmStates(ctx context.Context) ([]bandit.ArmState, error)
}

// ArmAlgorithms binds bandit arms to the engine algorithm whose weight the
// arm's success rate retunes. Arms without an entry do not map to a
// single algorithm.
var ArmAlgorithms = map[bandit.Arm]string{
	bandit.ArmCollaborative: recommend.AlgorithmCoVisit,
	bandit.ArmTrending:      recommend.AlgorithmPopularity,
	bandit.ArmContentBased:  recommend.AlgorithmContent,
}

// algorithmSuccessRates maps bound arms with at least one pull to their
// algorithm's success rate.
func algorithmSuccessRates(states []bandit.ArmState) map[string]float64 {
	rates := make(map[string]float64)
	for i := range states {
		alg, ok := ArmAlgorithms[states[i].Arm]
		if !ok || states[i].Pulls == 0 {
			continue
		}
		rates[alg] = states[i].SuccessRate
	}
	return rates
}

// StoreHistory adapts the event store to recommend.HistoryProvider.
type StoreHistory struct {
	Events store.EventStore

	// Window is how many recent ratings are returned.
	Window int
}

// UserHistory implements recommend.HistoryProvider.
func (h *StoreHistory) UserHistory(ctx context.Context, userID int) ([]recommend.Interaction, error) {
	events, err := h.Events.LatestUserRatings(ctx, userID, h.Window)
	if err != nil {
		return nil, fmt.Errorf("latest ratings for user %d: %w", userID, err)
	}
	out := make([]recommend.Interaction, 0, len(events))
	for i := range events {
		out = append(out, recommend.NewInteraction(events[i].UserID, events[i].ItemID, events[i].Rating, events[i].CreatedAt))
	}
	return out, nil
}

// corpusFromEvents turns rating events into training interactions and a
// catalogue. An item's genres are the union of what its events carried.
func corpusFromEvents(events []store.Event) ([]recommend.Interaction, []recommend.Item) {
	interactions := make([]recommend.Interaction, 0, len(events))
	genres := make(map[int]map[string]struct{})

	for i := range events {
		e := &events[i]
		if e.Kind != store.KindRating {
			continue
		}
		interactions = append(interactions, recommend.NewInteraction(e.UserID, e.ItemID, e.Rating, e.CreatedAt))
		set, ok := genres[e.ItemID]
		if !ok {
			set = make(map[string]struct{})
			genres[e.ItemID] = set
		}
		for _, g := range e.Genres {
			set[g] = struct{}{}
		}
	}

	items := make([]recommend.Item, 0, len(genres))
	for id, set := range genres {
		item := recommend.Item{ID: id}
		for g := range set {
			item.Genres = append(item.Genres, g)
		}
		sort.Strings(item.Genres)
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	return interactions, items
}
