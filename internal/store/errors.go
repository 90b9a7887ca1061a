// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches every NotFoundError via errors.Is.
	ErrNotFound = errors.New("not found")

	// ErrRewardAlreadySet is returned when an experiment is rewarded twice.
	ErrRewardAlreadySet = errors.New("experiment reward already set")

	// ErrInvalidRecord is returned for records an implementation refuses to
	// append.
	ErrInvalidRecord = errors.New("invalid record")
)

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Is makes errors.Is(err, ErrNotFound) hold.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// SerializationError wraps an encode/decode failure in a backend.
type SerializationError struct {
	Operation string
	Cause     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error during %s: %v", e.Operation, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

// ValidateEvent checks the fields every backend requires.
func ValidateEvent(e *Event) error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidRecord)
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown event kind %q", ErrInvalidRecord, e.Kind)
	}
	if e.UserID <= 0 {
		return fmt.Errorf("%w: user id must be positive, got %d", ErrInvalidRecord, e.UserID)
	}
	if e.Kind != KindPreference && e.ItemID <= 0 {
		return fmt.Errorf("%w: %s event needs an item id", ErrInvalidRecord, e.Kind)
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("%w: event timestamp is required", ErrInvalidRecord)
	}
	return nil
}

// ValidateExperiment checks the fields every backend requires on append.
func ValidateExperiment(exp *Experiment) error {
	if exp == nil {
		return fmt.Errorf("%w: nil experiment", ErrInvalidRecord)
	}
	if exp.Reward != nil || exp.RewardedAt != nil {
		return fmt.Errorf("%w: experiment must be appended without a reward", ErrInvalidRecord)
	}
	if exp.UserID <= 0 {
		return fmt.Errorf("%w: user id must be positive, got %d", ErrInvalidRecord, exp.UserID)
	}
	if exp.Arm == "" {
		return fmt.Errorf("%w: experiment arm is required", ErrInvalidRecord)
	}
	if exp.CreatedAt.IsZero() {
		return fmt.Errorf("%w: experiment timestamp is required", ErrInvalidRecord)
	}
	return nil
}
