// Marquee - Adaptive Recommendation Serving
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

// Package badger is the durable store.Store backed by BadgerDB.
//
// Records are JSON values under prefixed keys. Timestamps in keys are
// zero-padded Unix nanoseconds so lexical order is chronological, which lets
// the recency windows run as reverse prefix scans that stop at the window
// edge.
//
//	rating:<ts>:<id>           rating event (population-wide corpus)
//	uev:<user>:<ts>:<id>       any event of one user
//	active:<user>              last activity timestamp (8 bytes, big endian)
//	sig:<user>:<ts>:<id>       speed-layer reward signal
//	exp:<id>                   experiment row
//	uexp:<user>:<ts>:<id>      per-user experiment index
//	aexp:<ts>:<id>             chronological experiment index
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/marquee/internal/store"
)

// Config holds BadgerDB options.
type Config struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in RAM.
	InMemory bool

	// SyncWrites fsyncs on every commit.
	SyncWrites bool
}

// Store implements store.Store on BadgerDB.
type Store struct {
	db *badger.DB
}

var _ store.Store = (*Store)(nil)

// maxConflictRetries bounds retries of read-modify-write transactions that
// lose an optimistic-concurrency race.
const maxConflictRetries = 5

// Open opens (or creates) the database.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
		opts.SyncWrites = cfg.SyncWrites
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunValueLogGC reclaims value-log space. It returns nil when there was
// nothing to collect or the database is in-memory.
func (s *Store) RunValueLogGC(discardRatio float64) error {
	if s.db.IsClosed() {
		return nil
	}
	for {
		err := s.db.RunValueLogGC(discardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func tsKey(t time.Time) string {
	return fmt.Sprintf("%020d", t.UnixNano())
}

func ratingKey(e *store.Event) []byte {
	return []byte("rating:" + tsKey(e.CreatedAt) + ":" + e.ID)
}

func userEventPrefix(userID int) []byte {
	return []byte(fmt.Sprintf("uev:%010d:", userID))
}

func userEventKey(e *store.Event) []byte {
	return append(userEventPrefix(e.UserID), tsKey(e.CreatedAt)+":"+e.ID...)
}

func activeKey(userID int) []byte {
	return []byte(fmt.Sprintf("active:%010d", userID))
}

func signalPrefix(userID int) []byte {
	return []byte(fmt.Sprintf("sig:%010d:", userID))
}

func experimentKey(id string) []byte {
	return []byte("exp:" + id)
}

func userExperimentPrefix(userID int) []byte {
	return []byte(fmt.Sprintf("uexp:%010d:", userID))
}

var (
	prefixRating     = []byte("rating:")
	prefixActive     = []byte("active:")
	prefixExperiment = []byte("exp:")
	prefixAllExp     = []byte("aexp:")
)

func encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &store.SerializationError{Operation: "marshal", Cause: err}
	}
	return data, nil
}

func decode(item *badger.Item, v interface{}) error {
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return &store.SerializationError{Operation: "unmarshal", Cause: err}
		}
		return nil
	})
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// scanNewest walks keys under prefix from the largest down. fn returns false
// to stop.
func scanNewest(txn *badger.Txn, prefix []byte, prefetch bool, fn func(item *badger.Item) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = prefix
	opts.PrefetchValues = prefetch

	it := txn.NewIterator(opts)
	defer it.Close()

	seek := append(append([]byte{}, prefix...), 0xFF)
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		more, err := fn(it.Item())
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// scanOldest walks keys under prefix in ascending order.
func scanOldest(txn *badger.Txn, prefix []byte, prefetch bool, fn func(item *badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = prefetch

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := fn(it.Item()); err != nil {
			return err
		}
	}
	return nil
}

// AppendEvent implements store.EventStore.
func (s *Store) AppendEvent(_ context.Context, e *store.Event) error {
	if err := store.ValidateEvent(e); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	data, err := encode(e)
	if err != nil {
		return err
	}

	return s.update(func(txn *badger.Txn) error {
		if e.Kind == store.KindRating {
			if err := txn.Set(ratingKey(e), data); err != nil {
				return err
			}
		}
		if err := txn.Set(userEventKey(e), data); err != nil {
			return err
		}
		return touchActive(txn, e.UserID, e.CreatedAt)
	})
}

// touchActive advances the user's last-activity stamp; it never moves back.
func touchActive(txn *badger.Txn, userID int, at time.Time) error {
	key := activeKey(userID)
	item, err := txn.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return err
	default:
		var last int64
		if err := item.Value(func(val []byte) error {
			last = int64(binary.BigEndian.Uint64(val))
			return nil
		}); err != nil {
			return err
		}
		if last >= at.UnixNano() {
			return nil
		}
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(at.UnixNano()))
	return txn.Set(key, buf)
}

func (s *Store) collectEvents(prefix []byte, keep func(*store.Event) (take, more bool), limit int) ([]store.Event, error) {
	out := make([]store.Event, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		return scanNewest(txn, prefix, true, func(item *badger.Item) (bool, error) {
			if limit >= 0 && len(out) >= limit {
				return false, nil
			}
			var e store.Event
			if err := decode(item, &e); err != nil {
				return false, err
			}
			take, more := keep(&e)
			if take {
				out = append(out, e)
			}
			return more, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecentRatings implements store.EventStore.
func (s *Store) RecentRatings(_ context.Context, limit int) ([]store.Event, error) {
	return s.collectEvents(prefixRating, func(*store.Event) (bool, bool) { return true, true }, limit)
}

// UserRatingsSince implements store.EventStore.
func (s *Store) UserRatingsSince(_ context.Context, userID int, since time.Time) ([]store.Event, error) {
	return s.collectEvents(userEventPrefix(userID), func(e *store.Event) (bool, bool) {
		if e.CreatedAt.Before(since) {
			return false, false
		}
		return e.Kind == store.KindRating, true
	}, -1)
}

// LatestUserRatings implements store.EventStore.
func (s *Store) LatestUserRatings(_ context.Context, userID, n int) ([]store.Event, error) {
	return s.collectEvents(userEventPrefix(userID), func(e *store.Event) (bool, bool) {
		return e.Kind == store.KindRating, true
	}, n)
}

// UserEventsSince implements store.EventStore.
func (s *Store) UserEventsSince(_ context.Context, userID int, since time.Time) ([]store.Event, error) {
	return s.collectEvents(userEventPrefix(userID), func(e *store.Event) (bool, bool) {
		if e.CreatedAt.Before(since) {
			return false, false
		}
		return true, true
	}, -1)
}

// ActiveUsersSince implements store.EventStore.
func (s *Store) ActiveUsersSince(_ context.Context, since time.Time, limit int) ([]int, error) {
	type activity struct {
		user int
		at   int64
	}
	var active []activity
	cutoff := since.UnixNano()

	err := s.db.View(func(txn *badger.Txn) error {
		return scanOldest(txn, prefixActive, true, func(item *badger.Item) error {
			user, err := strconv.Atoi(string(item.Key()[len(prefixActive):]))
			if err != nil {
				return fmt.Errorf("parse active key %q: %w", item.Key(), err)
			}
			return item.Value(func(val []byte) error {
				if at := int64(binary.BigEndian.Uint64(val)); at >= cutoff {
					active = append(active, activity{user: user, at: at})
				}
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(active, func(i, j int) bool { return active[i].at > active[j].at })
	if limit >= 0 && len(active) > limit {
		active = active[:limit]
	}
	users := make([]int, len(active))
	for i := range active {
		users[i] = active[i].user
	}
	return users, nil
}

// AppendSignal implements store.SignalStore.
func (s *Store) AppendSignal(_ context.Context, sig *store.Signal) error {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	data, err := encode(sig)
	if err != nil {
		return err
	}
	key := append(signalPrefix(sig.UserID), tsKey(sig.CreatedAt)+":"+sig.ID...)
	return s.update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// UserSignals implements store.SignalStore.
func (s *Store) UserSignals(_ context.Context, userID int, since time.Time) ([]store.Signal, error) {
	out := make([]store.Signal, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		return scanNewest(txn, signalPrefix(userID), true, func(item *badger.Item) (bool, error) {
			var sig store.Signal
			if err := decode(item, &sig); err != nil {
				return false, err
			}
			if sig.CreatedAt.Before(since) {
				return false, nil
			}
			out = append(out, sig)
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendExperiment implements store.ExperimentStore.
func (s *Store) AppendExperiment(_ context.Context, exp *store.Experiment) error {
	if err := store.ValidateExperiment(exp); err != nil {
		return err
	}
	if exp.ID == "" {
		exp.ID = uuid.NewString()
	}
	data, err := encode(exp)
	if err != nil {
		return err
	}
	id := []byte(exp.ID)
	ts := tsKey(exp.CreatedAt)

	return s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(experimentKey(exp.ID)); err == nil {
			return fmt.Errorf("%w: duplicate experiment id %s", store.ErrInvalidRecord, exp.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(experimentKey(exp.ID), data); err != nil {
			return err
		}
		if err := txn.Set(append(userExperimentPrefix(exp.UserID), ts+":"+exp.ID...), id); err != nil {
			return err
		}
		return txn.Set(append(append([]byte{}, prefixAllExp...), ts+":"+exp.ID...), id)
	})
}

func getExperiment(txn *badger.Txn, id string) (*store.Experiment, error) {
	item, err := txn.Get(experimentKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, &store.NotFoundError{Entity: "experiment", ID: id}
	}
	if err != nil {
		return nil, err
	}
	var exp store.Experiment
	if err := decode(item, &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

// GetExperiment implements store.ExperimentStore.
func (s *Store) GetExperiment(_ context.Context, id string) (*store.Experiment, error) {
	var exp *store.Experiment
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		exp, err = getExperiment(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return exp, nil
}

// SetReward implements store.ExperimentStore. The read and the write share
// one transaction, so two racing rewards cannot both commit.
func (s *Store) SetReward(_ context.Context, id string, reward float64, outcome string, at time.Time) (*store.Experiment, error) {
	var patched *store.Experiment
	err := s.update(func(txn *badger.Txn) error {
		exp, err := getExperiment(txn, id)
		if err != nil {
			return err
		}
		if exp.Reward != nil {
			return store.ErrRewardAlreadySet
		}
		exp.Reward = &reward
		exp.RewardedAt = &at
		exp.Context.Outcome = outcome

		data, err := encode(exp)
		if err != nil {
			return err
		}
		if err := txn.Set(experimentKey(id), data); err != nil {
			return err
		}
		patched = exp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return patched, nil
}

func (s *Store) listIndexed(prefix []byte) ([]store.Experiment, error) {
	out := make([]store.Experiment, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		return scanOldest(txn, prefix, true, func(item *badger.Item) error {
			id, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			exp, err := getExperiment(txn, string(id))
			if err != nil {
				return err
			}
			out = append(out, *exp)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListUserExperiments implements store.ExperimentStore.
func (s *Store) ListUserExperiments(_ context.Context, userID int) ([]store.Experiment, error) {
	return s.listIndexed(userExperimentPrefix(userID))
}

// ListExperiments implements store.ExperimentStore.
func (s *Store) ListExperiments(_ context.Context) ([]store.Experiment, error) {
	return s.listIndexed(prefixAllExp)
}

// CountExperiments implements store.ExperimentStore.
func (s *Store) CountExperiments(_ context.Context) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		return scanOldest(txn, prefixExperiment, false, func(*badger.Item) error {
			n++
			return nil
		})
	})
	return n, err
}
