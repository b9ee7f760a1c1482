// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package session implements the Session Orchestrator (C8): it drives the
// Idle -> Initiated -> Collecting -> Finishing -> Idle lifecycle, owns
// batching and ordering of recorded test results, and applies the
// record_batch failure policy uniformly whether the backing Store is local
// or reached over the Network Store (C9) — the backend is an interface, so
// the orchestrator itself never knows which.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kraklabs/ezmon/pkg/store"
)

// DefaultBatchSize is spec.md §4.8's "default batch size: 250 rows".
const DefaultBatchSize = 250

type state int

const (
	stateIdle state = iota
	stateInitiated
	stateCollecting
	stateFinishing
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateInitiated:
		return "initiated"
	case stateCollecting:
		return "collecting"
	case stateFinishing:
		return "finishing"
	default:
		return "unknown"
	}
}

// Backend is whatever record_batch ultimately writes through to: a local
// Store, or a Network Store client. Both satisfy this structurally.
type Backend interface {
	KnownFilenames(ctx context.Context) ([]string, error)
	RecordBatch(ctx context.Context, batch []store.TestExecution) error
	Finish(ctx context.Context, stats Stats) error
}

// Stats is the aggregate spec.md §4.8 asks finish() to commit.
type Stats struct {
	TotalTests        int
	SavedTests         int
	WallClockTimeSaved time.Duration
}

// Spiller persists a batch locally when record_batch permanently fails,
// per §4.8's failure policy ("falls back to deferring writes to a local
// spill file").
type Spiller interface {
	Spill(batch []store.TestExecution) error
}

// Orchestrator drives one session's lifecycle.
type Orchestrator struct {
	backend   Backend
	spiller   Spiller
	batchSize int
	logger    *slog.Logger

	mu         sync.Mutex
	st         state
	token      string
	totalTests int
	savedTests int
	started    time.Time
	spilled    int
}

// Config configures an Orchestrator.
type Config struct {
	Backend   Backend
	Spiller   Spiller
	BatchSize int
	Logger    *slog.Logger
}

// New creates an Orchestrator in the idle state.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Orchestrator{backend: cfg.Backend, spiller: cfg.Spiller, batchSize: batchSize, logger: logger, st: stateIdle}
}

// Initiate transitions idle -> initiated, minting a session token and
// fetching the backend's known filenames so the Dependency Tracker can
// short-circuit membership tests against files it has never observed.
func (o *Orchestrator) Initiate(ctx context.Context) (token string, knownFilenames []string, err error) {
	o.mu.Lock()
	if o.st != stateIdle {
		st := o.st
		o.mu.Unlock()
		return "", nil, fmt.Errorf("session: initiate from %s, want idle", st)
	}
	o.mu.Unlock()

	knownFilenames, err = o.backend.KnownFilenames(ctx)
	if err != nil {
		// initiate errors are fatal to the session but must not crash the
		// host test runner — the caller decides what "fatal to the
		// session" means for its process.
		return "", nil, fmt.Errorf("session: initiate: %w", err)
	}

	o.mu.Lock()
	o.token = uuid.NewString()
	o.started = time.Now()
	o.st = stateInitiated
	token = o.token
	o.mu.Unlock()

	o.logger.Info("orchestrator.session.initiate", "token", token, "known_files", len(knownFilenames))
	metrics.init()
	return token, knownFilenames, nil
}

// RecordBatch accepts up to batchSize test results at a time, splitting
// larger inputs via Batch. On the first call it transitions
// initiated -> collecting. Backend errors are retried with exponential
// backoff; on permanent failure the batch is spilled locally and a
// non-fatal warning is logged rather than returned as an error, per
// §4.8's failure policy.
func (o *Orchestrator) RecordBatch(ctx context.Context, results []store.TestExecution) error {
	o.mu.Lock()
	switch o.st {
	case stateInitiated:
		o.st = stateCollecting
	case stateCollecting:
	default:
		st := o.st
		o.mu.Unlock()
		return fmt.Errorf("session: record_batch from %s, want initiated or collecting", st)
	}
	o.totalTests += len(results)
	o.mu.Unlock()

	for _, batch := range Batch(results, o.batchSize) {
		if err := o.sendWithRetry(ctx, batch); err != nil {
			if o.spiller == nil {
				return err
			}
			if spillErr := o.spiller.Spill(batch); spillErr != nil {
				return fmt.Errorf("session: record_batch failed (%v) and spill failed (%v)", err, spillErr)
			}
			o.mu.Lock()
			o.spilled += len(batch)
			o.mu.Unlock()
			o.logger.Warn("orchestrator.session.spilled", "rows", len(batch), "cause", err)
		}
	}
	return nil
}

func (o *Orchestrator) sendWithRetry(ctx context.Context, batch []store.TestExecution) error {
	const maxAttempts = 5
	delay := 100 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}
		err := o.backend.RecordBatch(ctx, batch)
		if err == nil {
			metrics.recordTestsSelected(len(batch))
			return nil
		}
		lastErr = err
		metrics.recordRetry()
		o.logger.Warn("orchestrator.session.record_batch.retry", "attempt", attempt+1, "err", err)
	}
	return lastErr
}

// Finish transitions collecting -> finishing -> idle, committing
// aggregate statistics through the backend's Finish. No cleanup step runs
// as part of Finish: LocalBackend and the Network Store server only store
// the statistics.
// savedTests is the number of tests the caller chose not to run (the
// unaffected + unknown-but-skipped counts); wallClockSaved is the
// estimated time those tests would otherwise have taken.
func (o *Orchestrator) Finish(ctx context.Context, savedTests int, wallClockSaved time.Duration) error {
	o.mu.Lock()
	if o.st != stateCollecting && o.st != stateInitiated {
		st := o.st
		o.mu.Unlock()
		return fmt.Errorf("session: finish from %s, want collecting", st)
	}
	o.st = stateFinishing
	o.savedTests = savedTests
	stats := Stats{TotalTests: o.totalTests, SavedTests: o.savedTests, WallClockTimeSaved: wallClockSaved}
	spilled := o.spilled
	o.mu.Unlock()

	err := o.backend.Finish(ctx, stats)

	o.mu.Lock()
	o.st = stateIdle
	o.mu.Unlock()

	if err != nil {
		return fmt.Errorf("session: finish: %w", err)
	}
	elapsed := time.Since(o.started)
	metrics.init()
	metrics.duration.Observe(elapsed.Seconds())
	o.logger.Info("orchestrator.session.finish",
		"total_tests", stats.TotalTests,
		"saved_tests", stats.SavedTests,
		"wall_clock_saved", stats.WallClockTimeSaved,
		"spilled_rows", spilled,
		"duration", elapsed)
	return nil
}
