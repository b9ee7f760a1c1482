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

package session

import (
	"context"
	"strconv"

	"github.com/kraklabs/ezmon/pkg/store"
)

// LocalBackend adapts a *store.Store to the Backend interface for one
// environment, used when NET_ENABLED is unset and ezmon talks directly to
// its embedded SQLite store rather than a Network Store server.
type LocalBackend struct {
	Store *store.Store
	EnvID int64
}

func (b *LocalBackend) KnownFilenames(ctx context.Context) ([]string, error) {
	return b.Store.KnownFilenames(ctx, b.EnvID)
}

func (b *LocalBackend) RecordBatch(ctx context.Context, batch []store.TestExecution) error {
	return b.Store.InsertTestExecutions(ctx, b.EnvID, batch)
}

// Finish commits the run's metadata; the local Store has no separate
// aggregate-statistics table, so the summary is stored under well-known
// metadata keys for the next `ezmon` invocation's reporting.
func (b *LocalBackend) Finish(ctx context.Context, stats Stats) error {
	if err := b.Store.WriteMetadata(ctx, "last_run_total_tests", strconv.Itoa(stats.TotalTests)); err != nil {
		return err
	}
	if err := b.Store.WriteMetadata(ctx, "last_run_saved_tests", strconv.Itoa(stats.SavedTests)); err != nil {
		return err
	}
	return b.Store.WriteMetadata(ctx, "last_run_wall_clock_saved_ns", strconv.FormatInt(stats.WallClockTimeSaved.Nanoseconds(), 10))
}
