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

import "github.com/kraklabs/ezmon/pkg/store"

// Batch splits results into chunks of at most size rows each, preserving
// order — the row-count analogue of pkg/ingestion's Batcher, simplified
// because a TestExecution row has no nested statement syntax to track the
// way a Datalog mutation script does; a straight count split is sufficient
// here since each row is already a self-contained wire unit.
func Batch(results []store.TestExecution, size int) [][]store.TestExecution {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if len(results) == 0 {
		return nil
	}
	var batches [][]store.TestExecution
	for start := 0; start < len(results); start += size {
		end := start + size
		if end > len(results) {
			end = len(results)
		}
		batches = append(batches, results[start:end])
	}
	return batches
}
