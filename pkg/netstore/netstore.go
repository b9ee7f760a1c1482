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

// Package netstore implements the Network Store (C9): an RPC facade over
// the Store (C6), reached by a client that plugs into pkg/session.Backend
// the same way pkg/session.LocalBackend does for the embedded path.
package netstore

import "github.com/kraklabs/ezmon/pkg/store"

// gzipThresholdBytes is the request/response body size above which the
// wire format switches to gzip, per spec.md §4.9. This is independent of
// internal/contract.SoftLimitBytes, which bounds the uncompressed payload
// size a request is allowed to reach at all.
const gzipThresholdBytes = 1024

// InitiateRequest is the body of POST /api/rpc/session/initiate.
type InitiateRequest struct {
	Environment InitiateEnvironment `json:"environment"`
}

// InitiateEnvironment is the environment descriptor the server resolves
// via Store.FetchOrCreateEnvironment.
type InitiateEnvironment struct {
	Name            string `json:"name"`
	SystemPackages  string `json:"system_packages"`
	LanguageVersion string `json:"language_version"`
}

// InitiateResponse is returned by initiate; SessionID doubles as the
// X-Session-Id header value on every subsequent request in the session.
type InitiateResponse struct {
	SessionID      string   `json:"session_id"`
	EnvironmentID  int64    `json:"environment_id"`
	KnownFilenames []string `json:"known_filenames"`
}

// RecordBatchRequest is the body of POST /api/rpc/session/record_batch.
type RecordBatchRequest struct {
	Batch []store.TestExecution `json:"batch"`
}

// FinishRequest is the body of POST /api/rpc/session/finish.
type FinishRequest struct {
	TotalTests       int   `json:"total_tests"`
	SavedTests       int   `json:"saved_tests"`
	WallClockSavedNS int64 `json:"wall_clock_saved_ns"`
	Interrupted      bool  `json:"interrupted,omitempty"`
	SkipHistory      bool  `json:"skip_history,omitempty"`
}
