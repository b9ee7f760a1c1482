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

// Package store implements the Store (C6): a transactional relational
// persistence layer for environments, file fingerprints, test executions,
// and their link tables, built on a pure-Go SQLite driver so the binary
// that embeds it stays cgo-free.
package store

// Environment is a (name, system_packages, language_version) tuple.
// Identity is the whole tuple: a changed system_packages_descriptor
// produces a new row, never an update of the old one (spec.md I5).
type Environment struct {
	ID                 int64
	Name               string
	SystemPackages     string
	LanguageVersion    string
}

// FileFingerprint is a persisted (filename, checksums) observation.
// Identity is (filename, checksums); rows are deduplicated by the store.
type FileFingerprint struct {
	ID          int64
	Filename    string
	Checksums   []uint32
	Mtime       float64
	ContentHash string
}

// TestExecution is one (environment, test) row plus its metadata. One row
// per (env_id, test_id) is kept current.
type TestExecution struct {
	ID       int64
	EnvID    int64
	TestID   string
	Duration float64
	Failed   bool
	Forced   bool

	// Fingerprints, FileDeps, and ExternalDeps are populated on read by
	// operations that need the full picture (e.g. the Selector); InsertTestExecutions
	// accepts them as input to build the link rows.
	Fingerprints []FileFingerprint
	FileDeps     []FileDependency
	ExternalDeps []ExternalDep
}

// FileDependency is a non-source file dependency pinned to its committed
// git blob SHA.
type FileDependency struct {
	ID       int64
	Filename string
	SHA      string
}

// ExternalDep is a third-party package dependency of one TestExecution.
type ExternalDep struct {
	TestExecutionID int64
	PackageName     string
	PackageVersion  string
}

// DependencyEdge is an append-only, per-run-deduplicated edge in the
// project's dependency graph.
type DependencyEdge struct {
	SourceFile string
	Target     string // a file path or an external package name
	Kind       string // "local" or "external"
	RunTag     string
}
