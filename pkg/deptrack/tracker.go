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

// Package deptrack implements the Dependency Tracker (C4): it observes
// non-source file reads and package imports during test collection and
// execution, and attributes them to whichever test or test file is
// currently active.
//
// Go has no runtime import-hook or file-open-hook mechanism equivalent to a
// dynamic language's module loader, so the hooks this package exposes
// (RecordImport, RecordFileOpen) are called explicitly by instrumentation
// the host test binary installs — e.g. a wrapped os.Open, or a build-time
// rewrite that threads package references through the Tracker. This mirrors
// the teacher's own git-plumbing approach to change detection: shell out to
// and trust the real git lookup rather than reimplement git's object model.
package deptrack

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

type state int

const (
	stateIdle state = iota
	stateCollecting
	stateExecuting
)

// FileDep is a recorded non-source file dependency at its committed SHA.
type FileDep struct {
	Path string
	SHA  string
}

// ExternalDep is a recorded third-party package dependency.
type ExternalDep struct {
	Package string
	Version string
}

// Observation is everything recorded against one key (a test id or, during
// collection, a test file path).
type Observation struct {
	FileDeps     []FileDep
	LocalImports []string
	ExternalDeps []ExternalDep
}

func (o *Observation) addFileDep(path, sha string) {
	for _, d := range o.FileDeps {
		if d.Path == path && d.SHA == sha {
			return
		}
	}
	o.FileDeps = append(o.FileDeps, FileDep{Path: path, SHA: sha})
}

func (o *Observation) addLocalImport(path string) {
	for _, p := range o.LocalImports {
		if p == path {
			return
		}
	}
	o.LocalImports = append(o.LocalImports, path)
}

func (o *Observation) addExternalDep(pkg, version string) {
	for i, d := range o.ExternalDeps {
		if d.Package == pkg {
			o.ExternalDeps[i].Version = version
			return
		}
	}
	o.ExternalDeps = append(o.ExternalDeps, ExternalDep{Package: pkg, Version: version})
}

// BlobResolver looks up a path's committed blob SHA, per invariant I4.
type BlobResolver interface {
	BlobSHA(path string) (sha string, ok bool, err error)
}

// PackageResolver classifies an import path as local-to-the-project,
// external-with-a-resolvable-version, or neither (stdlib, unresolvable).
type PackageResolver interface {
	// Resolve returns (isLocal, externalVersion, ok). When isLocal is true
	// externalVersion is ignored; when ok is false the import is part of
	// the standard library or otherwise not trackable.
	Resolve(importPath string) (isLocal bool, externalVersion string, ok bool)
}

// Tracker implements the idle/collecting/executing state machine of
// spec.md §4.4. The zero value is not usable; construct with New.
type Tracker struct {
	logger      *slog.Logger
	projectRoot string
	blobs       BlobResolver
	packages    PackageResolver
	isSource    func(path string) bool

	mu                sync.Mutex
	st                state
	collectionContext string // set via SetCollectionContext during `collecting`
	currentTestID     string // set via Start during `executing`
	results           map[string]*Observation
}

// New creates a Dependency Tracker. isSource reports whether a project-
// relative path is a source file (source files are never recorded as file
// dependencies, only as imports).
func New(projectRoot string, blobs BlobResolver, packages PackageResolver, isSource func(path string) bool, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger:      logger,
		projectRoot: projectRoot,
		blobs:       blobs,
		packages:    packages,
		isSource:    isSource,
		st:          stateIdle,
		results:     make(map[string]*Observation),
	}
}

// StartCollection transitions idle -> collecting.
func (t *Tracker) StartCollection() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.st != stateIdle {
		return fmt.Errorf("deptrack: StartCollection: not idle (state=%d)", t.st)
	}
	t.st = stateCollecting
	t.logger.Debug("deptrack.collection.start")
	return nil
}

// StopCollection transitions collecting -> idle.
func (t *Tracker) StopCollection() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.st != stateCollecting {
		return fmt.Errorf("deptrack: StopCollection: not collecting (state=%d)", t.st)
	}
	t.st = stateIdle
	t.collectionContext = ""
	t.logger.Debug("deptrack.collection.stop")
	return nil
}

// SetCollectionContext sets the test file that subsequent imports/file
// opens are attributed to, while in the collecting state. A no-op outside
// collecting, since attribution during collection is optional tooling, not
// a correctness requirement the caller must check.
func (t *Tracker) SetCollectionContext(file string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.st != stateCollecting {
		return
	}
	t.collectionContext = file
}

// Start transitions idle -> executing, attributing subsequent events to
// testID.
func (t *Tracker) Start(testID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.st != stateIdle {
		return fmt.Errorf("deptrack: Start: not idle (state=%d)", t.st)
	}
	t.st = stateExecuting
	t.currentTestID = testID
	return nil
}

// Stop transitions executing -> idle and returns the accumulated
// Observation for the test that just finished (zero value if nothing was
// recorded).
func (t *Tracker) Stop() (Observation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.st != stateExecuting {
		return Observation{}, fmt.Errorf("deptrack: Stop: not executing (state=%d)", t.st)
	}
	t.st = stateIdle
	testID := t.currentTestID
	t.currentTestID = ""
	if obs, ok := t.results[testID]; ok {
		return *obs, nil
	}
	return Observation{}, nil
}

// currentKey returns the key events should be attributed to, or "" if
// nothing is active (events are silently dropped when nothing is active).
func (t *Tracker) currentKey() string {
	switch t.st {
	case stateExecuting:
		return t.currentTestID
	case stateCollecting:
		return t.collectionContext
	default:
		return ""
	}
}

func (t *Tracker) observation(key string) *Observation {
	obs, ok := t.results[key]
	if !ok {
		obs = &Observation{}
		t.results[key] = obs
	}
	return obs
}

// RecordImport observes a resolved module import. The tracker never
// surfaces an error to the caller: a resolution failure is silently
// dropped, matching §4.4's "must not surface errors to the test body."
func (t *Tracker) RecordImport(importPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := t.currentKey()
	if key == "" || t.packages == nil {
		return
	}
	isLocal, version, ok := t.packages.Resolve(importPath)
	if !ok {
		return
	}
	obs := t.observation(key)
	if isLocal {
		obs.addLocalImport(importPath)
	} else {
		obs.addExternalDep(importPath, version)
	}
}

// RecordFileOpen observes a file opened for read. It is recorded as a
// FileDep only if the path is inside the project, is not a source file,
// and has a committed blob hash at HEAD; any failure to resolve (outside
// the project, uncommitted, not a git repo) is silently dropped.
func (t *Tracker) RecordFileOpen(path string) {
	t.mu.Lock()
	key := t.currentKey()
	t.mu.Unlock()
	if key == "" {
		return
	}
	if t.isSource != nil && t.isSource(path) {
		return
	}
	if t.blobs == nil {
		return
	}
	sha, ok, err := t.blobs.BlobSHA(path)
	if err != nil || !ok {
		if err != nil {
			t.logger.Debug("deptrack.file_open.unresolved", "path", path, "err", err)
		}
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Re-derive the key under lock in case state moved between the first
	// check and here; if it did, the event belongs to no one.
	key = t.currentKey()
	if key == "" {
		return
	}
	t.observation(key).addFileDep(path, sha)
}

// Results returns a copy of every key observed so far (test ids from
// executing, test-file paths from collecting) as a map; use Keys for a
// sorted key list.
func (t *Tracker) Results() map[string]Observation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Observation, len(t.results))
	for k, v := range t.results {
		out[k] = *v
	}
	return out
}

// Keys returns the sorted set of keys currently recorded.
func (t *Tracker) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.results))
	for k := range t.results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
