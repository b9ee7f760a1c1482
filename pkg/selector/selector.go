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

// Package selector implements the Selector (C7): on session start, it
// classifies every file referenced by stored fingerprints as unchanged or
// changed, then partitions every known test into affected, unaffected, and
// unknown sets.
package selector

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/ezmon/pkg/store"
)

// SourceCache is the subset of *sourcecache.Cache the Selector needs.
type SourceCache interface {
	GetContentHash(path string) (string, error)
	GetModule(path string) (ModuleFile, error)
}

// ModuleFile is the subset of *block.File the Selector needs, named
// independently so callers can pass a *block.File directly (it satisfies
// this interface) without an import cycle between selector and block.
type ModuleFile interface {
	Checksums() []uint32
}

// BlobResolver resolves a path's current committed blob SHA, used to
// recheck FileDependency entries the same way pkg/deptrack recorded them.
type BlobResolver interface {
	BlobSHA(path string) (sha string, ok bool, err error)
}

// PackageVersions resolves a package's currently installed version.
type PackageVersions interface {
	InstalledVersion(pkg string) (version string, ok bool)
}

// Selection is the partition of every known test into three disjoint sets,
// plus the ordering the caller should run `Affected` in.
type Selection struct {
	Affected   []string
	Unaffected []string
	Unknown    []string
}

// Selector classifies tests for one environment, given its current
// TestExecutions from the Store.
type Selector struct {
	db       *store.Store
	cache    SourceCache
	blobs    BlobResolver
	packages PackageVersions
	logger   *slog.Logger
}

// Deps bundles the Selector's collaborators.
type Deps struct {
	Store    *store.Store
	Cache    SourceCache
	Blobs    BlobResolver
	Packages PackageVersions
	Logger   *slog.Logger
}

// New creates a Selector.
func New(d Deps) *Selector {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{db: d.Store, cache: d.Cache, blobs: d.Blobs, packages: d.Packages, logger: logger}
}

// Select loads every TestExecution stored for envID and classifies them
// against allTestIDs (the test ids the current collection pass discovered);
// see the package-level Select for the algorithm.
func (s *Selector) Select(ctx context.Context, envID int64, allTestIDs []string, opts Options) (Selection, error) {
	executions, err := s.db.TestExecutionsForEnv(ctx, envID)
	if err != nil {
		return Selection{}, err
	}
	return Select(ctx, executions, allTestIDs, s.cache, s.blobs, s.packages, opts)
}

// Options tunes one Select call.
type Options struct {
	// AlwaysRun is a set of test ids that are always emitted as affected,
	// regardless of fingerprint comparison (§4.7 ordering tier 2).
	AlwaysRun map[string]struct{}
	// PriorityList orders affected tests that are neither previously
	// failing nor always-run (§4.7 ordering tier 3).
	PriorityList []string
}

// testRecord is the subset of store.TestExecution the classification and
// ordering passes need, kept separate from store.TestExecution so this
// package's core algorithm has no direct dependency on the store's schema
// beyond what Deps.Store supplies.
type testRecord struct {
	testID   string
	failed   bool
	duration float64
	affected bool
}

// Select implements §4.7 steps 1-6 plus the ordering rule. allTestIDs is
// the full set of test ids the current collection pass discovered; any id
// in it with no corresponding row in executions is unknown (step 5).
func Select(ctx context.Context, executions []store.TestExecution, allTestIDs []string, cache SourceCache, blobs BlobResolver, packages PackageVersions, opts Options) (Selection, error) {
	changedPaths, err := changedPaths(cache, executions)
	if err != nil {
		return Selection{}, err
	}

	currentByPath := make(map[string][]uint32, len(changedPaths))
	for path := range changedPaths {
		mod, err := cache.GetModule(path)
		if err != nil {
			// Absent/unparseable files are treated as changed with an empty
			// block set, per §4.7 step 2 — every dependent test on them
			// becomes affected since no fingerprint can be a subset of nothing.
			currentByPath[path] = nil
			continue
		}
		currentByPath[path] = mod.Checksums()
	}

	seen := make(map[string]struct{}, len(executions))
	var known []testRecord
	for _, te := range executions {
		seen[te.TestID] = struct{}{}
		known = append(known, testRecord{testID: te.TestID, failed: te.Failed, duration: te.Duration})
	}

	var unknown []testRecord
	for _, id := range allTestIDs {
		if _, ok := seen[id]; !ok {
			unknown = append(unknown, testRecord{testID: id})
		}
	}

	g, _ := errgroup.WithContext(ctx)
	results := make([]bool, len(known))
	for i, te := range executions {
		i, te := i, te
		g.Go(func() error {
			affected, err := isAffected(te, currentByPath, changedPaths, blobs, packages)
			if err != nil {
				return err
			}
			results[i] = affected
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Selection{}, err
	}
	for i := range known {
		known[i].affected = results[i]
	}

	return partition(known, unknown, opts), nil
}

// changedPaths enumerates every path referenced by any fingerprint of any
// execution and partitions into changed (content hash differs, or file is
// now absent) vs. unchanged.
func changedPaths(cache SourceCache, executions []store.TestExecution) (map[string]struct{}, error) {
	allPaths := make(map[string]struct{})
	for _, te := range executions {
		for _, fp := range te.Fingerprints {
			allPaths[fp.Filename] = struct{}{}
		}
	}

	changed := make(map[string]struct{})
	for path := range allPaths {
		hash, err := cache.GetContentHash(path)
		if err != nil {
			// Absent file: treated as changed with an empty block set.
			changed[path] = struct{}{}
			continue
		}
		stillMatches := false
		for _, te := range executions {
			for _, fp := range te.Fingerprints {
				if fp.Filename == path && fp.ContentHash == hash {
					stillMatches = true
				}
			}
		}
		if !stillMatches {
			changed[path] = struct{}{}
		}
	}
	return changed, nil
}

// isAffected applies §4.7 step 4 (multiset subset check, asymmetric) plus
// the FileDependency and ExternalDep checks of the "File dependencies"
// paragraph.
func isAffected(te store.TestExecution, currentByPath map[string][]uint32, changedPaths map[string]struct{}, blobs BlobResolver, packages PackageVersions) (bool, error) {
	for _, fp := range te.Fingerprints {
		if _, changed := changedPaths[fp.Filename]; !changed {
			continue
		}
		current := currentByPath[fp.Filename]
		if !isMultisetSubset(fp.Checksums, current) {
			return true, nil
		}
	}

	if blobs != nil {
		for _, dep := range te.FileDeps {
			sha, ok, err := blobs.BlobSHA(dep.Filename)
			if err != nil {
				return false, err
			}
			if !ok || sha != dep.SHA {
				return true, nil
			}
		}
	}

	if packages != nil {
		for _, ext := range te.ExternalDeps {
			version, ok := packages.InstalledVersion(ext.PackageName)
			if !ok || version != ext.PackageVersion {
				return true, nil
			}
		}
	}

	return false, nil
}

// isMultisetSubset reports whether every element of fp appears in current
// at least as many times as in fp — the asymmetric match of §4.7: new
// checksums in current that aren't in fp never cause a mismatch.
func isMultisetSubset(fp, current []uint32) bool {
	counts := make(map[uint32]int, len(current))
	for _, c := range current {
		counts[c]++
	}
	for _, c := range fp {
		if counts[c] == 0 {
			return false
		}
		counts[c]--
	}
	return true
}

// partition sorts known tests into unaffected/affected (tests marked
// failed are always forced into affected, per §4.7 step 6), appends the
// unknown tests, and orders the affected set per §4.7's ordering rule.
func partition(known []testRecord, unknown []testRecord, opts Options) Selection {
	var sel Selection
	var affectedRecs []testRecord

	for _, r := range known {
		_, alwaysRun := opts.AlwaysRun[r.testID]
		forced := r.failed || alwaysRun
		if forced || r.affected {
			affectedRecs = append(affectedRecs, r)
		} else {
			sel.Unaffected = append(sel.Unaffected, r.testID)
		}
	}
	for _, r := range unknown {
		sel.Unknown = append(sel.Unknown, r.testID)
	}
	sort.Strings(sel.Unknown)

	sel.Affected = orderAffected(affectedRecs, opts)
	return sel
}

// orderAffected emits: (1) previously-failing, (2) always-run, (3) the
// caller's priority list, (4) the remainder ordered by descending stored
// duration — the exact four tiers of §4.7's "Ordering" paragraph.
func orderAffected(recs []testRecord, opts Options) []string {
	emitted := make(map[string]struct{}, len(recs))
	byID := make(map[string]testRecord, len(recs))
	for _, r := range recs {
		byID[r.testID] = r
	}

	var out []string
	emit := func(id string) {
		if _, ok := byID[id]; !ok {
			return
		}
		if _, done := emitted[id]; done {
			return
		}
		emitted[id] = struct{}{}
		out = append(out, id)
	}

	var failing []string
	for _, r := range recs {
		if r.failed {
			failing = append(failing, r.testID)
		}
	}
	sort.Strings(failing)
	for _, id := range failing {
		emit(id)
	}

	var alwaysRun []string
	for id := range opts.AlwaysRun {
		alwaysRun = append(alwaysRun, id)
	}
	sort.Strings(alwaysRun)
	for _, id := range alwaysRun {
		emit(id)
	}

	for _, id := range opts.PriorityList {
		emit(id)
	}

	remaining := make([]testRecord, 0, len(recs))
	for _, r := range recs {
		if _, done := emitted[r.testID]; !done {
			remaining = append(remaining, r)
		}
	}
	sort.SliceStable(remaining, func(i, j int) bool { return remaining[i].duration > remaining[j].duration })
	for _, r := range remaining {
		emit(r.testID)
	}

	return out
}
