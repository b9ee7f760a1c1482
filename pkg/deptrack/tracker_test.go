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

package deptrack

import "testing"

type stubBlobs struct {
	shas map[string]string
}

func (s *stubBlobs) BlobSHA(path string) (string, bool, error) {
	sha, ok := s.shas[path]
	return sha, ok, nil
}

type stubPackages struct {
	local    map[string]bool
	external map[string]string
}

func (s *stubPackages) Resolve(importPath string) (bool, string, bool) {
	if s.local[importPath] {
		return true, "", true
	}
	if v, ok := s.external[importPath]; ok {
		return false, v, true
	}
	return false, "", false
}

func noSourceFiles(path string) bool { return false }

func TestTracker_StateMachine_RejectsOutOfOrderTransitions(t *testing.T) {
	tr := New("/repo", &stubBlobs{}, &stubPackages{}, noSourceFiles, nil)

	if err := tr.StopCollection(); err == nil {
		t.Fatalf("StopCollection from idle should fail")
	}
	if _, err := tr.Stop(); err == nil {
		t.Fatalf("Stop from idle should fail")
	}
	if err := tr.StartCollection(); err != nil {
		t.Fatalf("StartCollection: %v", err)
	}
	if err := tr.StartCollection(); err == nil {
		t.Fatalf("StartCollection while already collecting should fail")
	}
	if err := tr.Start("t1"); err == nil {
		t.Fatalf("Start while collecting should fail")
	}
	if err := tr.StopCollection(); err != nil {
		t.Fatalf("StopCollection: %v", err)
	}
}

func TestTracker_RecordFileOpen_AttributesToExecutingTest(t *testing.T) {
	blobs := &stubBlobs{shas: map[string]string{"fixtures/data.json": "abc123"}}
	tr := New("/repo", blobs, &stubPackages{}, noSourceFiles, nil)

	if err := tr.Start("test_one"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr.RecordFileOpen("fixtures/data.json")
	tr.RecordFileOpen("fixtures/untracked.json") // silently dropped: no SHA

	obs, err := tr.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(obs.FileDeps) != 1 {
		t.Fatalf("want 1 file dep, got %d: %+v", len(obs.FileDeps), obs.FileDeps)
	}
	if obs.FileDeps[0].Path != "fixtures/data.json" || obs.FileDeps[0].SHA != "abc123" {
		t.Fatalf("unexpected file dep: %+v", obs.FileDeps[0])
	}
}

func TestTracker_RecordImport_SplitsLocalAndExternal(t *testing.T) {
	pkgs := &stubPackages{
		local:    map[string]bool{"github.com/kraklabs/ezmon/pkg/block": true},
		external: map[string]string{"github.com/stretchr/testify": "v1.11.0"},
	}
	tr := New("/repo", &stubBlobs{}, pkgs, noSourceFiles, nil)

	if err := tr.Start("test_two"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr.RecordImport("github.com/kraklabs/ezmon/pkg/block")
	tr.RecordImport("github.com/stretchr/testify")
	tr.RecordImport("fmt") // stdlib: resolver returns ok=false, dropped

	obs, err := tr.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(obs.LocalImports) != 1 || obs.LocalImports[0] != "github.com/kraklabs/ezmon/pkg/block" {
		t.Fatalf("unexpected local imports: %+v", obs.LocalImports)
	}
	if len(obs.ExternalDeps) != 1 || obs.ExternalDeps[0].Package != "github.com/stretchr/testify" {
		t.Fatalf("unexpected external deps: %+v", obs.ExternalDeps)
	}
}

func TestTracker_EventsOutsideActiveStateAreDropped(t *testing.T) {
	tr := New("/repo", &stubBlobs{shas: map[string]string{"x": "y"}}, &stubPackages{}, noSourceFiles, nil)

	// Nothing active: both calls must be silent no-ops, not panics.
	tr.RecordFileOpen("x")
	tr.RecordImport("whatever")

	if got := tr.Keys(); len(got) != 0 {
		t.Fatalf("expected no keys recorded, got %v", got)
	}
}

func TestTracker_SetCollectionContext_AttributesToTestFile(t *testing.T) {
	blobs := &stubBlobs{shas: map[string]string{"data.csv": "deadbeef"}}
	tr := New("/repo", blobs, &stubPackages{}, noSourceFiles, nil)

	if err := tr.StartCollection(); err != nil {
		t.Fatalf("StartCollection: %v", err)
	}
	tr.SetCollectionContext("tests/test_foo.go")
	tr.RecordFileOpen("data.csv")
	if err := tr.StopCollection(); err != nil {
		t.Fatalf("StopCollection: %v", err)
	}

	results := tr.Results()
	obs, ok := results["tests/test_foo.go"]
	if !ok {
		t.Fatalf("expected an observation keyed by the collection context file")
	}
	if len(obs.FileDeps) != 1 || obs.FileDeps[0].Path != "data.csv" {
		t.Fatalf("unexpected file deps: %+v", obs.FileDeps)
	}
}
