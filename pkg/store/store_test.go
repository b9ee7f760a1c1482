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

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Config{Path: filepath.Join(dir, "ezmon.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFetchOrCreateEnvironment_IsIdempotentForSameDescriptor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e1, err := s.FetchOrCreateEnvironment(ctx, "default", "pkg-descriptor-v1", "go1.24")
	require.NoError(t, err)
	e2, err := s.FetchOrCreateEnvironment(ctx, "default", "pkg-descriptor-v1", "go1.24")
	require.NoError(t, err)
	require.Equal(t, e1.ID, e2.ID)
}

func TestFetchOrCreateEnvironment_SupersedesOnDescriptorChange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e1, err := s.FetchOrCreateEnvironment(ctx, "default", "pkg-descriptor-v1", "go1.24")
	require.NoError(t, err)

	e2, err := s.FetchOrCreateEnvironment(ctx, "default", "pkg-descriptor-v2", "go1.24")
	require.NoError(t, err)
	require.NotEqual(t, e1.ID, e2.ID, "a changed system_packages_descriptor must yield a new environment id (I5)")

	// Deferred cleanup removes the superseded row.
	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM environment WHERE id = ?`, e1.ID)
	require.NoError(t, row.Scan(&count))
	require.Zero(t, count, "the superseded environment row must be deleted")

	_, ok, err := s.ReadMetadata(ctx, "nonexistent")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInsertTestExecutions_RoundTripsFingerprintsAndDeps(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	env, err := s.FetchOrCreateEnvironment(ctx, "default", "desc", "go1.24")
	require.NoError(t, err)

	batch := []TestExecution{
		{
			TestID:   "pkg/foo_test.go::TestFoo",
			Duration: 0.125,
			Failed:   false,
			Fingerprints: []FileFingerprint{
				{Filename: "foo.go", Checksums: []uint32{100, 200}, Mtime: 1700000000, ContentHash: "abc"},
			},
			FileDeps: []FileDependency{
				{Filename: "fixtures/data.json", SHA: "deadbeef"},
			},
			ExternalDeps: []ExternalDep{
				{PackageName: "github.com/stretchr/testify", PackageVersion: "v1.11.0"},
			},
		},
	}
	require.NoError(t, s.InsertTestExecutions(ctx, env.ID, batch))

	got, err := s.TestExecutionsForEnv(ctx, env.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "pkg/foo_test.go::TestFoo", got[0].TestID)
	require.Len(t, got[0].Fingerprints, 1)
	require.ElementsMatch(t, []uint32{100, 200}, got[0].Fingerprints[0].Checksums)
	require.Len(t, got[0].FileDeps, 1)
	require.Equal(t, "deadbeef", got[0].FileDeps[0].SHA)
	require.Len(t, got[0].ExternalDeps, 1)
}

func TestInsertTestExecutions_DeduplicatesIdenticalFingerprints(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	env, err := s.FetchOrCreateEnvironment(ctx, "default", "desc", "go1.24")
	require.NoError(t, err)

	fp := FileFingerprint{Filename: "shared.go", Checksums: []uint32{1, 2, 3}, Mtime: 1, ContentHash: "h"}
	batch := []TestExecution{
		{TestID: "t1", Fingerprints: []FileFingerprint{fp}},
		{TestID: "t2", Fingerprints: []FileFingerprint{fp}},
	}
	require.NoError(t, s.InsertTestExecutions(ctx, env.ID, batch))

	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_fp WHERE filename = ?`, "shared.go")
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 1, count, "identical (filename, checksums) must be stored once")
}

func TestChangedFiles_DetectsHashMismatchAndMissingRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	env, err := s.FetchOrCreateEnvironment(ctx, "default", "desc", "go1.24")
	require.NoError(t, err)
	require.NoError(t, s.InsertTestExecutions(ctx, env.ID, []TestExecution{
		{TestID: "t1", Fingerprints: []FileFingerprint{
			{Filename: "a.go", Checksums: []uint32{1}, Mtime: 1, ContentHash: "hash-a"},
		}},
	}))

	changed, err := s.ChangedFiles(ctx, map[string]string{
		"a.go": "hash-a",     // unchanged
		"b.go": "hash-b-new", // never observed -> changed
	})
	require.NoError(t, err)
	require.NotContains(t, changed, "a.go")
	require.Contains(t, changed, "b.go")

	changed, err = s.ChangedFiles(ctx, map[string]string{"a.go": "hash-a-modified"})
	require.NoError(t, err)
	require.Contains(t, changed, "a.go")
}

func TestDeleteTests_CascadesLinks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	env, err := s.FetchOrCreateEnvironment(ctx, "default", "desc", "go1.24")
	require.NoError(t, err)
	require.NoError(t, s.InsertTestExecutions(ctx, env.ID, []TestExecution{
		{TestID: "t1", Fingerprints: []FileFingerprint{
			{Filename: "a.go", Checksums: []uint32{1}, Mtime: 1, ContentHash: "h"},
		}},
	}))

	require.NoError(t, s.DeleteTests(ctx, env.ID, []string{"t1"}))

	got, err := s.TestExecutionsForEnv(ctx, env.ID)
	require.NoError(t, err)
	require.Empty(t, got)

	var linkCount int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM test_execution_file_fp`)
	require.NoError(t, row.Scan(&linkCount))
	require.Zero(t, linkCount, "FK cascade must remove link rows")
}

func TestMetadata_WriteThenRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.ReadMetadata(ctx, "last_run")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.WriteMetadata(ctx, "last_run", "run-1"))
	v, ok, err := s.ReadMetadata(ctx, "last_run")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "run-1", v)

	require.NoError(t, s.WriteMetadata(ctx, "last_run", "run-2"))
	v, ok, err = s.ReadMetadata(ctx, "last_run")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "run-2", v)
}

func TestKnownFilenames_ReturnsDistinctFilesForEnv(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	env, err := s.FetchOrCreateEnvironment(ctx, "default", "desc", "go1.24")
	require.NoError(t, err)
	require.NoError(t, s.InsertTestExecutions(ctx, env.ID, []TestExecution{
		{TestID: "t1", Fingerprints: []FileFingerprint{
			{Filename: "a.go", Checksums: []uint32{1}, Mtime: 1, ContentHash: "h1"},
			{Filename: "b.go", Checksums: []uint32{2}, Mtime: 1, ContentHash: "h2"},
		}},
		{TestID: "t2", Fingerprints: []FileFingerprint{
			{Filename: "a.go", Checksums: []uint32{1}, Mtime: 1, ContentHash: "h1"},
		}},
	}))

	names, err := s.KnownFilenames(ctx, env.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.go", "b.go"}, names)
}

func TestRecordDependencyEdges_DeduplicatesWithinRunTag(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	edges := []DependencyEdge{
		{SourceFile: "a.go", Target: "b.go", Kind: "local", RunTag: "run-1"},
		{SourceFile: "a.go", Target: "b.go", Kind: "local", RunTag: "run-1"},
	}
	require.NoError(t, s.RecordDependencyEdges(ctx, edges))

	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dependency_graph`)
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 1, count)
}
