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

package sourcecache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kraklabs/ezmon/pkg/block"
)

type countingExtractor struct {
	calls int
	real  *block.Extractor
}

func (c *countingExtractor) Extract(content []byte, path string) (*block.File, error) {
	c.calls++
	return c.real.Extract(content, path)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestCache_GetModule_MemoizesUntilMtimeChanges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package p\n\nfunc a() { return }\n")

	ext := &countingExtractor{real: block.NewExtractor(nil)}
	c := New(dir, ext, nil)

	if _, err := c.GetModule("a.go"); err != nil {
		t.Fatalf("GetModule: %v", err)
	}
	if _, err := c.GetModule("a.go"); err != nil {
		t.Fatalf("GetModule (2nd): %v", err)
	}
	if ext.calls != 1 {
		t.Fatalf("want 1 parse, got %d", ext.calls)
	}

	if err := os.WriteFile(filepath.Join(dir, "a.go"), []byte("package p\n\nfunc a() { return 1 }\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	// Force the mtime forward so the cache re-stats and reparses.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(filepath.Join(dir, "a.go"), future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if _, err := c.GetModule("a.go"); err != nil {
		t.Fatalf("GetModule (after change): %v", err)
	}
	if ext.calls != 2 {
		t.Fatalf("want 2 parses after content change, got %d", ext.calls)
	}
}

func TestCache_GetContentHash_MatchesRawSHA1(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.go", "package p\n")

	c := New(dir, &countingExtractor{real: block.NewExtractor(nil)}, nil)
	h1, err := c.GetContentHash("b.go")
	if err != nil {
		t.Fatalf("GetContentHash: %v", err)
	}
	h2, err := c.GetContentHash("b.go")
	if err != nil {
		t.Fatalf("GetContentHash (2nd): %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash should be stable across calls: %s != %s", h1, h2)
	}
	if len(h1) != 40 {
		t.Fatalf("want a 40-char hex SHA-1, got %q", h1)
	}
	// SHA-1 of the raw bytes "package p\n".
	if want := "8c1e11767021108ef6a0aaf36358ce9c60a5684a"; h1 != want {
		t.Fatalf("want raw SHA-1 %s, got %s", want, h1)
	}
}

func TestCache_Exists(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "present.go", "package p\n")

	c := New(dir, &countingExtractor{real: block.NewExtractor(nil)}, nil)
	if !c.Exists("present.go") {
		t.Fatalf("expected present.go to exist")
	}
	if c.Exists("missing.go") {
		t.Fatalf("expected missing.go to not exist")
	}
}

func TestCache_Invalidate_ForcesReparse(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "c.go", "package p\n\nfunc f() {}\n")

	ext := &countingExtractor{real: block.NewExtractor(nil)}
	c := New(dir, ext, nil)

	if _, err := c.GetModule("c.go"); err != nil {
		t.Fatalf("GetModule: %v", err)
	}
	c.Invalidate("c.go")
	if _, err := c.GetModule("c.go"); err != nil {
		t.Fatalf("GetModule after invalidate: %v", err)
	}
	if ext.calls != 2 {
		t.Fatalf("want 2 parses after Invalidate, got %d", ext.calls)
	}
}
