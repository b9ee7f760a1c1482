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

package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blockByName(t *testing.T, f *File, name string) Block {
	t.Helper()
	for _, b := range f.Blocks {
		if b.Kind == KindFunction && b.QualifiedName == name {
			return b
		}
	}
	t.Fatalf("no function block named %q", name)
	return Block{}
}

// TestExtract_BodyOnlyChangeIsolatesOneBlock is the block-level half of
// spec.md scenario S1: editing add's body must change only add's checksum.
func TestExtract_BodyOnlyChangeIsolatesOneBlock(t *testing.T) {
	e := NewExtractor(nil)

	before := []byte(`package math

func add(a, b int) int {
	return a + b
}

func sub(a, b int) int {
	return a - b
}
`)
	after := []byte(`package math

func add(a, b int) int {
	r := a + b
	return r
}

func sub(a, b int) int {
	return a - b
}
`)

	fBefore, err := e.Extract(before, "math.go")
	require.NoError(t, err)
	fAfter, err := e.Extract(after, "math.go")
	require.NoError(t, err)

	require.Len(t, fBefore.FunctionBlocks(), 2)
	require.Len(t, fAfter.FunctionBlocks(), 2)

	addBefore := blockByName(t, fBefore, "add")
	addAfter := blockByName(t, fAfter, "add")
	assert.NotEqual(t, addBefore.Checksum, addAfter.Checksum, "add's body changed, its block checksum must change")

	subBefore := blockByName(t, fBefore, "sub")
	subAfter := blockByName(t, fAfter, "sub")
	assert.Equal(t, subBefore.Checksum, subAfter.Checksum, "sub was untouched")

	modBefore, ok := fBefore.ModuleBlock()
	require.True(t, ok)
	modAfter, ok := fAfter.ModuleBlock()
	require.True(t, ok)
	assert.Equal(t, modBefore.Checksum, modAfter.Checksum, "I2: body-only edits must not perturb the module block")
}

// TestExtract_CommentOnlyEditLeavesAllChecksumsUnchanged is scenario S2.
func TestExtract_CommentOnlyEditLeavesAllChecksumsUnchanged(t *testing.T) {
	e := NewExtractor(nil)

	before := []byte(`package math

func add(a, b int) int {
	return a + b
}
`)
	after := []byte(`package math

// add returns the sum of a and b.
func add(a, b int) int {
	return a + b
}
`)

	fBefore, err := e.Extract(before, "math.go")
	require.NoError(t, err)
	fAfter, err := e.Extract(after, "math.go")
	require.NoError(t, err)

	addBefore := blockByName(t, fBefore, "add")
	addAfter := blockByName(t, fAfter, "add")
	assert.Equal(t, addBefore.Checksum, addAfter.Checksum)

	modBefore, _ := fBefore.ModuleBlock()
	modAfter, _ := fAfter.ModuleBlock()
	assert.Equal(t, modBefore.Checksum, modAfter.Checksum)
}

// TestExtract_SignatureChangeMovesModuleChecksum is scenario S5: the module
// block must notice a signature edit even though the body text is identical.
func TestExtract_SignatureChangeMovesModuleChecksum(t *testing.T) {
	e := NewExtractor(nil)

	before := []byte(`package util

func foo(x int) int {
	return x
}
`)
	after := []byte(`package util

func foo(x int, y int) int {
	return x
}
`)

	fBefore, err := e.Extract(before, "util.go")
	require.NoError(t, err)
	fAfter, err := e.Extract(after, "util.go")
	require.NoError(t, err)

	modBefore, _ := fBefore.ModuleBlock()
	modAfter, _ := fAfter.ModuleBlock()
	assert.NotEqual(t, modBefore.Checksum, modAfter.Checksum)

	fooBefore := blockByName(t, fBefore, "foo")
	fooAfter := blockByName(t, fAfter, "foo")
	assert.Equal(t, fooBefore.Checksum, fooAfter.Checksum, "body text is byte-identical")
}

// TestExtract_MethodReceiverQualifiesName checks I1/4.1's dotted qualified
// name for methods.
func TestExtract_MethodReceiverQualifiesName(t *testing.T) {
	e := NewExtractor(nil)

	src := []byte(`package server

type Server struct{}

func (s *Server) Start() error {
	return nil
}
`)
	f, err := e.Extract(src, "server.go")
	require.NoError(t, err)
	require.Len(t, f.FunctionBlocks(), 1)
	assert.Equal(t, "Server.Start", f.FunctionBlocks()[0].QualifiedName)
}

// TestExtract_AddingNewBlockDoesNotPerturbExisting matches the testable
// property: adding a new function must not change any existing block's
// checksum (only the module skeleton gains a new placeholder, appended
// after existing text, so earlier placeholders are untouched).
func TestExtract_AddingNewBlockDoesNotPerturbExisting(t *testing.T) {
	e := NewExtractor(nil)

	before := []byte(`package math

func add(a, b int) int {
	return a + b
}
`)
	after := []byte(`package math

func add(a, b int) int {
	return a + b
}

func sub(a, b int) int {
	return a - b
}
`)

	fBefore, err := e.Extract(before, "math.go")
	require.NoError(t, err)
	fAfter, err := e.Extract(after, "math.go")
	require.NoError(t, err)

	addBefore := blockByName(t, fBefore, "add")
	addAfter := blockByName(t, fAfter, "add")
	assert.Equal(t, addBefore.Checksum, addAfter.Checksum)
}

func TestExtract_DisjointFunctionBlocks(t *testing.T) {
	e := NewExtractor(nil)
	src := []byte(`package p

func a() { x := 1; _ = x }
func b() { y := 2; _ = y }
`)
	f, err := e.Extract(src, "p.go")
	require.NoError(t, err)
	fns := f.FunctionBlocks()
	require.Len(t, fns, 2)
	assert.LessOrEqual(t, fns[0].EndLine, fns[1].StartLine)
}

// TestExtract_NestedClosureDoesNotGetItsOwnBlock covers a defer/go-style
// closure nested inside a named function: it must not produce a second
// overlapping Block (I1), and only the enclosing function's checksum may
// move when the closure's body changes.
func TestExtract_NestedClosureDoesNotGetItsOwnBlock(t *testing.T) {
	e := NewExtractor(nil)

	before := []byte(`package work

func run() error {
	defer func() {
		_ = 1
	}()
	return nil
}

func other() int {
	return 2
}
`)
	after := []byte(`package work

func run() error {
	defer func() {
		_ = 2
	}()
	return nil
}

func other() int {
	return 2
}
`)

	fBefore, err := e.Extract(before, "work.go")
	require.NoError(t, err)
	fAfter, err := e.Extract(after, "work.go")
	require.NoError(t, err)

	require.Len(t, fBefore.FunctionBlocks(), 2, "the closure must not produce its own block")
	require.Len(t, fAfter.FunctionBlocks(), 2)

	runBefore := blockByName(t, fBefore, "run")
	runAfter := blockByName(t, fAfter, "run")
	assert.NotEqual(t, runBefore.Checksum, runAfter.Checksum, "the closure's body is part of run's own body")

	otherBefore := blockByName(t, fBefore, "other")
	otherAfter := blockByName(t, fAfter, "other")
	assert.Equal(t, otherBefore.Checksum, otherAfter.Checksum, "other was untouched")

	fns := fBefore.FunctionBlocks()
	assert.LessOrEqual(t, fns[0].EndLine, fns[1].StartLine, "I1: function blocks must not overlap")
}
