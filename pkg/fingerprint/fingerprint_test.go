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

package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/ezmon/pkg/block"
)

func sampleFile() *block.File {
	return &block.File{
		Path: "math.go",
		Blocks: []block.Block{
			{StartLine: 1, EndLine: 9, Kind: block.KindModule, Checksum: 100},
			{StartLine: 3, EndLine: 5, Kind: block.KindFunction, QualifiedName: "add", Checksum: 200},
			{StartLine: 7, EndLine: 9, Kind: block.KindFunction, QualifiedName: "sub", Checksum: 300},
		},
	}
}

func TestAssemble_LineInsideFunctionCreditsThatBlockAndModule(t *testing.T) {
	a := New()
	got := a.Assemble(sampleFile(), map[int]struct{}{4: {}})
	assert.ElementsMatch(t, []uint32{200, 100}, got)
}

func TestAssemble_LineOutsideAnyFunctionCreditsOnlyModule(t *testing.T) {
	a := New()
	got := a.Assemble(sampleFile(), map[int]struct{}{2: {}})
	assert.ElementsMatch(t, []uint32{100}, got)
}

func TestAssemble_MultipleLinesAcrossFunctionsDeduplicate(t *testing.T) {
	a := New()
	got := a.Assemble(sampleFile(), map[int]struct{}{4: {}, 5: {}, 8: {}})
	assert.ElementsMatch(t, []uint32{200, 300, 100}, got)
}

func TestAssemble_NoLinesYieldsNoFingerprint(t *testing.T) {
	a := New()
	got := a.Assemble(sampleFile(), map[int]struct{}{})
	assert.Empty(t, got)
}

func TestAssemble_AlwaysIncludesModuleWhenAnyLineTouched(t *testing.T) {
	a := New()
	got := a.Assemble(sampleFile(), map[int]struct{}{4: {}})
	require.Contains(t, got, uint32(100))
}
