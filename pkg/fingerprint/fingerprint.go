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

// Package fingerprint turns a test's executed lines into the multiset of
// block checksums it depends on (the Fingerprint Assembler, C5).
package fingerprint

import (
	"sort"

	"github.com/kraklabs/ezmon/pkg/block"
)

// Assembler computes per-file checksum sets from covered lines and Blocks.
// It holds no state of its own; it is a value type kept for symmetry with
// the other components and to give the algorithm a named home.
type Assembler struct{}

// New creates a Fingerprint Assembler.
func New() *Assembler {
	return &Assembler{}
}

// interval is a half-open-at-neither-end [start, end] inclusive line range
// tagged with the checksum to credit a covered line in that range to.
type interval struct {
	start, end int
	checksum   uint32
}

// Assemble implements §4.5: build an interval index over f's function
// blocks, map every covered line to the function block containing it (or to
// the module block if none contains it), always include the module block's
// checksum when any line was touched, and deduplicate.
func (a *Assembler) Assemble(f *block.File, lines map[int]struct{}) []uint32 {
	if len(lines) == 0 {
		return nil
	}

	moduleBlock, hasModule := f.ModuleBlock()

	fns := f.FunctionBlocks()
	intervals := make([]interval, len(fns))
	for i, b := range fns {
		intervals[i] = interval{start: b.StartLine, end: b.EndLine, checksum: b.Checksum}
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i].start < intervals[j].start })

	seen := make(map[uint32]struct{})
	var out []uint32
	add := func(c uint32) {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}

	for line := range lines {
		if iv, ok := findInterval(intervals, line); ok {
			add(iv.checksum)
		} else if hasModule {
			add(moduleBlock.Checksum)
		}
	}

	if hasModule {
		add(moduleBlock.Checksum)
	}

	return out
}

// findInterval binary-searches the (sorted, disjoint per I1) function
// block intervals for the one containing line.
func findInterval(intervals []interval, line int) (interval, bool) {
	lo, hi := 0, len(intervals)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		iv := intervals[mid]
		switch {
		case line < iv.start:
			hi = mid - 1
		case line > iv.end:
			lo = mid + 1
		default:
			return iv, true
		}
	}
	return interval{}, false
}
