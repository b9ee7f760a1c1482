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

// Package block partitions a source file into a module-level skeleton block
// and one block per function/method body, and fingerprints each with a
// CRC-32 checksum over its canonicalized text.
package block

import (
	"bytes"
	"hash/crc32"
)

// Kind distinguishes the module skeleton block from a function body block.
type Kind string

const (
	// KindModule is the file's skeleton: the whole file with every function
	// body replaced by a placeholder.
	KindModule Kind = "module"

	// KindFunction is a single function or method body.
	KindFunction Kind = "function"
)

// Block is a contiguous range of lines of a source file sharing one checksum.
type Block struct {
	// StartLine and EndLine are inclusive, 1-based line numbers.
	StartLine int
	EndLine   int

	Kind Kind

	// QualifiedName is the dotted path from the top-level for function
	// blocks (e.g. "Server.Start"); empty for the module block.
	QualifiedName string

	// Checksum is the IEEE CRC-32 of the block's canonicalized text.
	Checksum uint32
}

// File is the result of extracting Blocks from one source file.
type File struct {
	Path string

	// Blocks holds exactly one KindModule block followed by zero or more
	// disjoint KindFunction blocks, in source order.
	Blocks []Block

	// Unparseable is set when the file could not be parsed; Blocks then
	// holds a single degenerate module block covering the whole file.
	Unparseable bool
}

// ModuleBlock returns the file's module skeleton block.
func (f *File) ModuleBlock() (Block, bool) {
	for _, b := range f.Blocks {
		if b.Kind == KindModule {
			return b, true
		}
	}
	return Block{}, false
}

// FunctionBlocks returns the file's function blocks, in source order.
func (f *File) FunctionBlocks() []Block {
	out := make([]Block, 0, len(f.Blocks))
	for _, b := range f.Blocks {
		if b.Kind == KindFunction {
			out = append(out, b)
		}
	}
	return out
}

// Checksums returns the multiset (as a plain slice) of every block's
// checksum, module block first.
func (f *File) Checksums() []uint32 {
	out := make([]uint32, 0, len(f.Blocks))
	for _, b := range f.Blocks {
		out = append(out, b.Checksum)
	}
	return out
}

// canonicalize strips full-line comments and blank-only lines from text,
// preserving the remaining lines byte-for-byte (indentation and string
// contents included). A "full-line" comment is a line whose trimmed form
// begins with "//"; trailing comments on a code line are left untouched
// since they share the line with executable text.
func canonicalize(text []byte) []byte {
	lines := bytes.Split(text, []byte("\n"))
	var out bytes.Buffer
	for i, line := range lines {
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 || bytes.HasPrefix(trimmed, []byte("//")) {
			continue
		}
		out.Write(line)
		if i != len(lines)-1 {
			out.WriteByte('\n')
		}
	}
	return out.Bytes()
}

// checksum computes the IEEE CRC-32 of the canonicalized text.
func checksum(text []byte) uint32 {
	return crc32.ChecksumIEEE(canonicalize(text))
}

// crc32ieee computes the IEEE CRC-32 of raw, uncanonicalized text. Used only
// for the degenerate single-block File produced for unparseable sources
// (spec.md 4.1 edge case (b)), which has no canonicalization pass to apply.
func crc32ieee(text []byte) uint32 {
	return crc32.ChecksumIEEE(text)
}
