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
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// placeholderOpen/Close bracket the fixed stand-in written over a
// function body in the module skeleton. The text inside is the function's
// qualified name, never a function of the body's content, which is what
// gives the module block its I2 invariant.
const (
	placeholderOpen  = "{ "
	placeholderClose = " }"
)

// Extractor parses source files into Blocks. It is safe for concurrent use;
// tree-sitter parsers themselves are not thread-safe, so each call borrows
// one from a sync.Pool.
type Extractor struct {
	logger *slog.Logger
	pool   sync.Pool
}

// NewExtractor creates a Block Extractor. A nil logger falls back to
// slog.Default().
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{logger: logger}
	e.pool.New = func() any {
		p := sitter.NewParser()
		p.SetLanguage(golang.GetLanguage())
		return p
	}
	return e
}

// funcNode pairs an extracted function Block with the AST node for its
// body, so the module skeleton pass can find the byte range to stub out.
type funcNode struct {
	block     Block
	bodyStart int
	bodyEnd   int
}

// Extract parses content and returns its Blocks. On a syntax error that
// tree-sitter cannot recover from (see edge case (b) in the design), it
// returns a degenerate single-block File with Unparseable set; this is not
// a Go error, since an unparseable file is still a valid, storable File.
func (e *Extractor) Extract(content []byte, path string) (*File, error) {
	parser := e.pool.Get().(*sitter.Parser)
	defer e.pool.Put(parser)

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("block: tree-sitter parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() && countErrorNodes(root) > int(float64(root.ChildCount())*0.5+1) {
		// Heuristic: tree-sitter is error-tolerant and will happily return a
		// best-effort tree for a handful of stray tokens, but when a large
		// share of the top level failed to parse, trust the degenerate path.
		e.logger.Warn("block.extract.unparseable", "path", path)
		return degenerateFile(content, path), nil
	}

	var funcs []funcNode
	walk(root, content, nil, false, &funcs)

	sort.Slice(funcs, func(i, j int) bool { return funcs[i].bodyStart < funcs[j].bodyStart })

	moduleText := buildSkeleton(content, funcs)
	blocks := make([]Block, 0, len(funcs)+1)
	blocks = append(blocks, Block{
		StartLine: 1,
		EndLine:   lineCount(content),
		Kind:      KindModule,
		Checksum:  checksum(moduleText),
	})
	for _, fn := range funcs {
		blocks = append(blocks, fn.block)
	}

	return &File{Path: path, Blocks: blocks}, nil
}

// degenerateFile implements edge case (b): a whole-file Block with no
// qualified name and a checksum over the raw (uncanonicalized-by-comment)
// file text, per spec.md 4.1.
func degenerateFile(content []byte, path string) *File {
	return &File{
		Path:        path,
		Unparseable: true,
		Blocks: []Block{{
			StartLine:     1,
			EndLine:       lineCount(content),
			Kind:          KindModule,
			QualifiedName: "",
			Checksum:      crc32ieee(content),
		}},
	}
}

// walk recurses the AST collecting function/method/func-literal nodes.
// receiverStack carries the enclosing qualified-name prefix. Extract passes
// nil and walk never pushes onto it, so for Go it is always empty: a
// method's receiver type is added by extractFunc instead (it mirrors the
// general "nested classes contribute their name" rule from spec.md 4.1).
//
// insideFunc is true once we've descended into an already-extracted
// function/method/func-literal's body. A func_literal found at that point
// (a closure in a defer/go statement, or assigned to a local variable) is
// part of its enclosing function's body text and checksum, not a separate
// block: emitting it too would give it a line range nested inside its
// enclosing function's, violating I1's "function blocks do not overlap"
// and the sorted-disjoint precondition pkg/fingerprint's findInterval
// relies on.
func walk(node *sitter.Node, content []byte, receiverStack []string, insideFunc bool, out *[]funcNode) {
	if node == nil {
		return
	}

	switch node.Type() {
	case "function_declaration":
		if !insideFunc {
			if fn, ok := extractFunc(node, content, node.ChildByFieldName("name"), nil); ok {
				*out = append(*out, fn)
			}
		}
		insideFunc = true
	case "method_declaration":
		if !insideFunc {
			recv := node.ChildByFieldName("receiver")
			recvType := receiverTypeName(recv, content)
			if fn, ok := extractFunc(node, content, node.ChildByFieldName("name"), &recvType); ok {
				*out = append(*out, fn)
			}
		}
		insideFunc = true
	case "func_literal":
		if !insideFunc {
			if fn, ok := extractAnonFunc(node, content, len(*out)); ok {
				*out = append(*out, fn)
			}
		}
		insideFunc = true
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		walk(node.Child(i), content, receiverStack, insideFunc, out)
	}
}

func extractFunc(node *sitter.Node, content []byte, nameNode *sitter.Node, receiverType *string) (funcNode, bool) {
	if nameNode == nil {
		return funcNode{}, false
	}
	name := string(content[nameNode.StartByte():nameNode.EndByte()])
	qualified := name
	if receiverType != nil && *receiverType != "" {
		qualified = *receiverType + "." + name
	}
	return buildFuncNode(node, content, qualified)
}

func extractAnonFunc(node *sitter.Node, content []byte, index int) (funcNode, bool) {
	return buildFuncNode(node, content, fmt.Sprintf("$anon_%d", index+1))
}

func buildFuncNode(node *sitter.Node, content []byte, qualifiedName string) (funcNode, bool) {
	body := node.ChildByFieldName("body")
	if body == nil {
		for i := 0; i < int(node.ChildCount()); i++ {
			if c := node.Child(i); c.Type() == "block" {
				body = c
				break
			}
		}
	}
	if body == nil {
		// Interface method / forward declaration with no body: no block.
		return funcNode{}, false
	}

	startLine := int(body.StartPoint().Row) + 1
	endLine := lastDescendantEndLine(body)

	return funcNode{
		block: Block{
			StartLine:     startLine,
			EndLine:       endLine,
			Kind:          KindFunction,
			QualifiedName: qualifiedName,
			Checksum:      checksum(content[body.StartByte():body.EndByte()]),
		},
		bodyStart: int(body.StartByte()),
		bodyEnd:   int(body.EndByte()),
	}, true
}

// lastDescendantEndLine implements edge case (a): when a node's own end
// point is degenerate (not expected for tree-sitter's "block" nodes, but
// guarded against defensively for pattern-style constructs), fall back to
// the maximum end line among direct children.
func lastDescendantEndLine(node *sitter.Node) int {
	end := int(node.EndPoint().Row) + 1
	start := int(node.StartPoint().Row) + 1
	if end >= start {
		return end
	}
	max := start
	for i := 0; i < int(node.ChildCount()); i++ {
		if e := int(node.Child(i).EndPoint().Row) + 1; e > max {
			max = e
		}
	}
	return max
}

func receiverTypeName(receiver *sitter.Node, content []byte) string {
	if receiver == nil {
		return ""
	}
	for i := 0; i < int(receiver.ChildCount()); i++ {
		child := receiver.Child(i)
		if child.Type() != "parameter_declaration" {
			continue
		}
		if t := child.ChildByFieldName("type"); t != nil {
			return baseTypeName(t, content)
		}
	}
	return ""
}

func baseTypeName(typeNode *sitter.Node, content []byte) string {
	if typeNode == nil {
		return ""
	}
	switch typeNode.Type() {
	case "pointer_type":
		for i := 0; i < int(typeNode.ChildCount()); i++ {
			if c := typeNode.Child(i); c.Type() != "*" {
				return baseTypeName(c, content)
			}
		}
	case "generic_type":
		if n := typeNode.ChildByFieldName("type"); n != nil {
			return string(content[n.StartByte():n.EndByte()])
		}
	case "type_identifier":
		return string(content[typeNode.StartByte():typeNode.EndByte()])
	}
	return string(content[typeNode.StartByte():typeNode.EndByte()])
}

// buildSkeleton replaces every function body's byte range with a fixed
// placeholder, leaving the rest of the file (imports, signatures, struct
// and interface bodies, top-level declarations) untouched. Non-overlapping
// ranges are assumed (I1: function blocks are disjoint).
func buildSkeleton(content []byte, funcs []funcNode) []byte {
	var out []byte
	cursor := 0
	for _, fn := range funcs {
		if fn.bodyStart < cursor {
			continue // defensive: skip any accidental overlap
		}
		out = append(out, content[cursor:fn.bodyStart]...)
		out = append(out, []byte(placeholderOpen+fn.block.QualifiedName+placeholderClose)...)
		cursor = fn.bodyEnd
	}
	out = append(out, content[cursor:]...)
	return out
}

func countErrorNodes(node *sitter.Node) int {
	if node == nil {
		return 0
	}
	count := 0
	if node.IsError() || node.IsMissing() {
		count++
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		count += countErrorNodes(node.Child(i))
	}
	return count
}

func lineCount(content []byte) int {
	n := 1
	for _, b := range content {
		if b == '\n' {
			n++
		}
	}
	return n
}
