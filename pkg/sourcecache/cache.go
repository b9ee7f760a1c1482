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

// Package sourcecache memoizes a project's source files by path: their
// mtime, SHA-1 content hash, and parsed block.File, reparsing only when the
// mtime or content hash has moved since the last observation.
package sourcecache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kraklabs/ezmon/pkg/block"
)

// Entry is one cached source file observation.
type Entry struct {
	Path        string
	Mtime       float64
	ContentHash string
	Module      *block.File
}

// Cache is the Source Tree Cache (C2). Concurrent readers are safe; at most
// one parse happens per (path, content_hash) pair, enforced by a
// singleflight group keyed on that pair so concurrent callers racing on a
// freshly-changed file collapse onto one tree-sitter parse.
type Cache struct {
	root      string
	extractor *Extractor
	logger    *slog.Logger

	mu      sync.RWMutex
	entries map[string]Entry

	sf singleflight.Group
}

// Extractor is the subset of *block.Extractor the cache needs, so tests can
// substitute a stub without touching tree-sitter.
type Extractor interface {
	Extract(content []byte, path string) (*block.File, error)
}

// New creates a Source Tree Cache rooted at root (an absolute or
// process-relative path that every cached path is resolved against).
func New(root string, extractor Extractor, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		root:      root,
		extractor: extractor,
		logger:    logger,
		entries:   make(map[string]Entry),
	}
}

// Exists reports whether path currently exists in the project tree.
func (c *Cache) Exists(path string) bool {
	_, err := os.Stat(c.abs(path))
	return err == nil
}

// GetContentHash returns the SHA-1 hash of path's current bytes, reading the
// file lazily. It does not consult or populate the Module cache.
func (c *Cache) GetContentHash(path string) (string, error) {
	content, err := os.ReadFile(c.abs(path))
	if err != nil {
		return "", fmt.Errorf("sourcecache: read %s: %w", path, err)
	}
	return contentHash(content), nil
}

// GetModule returns the memoized block.File for path, reparsing only if the
// file's mtime or content hash has changed since the last call. The cached
// Module and ContentHash are always recorded together from the same read
// of the file, per §4.2's consistency guarantee; only the Module is
// returned.
func (c *Cache) GetModule(path string) (*block.File, error) {
	abs := c.abs(path)
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("sourcecache: stat %s: %w", path, err)
	}
	mtime := statMtime(info)

	c.mu.RLock()
	cached, ok := c.entries[path]
	c.mu.RUnlock()
	if ok && cached.Mtime == mtime {
		return cached.Module, nil
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("sourcecache: read %s: %w", path, err)
	}
	hash := contentHash(content)

	c.mu.RLock()
	cached, ok = c.entries[path]
	c.mu.RUnlock()
	if ok && cached.ContentHash == hash {
		// mtime moved (e.g. touch) but bytes didn't: keep the parsed Module,
		// just refresh the observed mtime so future Stat-only checks are cheap.
		c.mu.Lock()
		cached.Mtime = mtime
		c.entries[path] = cached
		c.mu.Unlock()
		return cached.Module, nil
	}

	key := path + "@" + hash
	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		mod, err := c.extractor.Extract(content, path)
		if err != nil {
			return nil, err
		}
		return mod, nil
	})
	if err != nil {
		c.logger.Warn("sourcecache.parse_error", "path", path, "err", err)
		return nil, err
	}
	mod := result.(*block.File)

	c.mu.Lock()
	c.entries[path] = Entry{Path: path, Mtime: mtime, ContentHash: hash, Module: mod}
	c.mu.Unlock()

	return mod, nil
}

// Invalidate drops path from the cache, forcing the next GetModule call to
// reparse regardless of mtime.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

func (c *Cache) abs(path string) string {
	if c.root == "" {
		return path
	}
	return c.root + string(os.PathSeparator) + path
}

func contentHash(content []byte) string {
	sum := sha1.Sum(content)
	return hex.EncodeToString(sum[:])
}

func statMtime(info fs.FileInfo) float64 {
	t := info.ModTime()
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
