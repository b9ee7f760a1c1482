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

package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kraklabs/ezmon/pkg/store"
)

// FileSpiller persists batches that permanently failed to reach the
// backend as one JSON file per batch under dir, written atomically
// (temp file + rename) so a crash mid-write never leaves a corrupt spill
// file behind — the same durability shape as pkg/ingestion/checkpoint.go's
// CheckpointManager.SaveCheckpoint, retargeted from ingestion progress to
// the local spill-file fallback of spec.md §4.8.
type FileSpiller struct {
	dir string
	mu  sync.Mutex
}

// NewFileSpiller creates a FileSpiller writing under dir, creating it if
// necessary.
func NewFileSpiller(dir string) *FileSpiller {
	return &FileSpiller{dir: dir}
}

// Spill writes batch to a new file under the spiller's directory.
func (f *FileSpiller) Spill(batch []store.TestExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("spill: create dir: %w", err)
	}

	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("spill: marshal batch: %w", err)
	}

	name := fmt.Sprintf("spill-%s-%s.json", time.Now().UTC().Format("20060102T150405"), uuid.NewString())
	path := filepath.Join(f.dir, name)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("spill: write temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("spill: rename: %w", err)
	}
	return nil
}

// Pending lists every spilled file still awaiting replay, oldest first to
// the second; files spilled within the same second are in no set order.
func (f *FileSpiller) Pending() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, filepath.Join(f.dir, e.Name()))
		}
	}
	return names, nil
}

// Load reads and removes one spilled batch, for replay against the
// backend once it becomes reachable again.
func (f *FileSpiller) Load(path string) ([]store.TestExecution, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var batch []store.TestExecution
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("spill: parse %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("spill: remove %s: %w", path, err)
	}
	return batch, nil
}
