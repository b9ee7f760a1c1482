// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package bootstrap

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kraklabs/ezmon/internal/config"
	"github.com/kraklabs/ezmon/pkg/store"
)

// ProjectConfig holds configuration for initializing a project's local
// ezmon store. Retargeted from the teacher's CozoDB-engine-selection shape
// (Engine: "rocksdb"/"sqlite"/"mem", EmbeddingDimensions) to spec.md §4.6's
// single SQLite schema, which has no engine choice or vector dimension to
// configure.
type ProjectConfig struct {
	// Environment names the test environment partition (spec.md §6 --env).
	Environment string

	// DataDir is where the store file and .ezmon.yaml are created.
	// Defaults to the current working directory.
	DataDir string
}

// ProjectInfo describes an initialized project.
type ProjectInfo struct {
	DataFile   string
	ConfigFile string
}

// InitProject initializes a new ezmon project: it creates (or reuses) the
// local store and writes a `.ezmon.yaml` if one doesn't already exist. It
// is idempotent, exactly like the teacher's InitProject — calling it on an
// already-initialized directory is safe and never touches existing data.
func InitProject(cfg ProjectConfig, logger *slog.Logger) (*ProjectInfo, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DataDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("bootstrap: get working dir: %w", err)
		}
		cfg.DataDir = wd
	}

	dataFile := filepath.Join(cfg.DataDir, config.DefaultDataFile)
	configFile := filepath.Join(cfg.DataDir, config.FileName)

	logger.Info("bootstrap.project.init.start", "data_file", dataFile, "environment", cfg.Environment)

	s, err := store.Open(store.Config{Path: dataFile}, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open store: %w", err)
	}
	defer func() { _ = s.Close() }()

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		f := config.File{Environment: cfg.Environment}
		data, err := yaml.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: marshal config: %w", err)
		}
		if err := os.WriteFile(configFile, data, 0o644); err != nil {
			return nil, fmt.Errorf("bootstrap: write %s: %w", configFile, err)
		}
		logger.Info("bootstrap.project.config.created", "path", configFile)
	}

	logger.Info("bootstrap.project.init.success", "data_file", dataFile)
	return &ProjectInfo{DataFile: dataFile, ConfigFile: configFile}, nil
}

// OpenProject opens an existing ezmon project's store, erroring if the
// store file does not exist yet.
func OpenProject(cfg ProjectConfig, logger *slog.Logger) (*store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DataDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("bootstrap: get working dir: %w", err)
		}
		cfg.DataDir = wd
	}

	dataFile := filepath.Join(cfg.DataDir, config.DefaultDataFile)
	if _, err := os.Stat(dataFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("project not found: %s (run 'ezmon' once to create it)", dataFile)
	}

	logger.Debug("bootstrap.project.open", "data_file", dataFile)
	return store.Open(store.Config{Path: dataFile}, logger)
}

// ListProjects returns the directories under root containing an
// initialized ezmon store, for administrative tooling that needs to
// enumerate every local project rather than operate on one.
func ListProjects(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("bootstrap: read %s: %w", root, err)
	}

	var projects []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, entry.Name(), config.DefaultDataFile)); err == nil {
			projects = append(projects, entry.Name())
		}
	}
	return projects, nil
}
