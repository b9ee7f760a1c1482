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

// Package config loads ezmon's project configuration: a `.ezmon.yaml`
// file in the repo root, overlaid with environment variables spec.md §6
// names explicitly. This plays the same role the teacher's
// `.cie/project.yaml` plays for CIE, read the same way: parse the file
// with gopkg.in/yaml.v3, then let documented env vars win over whatever
// the file says, matching cmd/cie's OLLAMA_HOST/OLLAMA_EMBED_MODEL
// override pattern.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileName is the project configuration file's name, resolved relative
// to the repository root.
const FileName = ".ezmon.yaml"

// File is the on-disk shape of .ezmon.yaml.
type File struct {
	// Environment names the test environment (compiler/interpreter
	// version, installed system packages) this project runs under,
	// passed to Store.FetchOrCreateEnvironment.
	Environment string `yaml:"environment"`

	// Exclude lists glob patterns for source files (generated code,
	// vendored trees). It is parsed and kept here; the Block Extractor and
	// Dependency Tracker do not read it, so matching files are still
	// fingerprinted.
	Exclude []string `yaml:"exclude"`

	// BatchSize overrides the Session Orchestrator's default record_batch
	// size (session.DefaultBatchSize) when positive.
	BatchSize int `yaml:"batch_size"`
}

// Config is the fully resolved configuration: the parsed file overlaid
// with environment variables, which always win.
type Config struct {
	File

	// DataFile is the local Store's SQLite path. Env: DATA_FILE.
	DataFile string

	// NetEnabled selects the Network Store backend over the local one.
	// Env: NET_ENABLED (any non-empty value other than "0"/"false").
	NetEnabled bool

	// Server is the Network Store base URL. Env: SERVER.
	Server string

	// AuthToken authenticates against the Network Store. Env: AUTH_TOKEN.
	AuthToken string

	// RepoID and JobID scope a Network Store session to a
	// (repo, job) pair. Env: REPO_ID, JOB_ID.
	RepoID string
	JobID  string

	// RunID identifies this particular invocation; it is empty when unset.
	// Env: RUN_ID.
	RunID string
}

const (
	envDataFile   = "DATA_FILE"
	envNetEnabled = "NET_ENABLED"
	envServer     = "SERVER"
	envAuthToken  = "AUTH_TOKEN"
	envRepoID     = "REPO_ID"
	envJobID      = "JOB_ID"
	envRunID      = "RUN_ID"
)

// DefaultDataFile is used when DATA_FILE is unset; the config file has no
// data-file setting.
const DefaultDataFile = ".ezmon.db"

// Load reads path (typically FileName in the repository root; a missing
// file is not an error, since every field has a usable zero value), then
// overlays the documented environment variables.
func Load(path string) (*Config, error) {
	f, err := loadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{File: *f, DataFile: DefaultDataFile}
	if v := os.Getenv(envDataFile); v != "" {
		cfg.DataFile = v
	}
	cfg.NetEnabled = parseBool(os.Getenv(envNetEnabled))
	cfg.Server = os.Getenv(envServer)
	cfg.AuthToken = os.Getenv(envAuthToken)
	cfg.RepoID = os.Getenv(envRepoID)
	cfg.JobID = os.Getenv(envJobID)
	cfg.RunID = os.Getenv(envRunID)
	return cfg, nil
}

func loadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &File{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &f, nil
}

func parseBool(v string) bool {
	switch v {
	case "", "0", "false", "False", "FALSE":
		return false
	default:
		return true
	}
}
