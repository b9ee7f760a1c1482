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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultDataFile, cfg.DataFile)
	assert.False(t, cfg.NetEnabled)
	assert.Empty(t, cfg.Environment)
}

func TestLoad_ParsesFileFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	writeFile(t, path, "environment: go1.22\nexclude:\n  - vendor/**\n  - \"*.gen.go\"\nbatch_size: 250\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "go1.22", cfg.Environment)
	assert.Equal(t, []string{"vendor/**", "*.gen.go"}, cfg.Exclude)
	assert.Equal(t, 250, cfg.BatchSize)
}

func TestLoad_EnvVarsOverlayFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	writeFile(t, path, "environment: go1.22\n")

	t.Setenv(envDataFile, "/tmp/custom.db")
	t.Setenv(envNetEnabled, "1")
	t.Setenv(envServer, "https://ezmon.example.com")
	t.Setenv(envAuthToken, "secret-token")
	t.Setenv(envRepoID, "repo-42")
	t.Setenv(envJobID, "job-7")
	t.Setenv(envRunID, "run-99")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/custom.db", cfg.DataFile)
	assert.True(t, cfg.NetEnabled)
	assert.Equal(t, "https://ezmon.example.com", cfg.Server)
	assert.Equal(t, "secret-token", cfg.AuthToken)
	assert.Equal(t, "repo-42", cfg.RepoID)
	assert.Equal(t, "job-7", cfg.JobID)
	assert.Equal(t, "run-99", cfg.RunID)
	assert.Equal(t, "go1.22", cfg.Environment, "file fields survive when no env var names them")
}

func TestLoad_InvalidYAMLFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	writeFile(t, path, "environment: [unterminated\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestParseBool(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"0":     false,
		"false": false,
		"False": false,
		"1":     true,
		"true":  true,
		"yes":   true,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseBool(in), "parseBool(%q)", in)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
