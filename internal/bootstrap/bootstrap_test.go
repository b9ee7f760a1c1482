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

package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/ezmon/internal/config"
)

func TestInitProject_CreatesStoreAndConfig(t *testing.T) {
	dir := t.TempDir()

	info, err := InitProject(ProjectConfig{Environment: "ci", DataDir: dir}, nil)
	require.NoError(t, err)

	assert.FileExists(t, info.DataFile)
	assert.FileExists(t, info.ConfigFile)

	data, err := os.ReadFile(info.ConfigFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ci")
}

func TestInitProject_IsIdempotent(t *testing.T) {
	dir := t.TempDir()

	_, err := InitProject(ProjectConfig{Environment: "ci", DataDir: dir}, nil)
	require.NoError(t, err)

	// A second init must not error and must not overwrite the config.
	_, err = InitProject(ProjectConfig{Environment: "other", DataDir: dir}, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, config.FileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "ci")
	assert.NotContains(t, string(data), "other")
}

func TestOpenProject_MissingStoreErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenProject(ProjectConfig{DataDir: dir}, nil)
	assert.Error(t, err)
}

func TestOpenProject_OpensExistingStore(t *testing.T) {
	dir := t.TempDir()

	_, err := InitProject(ProjectConfig{DataDir: dir}, nil)
	require.NoError(t, err)

	db, err := OpenProject(ProjectConfig{DataDir: dir}, nil)
	require.NoError(t, err)
	defer db.Close()
}

func TestListProjects_FindsInitializedDirsOnly(t *testing.T) {
	root := t.TempDir()

	initialized := filepath.Join(root, "has-store")
	require.NoError(t, os.Mkdir(initialized, 0o755))
	_, err := InitProject(ProjectConfig{DataDir: initialized}, nil)
	require.NoError(t, err)

	require.NoError(t, os.Mkdir(filepath.Join(root, "empty"), 0o755))

	projects, err := ListProjects(root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"has-store"}, projects)
}

func TestListProjects_MissingRootReturnsEmpty(t *testing.T) {
	projects, err := ListProjects(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, projects)
}
