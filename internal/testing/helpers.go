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

package testing

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kraklabs/ezmon/pkg/store"
)

// GitRepo is a throwaway git working tree for tests that exercise the
// Dependency Tracker's committed-blob-SHA semantics (I4): a real `git`
// binary is shelled out to rather than faking the plumbing, the same
// approach pkg/deptrack's own fixtures use.
type GitRepo struct {
	t   *testing.T
	Dir string
}

// NewGitRepo creates an empty repository in a fresh temp directory and
// configures a throwaway author identity so commits succeed in CI
// environments with no global git config.
func NewGitRepo(t *testing.T) *GitRepo {
	t.Helper()
	dir := t.TempDir()
	r := &GitRepo{t: t, Dir: dir}
	r.run("init")
	r.run("config", "user.email", "ezmon-test@example.com")
	r.run("config", "user.name", "ezmon-test")
	return r
}

func (r *GitRepo) run(args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=ezmon-test", "GIT_AUTHOR_EMAIL=ezmon-test@example.com",
		"GIT_COMMITTER_NAME=ezmon-test", "GIT_COMMITTER_EMAIL=ezmon-test@example.com",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// WriteFile writes content to path relative to the repo root, creating
// parent directories as needed.
func (r *GitRepo) WriteFile(path, content string) {
	r.t.Helper()
	full := filepath.Join(r.Dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		r.t.Fatalf("mkdir %s: %v", filepath.Dir(full), err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		r.t.Fatalf("write %s: %v", path, err)
	}
}

// Commit stages every change, untracked files included (git add -A), and
// commits with msg, returning the
// new commit's full HEAD SHA.
func (r *GitRepo) Commit(msg string) string {
	r.t.Helper()
	r.run("add", "-A")
	r.run("commit", "-m", msg)
	return r.run("rev-parse", "HEAD")
}

// SetupTestStore opens a fresh ezmon.db under a temp directory, returning
// a *store.Store cleaned up automatically when the test finishes.
func SetupTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(store.Config{Path: filepath.Join(dir, "ezmon.db")}, nil)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}
