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

package deptrack

import (
	"fmt"
	"os/exec"
	"strings"
)

// GitBlobResolver looks up the committed blob SHA of a path in a git
// working tree, always against HEAD's tree — never the working copy — per
// spec.md invariant I4.
type GitBlobResolver struct {
	repoPath string
}

// NewGitBlobResolver creates a resolver rooted at repoPath.
func NewGitBlobResolver(repoPath string) *GitBlobResolver {
	return &GitBlobResolver{repoPath: repoPath}
}

// BlobSHA returns the committed blob SHA of path at HEAD, or ok=false if
// path is not tracked at HEAD (untracked, deleted, or never committed).
func (r *GitBlobResolver) BlobSHA(path string) (sha string, ok bool, err error) {
	cmd := exec.Command("git", "rev-parse", "HEAD:"+path)
	cmd.Dir = r.repoPath
	out, err := cmd.Output()
	if err != nil {
		if exitErr, isExit := err.(*exec.ExitError); isExit {
			// A non-zero exit with "fatal: Path ... does not exist" means the
			// path simply isn't tracked; that's not an error condition here.
			if strings.Contains(string(exitErr.Stderr), "does not exist") ||
				strings.Contains(string(exitErr.Stderr), "exists on disk, but not in") {
				return "", false, nil
			}
			return "", false, fmt.Errorf("deptrack: git rev-parse HEAD:%s: %s", path, string(exitErr.Stderr))
		}
		return "", false, fmt.Errorf("deptrack: git rev-parse HEAD:%s: %w", path, err)
	}
	return strings.TrimSpace(string(out)), true, nil
}

// IsGitRepository reports whether repoPath is inside a git working tree.
func (r *GitBlobResolver) IsGitRepository() bool {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = r.repoPath
	return cmd.Run() == nil
}
