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

// Package testing provides shared test fixtures for ezmon's own test
// suite: a throwaway git repository builder for exercising the
// Dependency Tracker's committed-blob-SHA semantics, and a helper for
// opening an isolated Store against a temp-dir SQLite file.
//
// # Quick Start
//
//	func TestMyFeature(t *testing.T) {
//	    repo := testing.NewGitRepo(t)
//	    repo.WriteFile("config.json", `{"a":1}`)
//	    sha := repo.Commit("initial")
//
//	    s := testing.SetupTestStore(t)
//	    // s and repo are both cleaned up automatically.
//	}
package testing
