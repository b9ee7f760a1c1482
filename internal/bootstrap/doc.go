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

// Package bootstrap handles ezmon project initialization and setup.
//
// This internal package provides the core initialization logic for ezmon
// projects: creating the local SQLite store (pkg/store) and writing a
// default .ezmon.yaml configuration file when a directory is used for the
// first time.
//
// # Initialization Workflow
//
// A typical workflow for setting up a new ezmon project:
//
//	info, err := bootstrap.InitProject(bootstrap.ProjectConfig{
//	    Environment: "default",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Store created at: %s\n", info.DataFile)
//
//	// Later, open the project's store
//	db, err := bootstrap.OpenProject(bootstrap.ProjectConfig{}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
// # Idempotency
//
// InitProject is idempotent: calling it multiple times on the same
// directory is safe and never touches existing data. The store's own
// schema uses CREATE TABLE IF NOT EXISTS, and the config file is only
// written when absent.
//
// # Configuration
//
// ProjectConfig controls the initialization behavior:
//
//   - Environment: the test environment partition written into a fresh
//     .ezmon.yaml (see internal/config).
//   - DataDir: where the store file and .ezmon.yaml live. Defaults to the
//     current working directory.
//
// # Project Discovery
//
// ListProjects enumerates subdirectories of a root that already contain
// an initialized store, for tooling that operates across many checkouts:
//
//	projects, err := bootstrap.ListProjects("/srv/repos")
//	for _, name := range projects {
//	    fmt.Println(name)
//	}
package bootstrap
