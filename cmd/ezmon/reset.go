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

package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/ezmon/internal/config"
	"github.com/kraklabs/ezmon/internal/errors"
	"github.com/kraklabs/ezmon/internal/ui"
)

// runReset implements `ezmon reset`: delete the local store so the next
// pass starts from a clean slate.
func runReset(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	confirm := fs.Bool("yes", false, "Confirm the reset (required)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ezmon reset [options]

Deletes the local store, clearing every recorded fingerprint and test
execution. The next pass starts with every test unknown.

WARNING: This operation is destructive and cannot be undone!

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if !*confirm {
		fmt.Fprintln(os.Stderr, "Error: you must pass --yes to confirm the reset")
		os.Exit(1)
	}

	cfg, err := config.Load(config.FileName)
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"Cannot load ezmon configuration", err.Error(), "Check .ezmon.yaml for syntax errors", err,
		), globals.JSON)
	}

	if _, err := os.Stat(cfg.DataFile); os.IsNotExist(err) {
		fmt.Printf("No local data found at %s\n", cfg.DataFile)
		return
	}

	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(cfg.DataFile + suffix); err != nil && !os.IsNotExist(err) {
			errors.FatalError(errors.NewPermissionError(
				"Cannot delete store file", err.Error(), "Check file permissions on "+cfg.DataFile, err,
			), globals.JSON)
		}
	}

	ui.Success("Reset complete. All local recorded data has been deleted.")
}
