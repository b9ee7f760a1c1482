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
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/ezmon/internal/config"
	"github.com/kraklabs/ezmon/internal/errors"
	"github.com/kraklabs/ezmon/internal/output"
	"github.com/kraklabs/ezmon/internal/ui"
	"github.com/kraklabs/ezmon/pkg/store"
)

type statusReport struct {
	DataFile     string `json:"data_file"`
	Environment  string `json:"environment"`
	KnownFiles   int    `json:"known_files"`
	LastRunTests string `json:"last_run_total_tests,omitempty"`
	LastRunSaved string `json:"last_run_saved_tests,omitempty"`
}

// runStatus implements `ezmon status`: a read-only summary of the local
// store, grounded on the teacher's `cie status` command.
func runStatus(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Output in JSON format")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ezmon status [--json]\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *jsonOut {
		globals.JSON = true
	}

	cfg, err := config.Load(config.FileName)
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"Cannot load ezmon configuration", err.Error(), "Check .ezmon.yaml for syntax errors", err,
		), globals.JSON)
	}

	ctx := context.Background()
	db, err := store.Open(store.Config{Path: cfg.DataFile}, nil)
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot open ezmon store", err.Error(), "Check that DATA_FILE points to a readable path", err,
		), globals.JSON)
	}
	defer db.Close()

	env, err := db.FetchOrCreateEnvironment(ctx, cfg.Environment, "", "")
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot resolve environment", err.Error(), "Retry; if this persists the store file may be corrupt", err,
		), globals.JSON)
	}

	known, err := db.KnownFilenames(ctx, env.ID)
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot read known filenames", err.Error(), "Retry; if this persists the store file may be corrupt", err,
		), globals.JSON)
	}

	report := statusReport{DataFile: cfg.DataFile, Environment: cfg.Environment, KnownFiles: len(known)}
	if v, ok, _ := db.ReadMetadata(ctx, "last_run_total_tests"); ok {
		report.LastRunTests = v
	}
	if v, ok, _ := db.ReadMetadata(ctx, "last_run_saved_tests"); ok {
		report.LastRunSaved = v
	}

	if globals.JSON {
		_ = output.JSONTo(os.Stdout, report)
		return
	}

	ui.Header("ezmon Store Status")
	fmt.Printf("%s %s\n", ui.Label("Data file:"), report.DataFile)
	fmt.Printf("%s %s\n", ui.Label("Environment:"), report.Environment)
	fmt.Printf("%s %s\n", ui.Label("Known files:"), ui.CountText(report.KnownFiles))
	if report.LastRunTests != "" {
		fmt.Printf("%s %s\n", ui.Label("Last run total tests:"), report.LastRunTests)
		fmt.Printf("%s %s\n", ui.Label("Last run saved tests:"), report.LastRunSaved)
	}
}
