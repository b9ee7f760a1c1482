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
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/ezmon/internal/bootstrap"
	"github.com/kraklabs/ezmon/internal/ui"
)

// runInit implements `ezmon init`: create the local store and a default
// .ezmon.yaml in the current directory, so the first select/collect pass
// has something to read instead of implicitly creating it mid-run.
func runInit(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	environment := fs.String("env", "", "Default environment label written into .ezmon.yaml")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ezmon init [options]

Creates the local store and a default .ezmon.yaml in the current
directory. Safe to run more than once: existing data is never touched.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	info, err := bootstrap.InitProject(bootstrap.ProjectConfig{Environment: *environment}, slog.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "ezmon: init failed: %v\n", err)
		os.Exit(1)
	}

	if globals.Quiet {
		return
	}
	ui.Success(fmt.Sprintf("Initialized ezmon project (store: %s, config: %s)", info.DataFile, info.ConfigFile))
}
