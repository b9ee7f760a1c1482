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

// Package main implements the ezmon CLI: the administrative surface a host
// test runner's plugin glue drives around the test-impact analysis core.
// The plugin glue itself (what triggers these hooks from inside a test run)
// is out of scope; this binary is the thin layer the glue shells out to.
//
// Usage:
//
//	ezmon [flags] < batch.json   Run one select/collect pass
//	ezmon status                 Show local store summary
//	ezmon reset                  Delete the local store
//	ezmon server                 Start the Network Store HTTP server
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/ezmon/internal/ui"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags holds the flags every ezmon subcommand and the default
// select/collect pass inherit.
type GlobalFlags struct {
	JSON    bool
	NoColor bool
	Verbose int
	Quiet   bool
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v info, -vv debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output")

		doSelect    = flag.Bool("select", false, "Enable selection and collection (default off)")
		noSelect    = flag.Bool("no-select", false, "Disable selection; collection still occurs")
		noCollect   = flag.Bool("no-collect", false, "Selection only; do not update the store")
		forceSelect = flag.Bool("force-select", false, "Apply selection even when the host has explicit filters")
		envName     = flag.String("env", "", "Partition fingerprints per environment label")
		graph       = flag.Bool("graph", false, "Emit a dependency-graph artifact at finish")
	)

	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `ezmon - test-impact analysis engine

Usage:
  ezmon [flags] < batch.json   Run one select/collect pass
  ezmon <command> [options]

Commands:
  init        Create the local store and a default .ezmon.yaml
  status      Show local store summary
  reset       Delete the local store (destructive!)
  server      Start the Network Store HTTP server
  completion  Generate shell completion scripts

Flags:
  --select          Enable selection and collection (default off)
  --no-select       Disable selection; collection still occurs
  --no-collect      Selection only; do not update the store
  --force-select    Apply selection even when the host has explicit filters
  --env=<name>      Partition fingerprints per environment label
  --graph           Emit a dependency-graph artifact at finish
  --json            Output in JSON format
  --no-color        Disable color output (respects NO_COLOR env var)
  -v, --verbose     Increase verbosity (-v info, -vv debug)
  -q, --quiet       Suppress non-essential output
  -V, --version     Show version and exit

Environment Variables:
  DATA_FILE    Override the local store path (default: .ezmon.db)
  NET_ENABLED  "true" to record through the Network Store instead of locally
  SERVER       Network Store base URL
  AUTH_TOKEN   Network Store bearer token
  REPO_ID      Network Store repo scope
  JOB_ID       Network Store job scope
  RUN_ID       This invocation's run identifier

Exit codes: 0 success, 1 test failures, 2 internal errors.
`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("ezmon version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{JSON: *jsonOutput, NoColor: *noColor, Verbose: *verbose, Quiet: *quiet}
	ui.InitColors(globals.NoColor)

	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "init":
			runInit(args[1:], globals)
			return
		case "status":
			runStatus(args[1:], globals)
			return
		case "reset":
			runReset(args[1:], globals)
			return
		case "server":
			os.Exit(runServer(args[1:], globals))
		case "completion":
			runCompletion(args[1:], globals)
			return
		default:
			fmt.Fprintf(os.Stderr, "ezmon: unknown command %q\n", args[0])
			flag.Usage()
			os.Exit(1)
		}
		return
	}

	opts := selectOptions{
		Select:      *doSelect && !*noSelect,
		Collect:     !*noCollect,
		ForceSelect: *forceSelect,
		Env:         *envName,
		Graph:       *graph,
	}
	os.Exit(runSelect(opts, globals))
}
