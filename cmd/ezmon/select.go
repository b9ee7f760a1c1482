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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/kraklabs/ezmon/internal/config"
	"github.com/kraklabs/ezmon/internal/errors"
	"github.com/kraklabs/ezmon/internal/output"
	"github.com/kraklabs/ezmon/internal/ui"
	"github.com/kraklabs/ezmon/pkg/block"
	"github.com/kraklabs/ezmon/pkg/deptrack"
	"github.com/kraklabs/ezmon/pkg/netstore"
	"github.com/kraklabs/ezmon/pkg/selector"
	"github.com/kraklabs/ezmon/pkg/session"
	"github.com/kraklabs/ezmon/pkg/sourcecache"
	"github.com/kraklabs/ezmon/pkg/store"
)

// selectOptions is the resolved (not raw-flag) behavior for one pass,
// mirroring spec.md §6's CLI flags after --select/--no-select/--no-collect
// have been reconciled in main().
type selectOptions struct {
	Select      bool
	Collect     bool
	ForceSelect bool
	Env         string
	Graph       bool
}

// passInput is the batch.json a host runner's plugin glue (out of scope)
// is expected to pipe to stdin: the full set of test ids this pass
// discovered, and — when collecting — the fingerprinted results of having
// run them.
type passInput struct {
	TestIDs    []string              `json:"test_ids"`
	Executions []store.TestExecution `json:"executions"`
}

// passResult is what is printed to stdout in --json mode, or summarized on
// one line otherwise, per spec.md §7's "ezmon: N affected, M unaffected,
// K unknown" requirement.
type passResult struct {
	Affected   []string `json:"affected"`
	Unaffected []string `json:"unaffected"`
	Unknown    []string `json:"unknown"`
	Selected   []string `json:"selected"`
}

// noPackages is a PackageVersions that never reports an installed version.
// Go has no single ecosystem-standard way to introspect another binary's
// module versions at runtime the way Python's importlib.metadata does, and
// nothing in the retrieval pack offers one; reporting "unknown" for every
// package degrades safely to "never treat this dependency as satisfied",
// which only ever pushes a test from unaffected into affected — never the
// reverse — so it cannot hide a real change.
type noPackages struct{}

func (noPackages) InstalledVersion(string) (string, bool) { return "", false }

func runSelect(opts selectOptions, globals GlobalFlags) int {
	cfg, err := config.Load(config.FileName)
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"Cannot load ezmon configuration",
			err.Error(),
			"Check .ezmon.yaml for syntax errors",
			err,
		), globals.JSON)
	}
	if opts.Env != "" {
		cfg.Environment = opts.Env
	}

	logger := slog.Default()
	ctx := context.Background()

	var in passInput
	if err := json.NewDecoder(os.Stdin).Decode(&in); err != nil && err != io.EOF {
		errors.FatalError(errors.NewInputError(
			"Cannot parse pass input",
			err.Error(),
			"Pipe a JSON object shaped {test_ids, executions} to stdin",
		), globals.JSON)
	}

	db, err := store.Open(store.Config{Path: cfg.DataFile}, logger)
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot open ezmon store",
			err.Error(),
			"Check that DATA_FILE points to a writable path",
			err,
		), globals.JSON)
	}
	defer db.Close()

	env, err := db.FetchOrCreateEnvironment(ctx, cfg.Environment, "", "")
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot resolve environment",
			err.Error(),
			"Retry; if this persists the store file may be corrupt",
			err,
		), globals.JSON)
	}

	result := passResult{}
	wd, _ := os.Getwd()

	if opts.Select {
		cache := sourcecache.New(wd, block.NewExtractor(logger), logger)
		sel := selector.New(selector.Deps{
			Store:    db,
			Cache:    cache,
			Blobs:    deptrack.NewGitBlobResolver(wd),
			Packages: noPackages{},
			Logger:   logger,
		})
		progress := NewProgressConfig(globals)
		spinner := NewSpinner(progress, "ezmon: selecting")
		spinnerDone := startSpinner(spinner)
		selection, err := sel.Select(ctx, env.ID, in.TestIDs, selector.Options{})
		spinnerDone()
		if err != nil {
			errors.FatalError(errors.NewInternalError(
				"Selection failed",
				err.Error(),
				"Run with --no-select to skip selection and collect only",
				err,
			), globals.JSON)
		}
		result.Affected = selection.Affected
		result.Unaffected = selection.Unaffected
		result.Unknown = selection.Unknown
		result.Selected = append(append([]string{}, selection.Affected...), selection.Unknown...)
		if opts.ForceSelect {
			// ForceSelect only changes how the host applies Selected against
			// its own explicit test filters; the partition itself is
			// unaffected, so there is nothing further to compute here.
			logger.Info("select.force_select", "selected", len(result.Selected))
		}
	} else {
		result.Selected = in.TestIDs
	}

	if opts.Collect && len(in.Executions) > 0 {
		if err := collect(ctx, cfg, db, env.ID, in.Executions, logger, NewProgressConfig(globals)); err != nil {
			errors.FatalError(errors.NewInternalError(
				"Collection failed",
				err.Error(),
				"Check SERVER/AUTH_TOKEN if NET_ENABLED is set",
				err,
			), globals.JSON)
		}
	}

	if opts.Graph {
		if err := emitGraph(ctx, db, in.Executions); err != nil {
			logger.Warn("select.graph.failed", "err", err)
		}
	}

	report(result, globals)

	for _, id := range in.Executions {
		if id.Failed {
			return errors.ExitTestFailures
		}
	}
	return errors.ExitSuccess
}

func collect(ctx context.Context, cfg *config.Config, db *store.Store, envID int64, executions []store.TestExecution, logger *slog.Logger, progress ProgressConfig) error {
	var backend session.Backend
	if cfg.NetEnabled {
		client := netstore.NewClient(cfg.Server, cfg.RepoID, cfg.JobID, cfg.AuthToken)
		backend = client
	} else {
		backend = &session.LocalBackend{Store: db, EnvID: envID}
	}

	spillDir := cfg.DataFile + ".spill"
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = session.DefaultBatchSize
	}
	orch := session.New(session.Config{
		Backend:   backend,
		Spiller:   session.NewFileSpiller(spillDir),
		BatchSize: batchSize,
		Logger:    logger,
	})

	if _, _, err := orch.Initiate(ctx); err != nil {
		return err
	}

	bar := NewProgressBar(progress, int64(len(executions)), "ezmon: collecting")
	for _, chunk := range session.Batch(executions, batchSize) {
		if err := orch.RecordBatch(ctx, chunk); err != nil {
			return err
		}
		if bar != nil {
			bar.Add(len(chunk))
		}
	}
	if bar != nil {
		bar.Finish()
	}

	return orch.Finish(ctx, 0, 0*time.Second)
}

// startSpinner drives an indeterminate spinner while a blocking call (the
// Selector's single classification pass) runs on the caller's goroutine. The
// returned func stops the spinner and must be called before inspecting the
// blocking call's result. A nil spinner (progress disabled) is a no-op.
func startSpinner(bar *progressbar.ProgressBar) func() {
	if bar == nil {
		return func() {}
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				bar.Add(1)
			}
		}
	}()
	return func() {
		close(stop)
		<-done
		bar.Finish()
	}
}

func emitGraph(ctx context.Context, db *store.Store, executions []store.TestExecution) error {
	var edges []store.DependencyEdge
	runTag := time.Now().UTC().Format(time.RFC3339)
	for _, te := range executions {
		for _, fp := range te.Fingerprints {
			edges = append(edges, store.DependencyEdge{SourceFile: te.TestID, Target: fp.Filename, Kind: "local", RunTag: runTag})
		}
		for _, dep := range te.ExternalDeps {
			edges = append(edges, store.DependencyEdge{SourceFile: te.TestID, Target: dep.PackageName, Kind: "external", RunTag: runTag})
		}
	}
	if len(edges) == 0 {
		return nil
	}
	return db.RecordDependencyEdges(ctx, edges)
}

func report(result passResult, globals GlobalFlags) {
	if globals.JSON {
		if err := output.JSONTo(os.Stdout, result); err != nil {
			fmt.Fprintf(os.Stderr, "ezmon: failed to encode result: %v\n", err)
		}
		return
	}
	if globals.Quiet {
		return
	}
	ui.Infof("ezmon: %s affected, %s unaffected, %s unknown",
		ui.CountText(len(result.Affected)), ui.CountText(len(result.Unaffected)), ui.CountText(len(result.Unknown)))
}
