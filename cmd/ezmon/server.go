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
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/ezmon/internal/config"
	"github.com/kraklabs/ezmon/pkg/netstore"
	"github.com/kraklabs/ezmon/pkg/store"
)

// runServer implements `ezmon server`: the Network Store (C9) HTTP facade,
// grounded on the sibling pack repo's `cie serve` command shape (health
// endpoint, signal-driven graceful shutdown) but delegating every
// `/api/rpc/...` handler to pkg/netstore.Server rather than reimplementing
// routing here.
func runServer(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	addr := fs.StringP("addr", "a", ":8080", "Address to listen on")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ezmon server [options]

Starts the Network Store HTTP server other ezmon processes can record
test sessions through instead of a local SQLite file.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Environment Variables:
  DATA_FILE    The server's own SQLite store path
  AUTH_TOKEN   Bearer token required of clients (empty disables auth)
`)
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(config.FileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ezmon: cannot load configuration: %v\n", err)
		return 1
	}

	logger := slog.Default()
	db, err := store.Open(store.Config{Path: cfg.DataFile}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ezmon: cannot open store: %v\n", err)
		return 1
	}
	defer db.Close()

	srv := netstore.NewServer(netstore.ServerConfig{Store: db, AuthToken: cfg.AuthToken, Logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("ezmon server listening on %s (store: %s)", *addr, cfg.DataFile)
	if err := srv.ListenAndServe(ctx, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "ezmon: server error: %v\n", err)
		return 1
	}
	return 0
}
