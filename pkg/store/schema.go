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

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// schema is the DDL for every table in spec.md §4.6. Names are semantic,
// matching the spec's table names exactly.
const schema = `
PRAGMA journal_mode = WAL;
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS environment (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	system_packages TEXT NOT NULL,
	language_version TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_environment_name ON environment(name);

CREATE TABLE IF NOT EXISTS file_fp (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filename TEXT NOT NULL,
	checksums BLOB NOT NULL,
	mtime REAL NOT NULL,
	content_hash TEXT NOT NULL,
	UNIQUE(filename, checksums)
);
CREATE INDEX IF NOT EXISTS idx_file_fp_filename ON file_fp(filename);

CREATE TABLE IF NOT EXISTS test_execution (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	env_id INTEGER NOT NULL REFERENCES environment(id) ON DELETE CASCADE,
	test_id TEXT NOT NULL,
	duration REAL NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	forced INTEGER NOT NULL DEFAULT 0,
	UNIQUE(env_id, test_id)
);

CREATE TABLE IF NOT EXISTS test_execution_file_fp (
	test_execution_id INTEGER NOT NULL REFERENCES test_execution(id) ON DELETE CASCADE,
	file_fp_id INTEGER NOT NULL REFERENCES file_fp(id) ON DELETE CASCADE,
	PRIMARY KEY (test_execution_id, file_fp_id)
);

CREATE TABLE IF NOT EXISTS file_dependency (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filename TEXT NOT NULL,
	sha TEXT NOT NULL,
	UNIQUE(filename, sha)
);

CREATE TABLE IF NOT EXISTS test_execution_file_dependency (
	test_execution_id INTEGER NOT NULL REFERENCES test_execution(id) ON DELETE CASCADE,
	file_dependency_id INTEGER NOT NULL REFERENCES file_dependency(id) ON DELETE CASCADE,
	PRIMARY KEY (test_execution_id, file_dependency_id)
);

CREATE TABLE IF NOT EXISTS test_external_dependency (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	test_execution_id INTEGER NOT NULL REFERENCES test_execution(id) ON DELETE CASCADE,
	package_name TEXT NOT NULL,
	package_version TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_test_external_dependency_te ON test_external_dependency(test_execution_id);

CREATE TABLE IF NOT EXISTS dependency_graph (
	source_file TEXT NOT NULL,
	target TEXT NOT NULL,
	kind TEXT NOT NULL,
	run_tag TEXT NOT NULL,
	UNIQUE(source_file, target, kind, run_tag)
);

CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store is a transactional relational store over SQLite (spec.md C6).
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.RWMutex
}

// Config configures a Store.
type Config struct {
	// Path is the SQLite database file. A parent directory is created if
	// missing.
	Path string
	// BusyTimeoutMS is the SQLite busy_timeout, in milliseconds; defaults
	// to 30000 (30s), matching §4.6's "30s busy wait".
	BusyTimeoutMS int
}

// Open opens (creating if necessary) a Store at cfg.Path, with WAL
// journaling and foreign keys enabled, mirroring the teacher's
// `EmbeddedBackend` construction shape (ensure parent dir, open, init
// schema) but retargeted from CozoDB to `database/sql` over
// modernc.org/sqlite.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BusyTimeoutMS == 0 {
		cfg.BusyTimeoutMS = 30000
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)",
		cfg.Path, cfg.BusyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Path, err)
	}
	// SQLite only supports one writer at a time; database/sql's pool would
	// otherwise hand out parallel connections that serialize behind SQLITE_BUSY
	// anyway, but capping to 1 makes the write-lock contention our own retry
	// wrapper handles, not a silent pool-level stall.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
