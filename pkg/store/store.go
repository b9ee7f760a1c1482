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
	"encoding/binary"
	"errors"
	"sort"
)

// packChecksums encodes a multiset of checksums as a sorted, big-endian
// packed byte slice: sorting first makes the encoding — and hence the
// (filename, checksums) uniqueness constraint — order-independent, matching
// the spec's "multiset" semantics for FileFingerprint identity.
func packChecksums(checksums []uint32) []byte {
	sorted := append([]uint32(nil), checksums...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := make([]byte, 4*len(sorted))
	for i, c := range sorted {
		binary.BigEndian.PutUint32(out[i*4:], c)
	}
	return out
}

func unpackChecksums(packed []byte) []uint32 {
	out := make([]uint32, len(packed)/4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(packed[i*4:])
	}
	return out
}

// FetchOrCreateEnvironment returns the environment matching (name,
// systemPackages, languageVersion), creating it if no such row exists.
// Per I5, a changed systemPackages always yields a new row rather than an
// update of the existing one.
func (s *Store) FetchOrCreateEnvironment(ctx context.Context, name, systemPackages, languageVersion string) (Environment, error) {
	var env Environment
	err := s.withWriteTx(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx,
			`SELECT id FROM environment WHERE name = ? AND system_packages = ? AND language_version = ?`,
			name, systemPackages, languageVersion)
		var id int64
		switch err := row.Scan(&id); {
		case err == nil:
			env = Environment{ID: id, Name: name, SystemPackages: systemPackages, LanguageVersion: languageVersion}
			return nil
		case errors.Is(err, sql.ErrNoRows):
			res, err := conn.ExecContext(ctx,
				`INSERT INTO environment(name, system_packages, language_version) VALUES (?, ?, ?)`,
				name, systemPackages, languageVersion)
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			env = Environment{ID: id, Name: name, SystemPackages: systemPackages, LanguageVersion: languageVersion}
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return Environment{}, wrapf(err, "store: FetchOrCreateEnvironment")
	}

	s.runDeferredCleanup(ctx, func(conn *sql.Conn) error {
		return deleteSupersededEnvironments(ctx, conn, name, env.ID)
	})

	return env, nil
}

// deleteSupersededEnvironments removes environment rows sharing name but
// not keepID, i.e. earlier system_packages_descriptor versions that a
// fresh FetchOrCreateEnvironment call has superseded.
func deleteSupersededEnvironments(ctx context.Context, conn *sql.Conn, name string, keepID int64) error {
	_, err := conn.ExecContext(ctx, `DELETE FROM environment WHERE name = ? AND id != ?`, name, keepID)
	return err
}

// insertFingerprint inserts fp for filename if no identical (filename,
// checksums) row already exists, returning its id either way —
// FileFingerprint rows are deduplicated in the store per spec.md §3.
func insertFingerprint(ctx context.Context, conn *sql.Conn, fp FileFingerprint) (int64, error) {
	packed := packChecksums(fp.Checksums)
	row := conn.QueryRowContext(ctx, `SELECT id FROM file_fp WHERE filename = ? AND checksums = ?`, fp.Filename, packed)
	var id int64
	switch err := row.Scan(&id); {
	case err == nil:
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		res, err := conn.ExecContext(ctx,
			`INSERT INTO file_fp(filename, checksums, mtime, content_hash) VALUES (?, ?, ?, ?)`,
			fp.Filename, packed, fp.Mtime, fp.ContentHash)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	default:
		return 0, err
	}
}

func insertFileDependency(ctx context.Context, conn *sql.Conn, dep FileDependency) (int64, error) {
	row := conn.QueryRowContext(ctx, `SELECT id FROM file_dependency WHERE filename = ? AND sha = ?`, dep.Filename, dep.SHA)
	var id int64
	switch err := row.Scan(&id); {
	case err == nil:
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		res, err := conn.ExecContext(ctx, `INSERT INTO file_dependency(filename, sha) VALUES (?, ?)`, dep.Filename, dep.SHA)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	default:
		return 0, err
	}
}

// InsertTestExecutions writes a batch of TestExecution rows for envID,
// replacing each test's previous row (one row per (env_id, test_id) is
// kept current) and linking its FileFingerprints, FileDeps, and
// ExternalDeps, with fingerprint deduplication via insertFingerprint.
func (s *Store) InsertTestExecutions(ctx context.Context, envID int64, batch []TestExecution) error {
	return s.withWriteTx(ctx, func(conn *sql.Conn) error {
		for _, te := range batch {
			_, err := conn.ExecContext(ctx,
				`INSERT INTO test_execution(env_id, test_id, duration, failed, forced) VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT(env_id, test_id) DO UPDATE SET duration = excluded.duration, failed = excluded.failed, forced = excluded.forced`,
				envID, te.TestID, te.Duration, boolToInt(te.Failed), boolToInt(te.Forced))
			if err != nil {
				return err
			}
			// SQLite's last_insert_rowid() is unreliable across an
			// INSERT ... ON CONFLICT DO UPDATE, so re-select the id rather
			// than trust the Exec result.
			var teID int64
			row := conn.QueryRowContext(ctx, `SELECT id FROM test_execution WHERE env_id = ? AND test_id = ?`, envID, te.TestID)
			if err := row.Scan(&teID); err != nil {
				return err
			}

			if _, err := conn.ExecContext(ctx, `DELETE FROM test_execution_file_fp WHERE test_execution_id = ?`, teID); err != nil {
				return err
			}
			for _, fp := range te.Fingerprints {
				fpID, err := insertFingerprint(ctx, conn, fp)
				if err != nil {
					return err
				}
				if _, err := conn.ExecContext(ctx,
					`INSERT OR IGNORE INTO test_execution_file_fp(test_execution_id, file_fp_id) VALUES (?, ?)`, teID, fpID); err != nil {
					return err
				}
			}

			if _, err := conn.ExecContext(ctx, `DELETE FROM test_execution_file_dependency WHERE test_execution_id = ?`, teID); err != nil {
				return err
			}
			for _, dep := range te.FileDeps {
				depID, err := insertFileDependency(ctx, conn, dep)
				if err != nil {
					return err
				}
				if _, err := conn.ExecContext(ctx,
					`INSERT OR IGNORE INTO test_execution_file_dependency(test_execution_id, file_dependency_id) VALUES (?, ?)`, teID, depID); err != nil {
					return err
				}
			}

			if _, err := conn.ExecContext(ctx, `DELETE FROM test_external_dependency WHERE test_execution_id = ?`, teID); err != nil {
				return err
			}
			for _, ext := range te.ExternalDeps {
				if _, err := conn.ExecContext(ctx,
					`INSERT INTO test_external_dependency(test_execution_id, package_name, package_version) VALUES (?, ?, ?)`,
					teID, ext.PackageName, ext.PackageVersion); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// ChangedFiles returns the subset of currentHashes' keys whose stored
// content_hash differs from the value given (or which have no stored row
// at all, i.e. were never observed).
func (s *Store) ChangedFiles(ctx context.Context, currentHashes map[string]string) (map[string]struct{}, error) {
	changed := make(map[string]struct{})
	for path, hash := range currentHashes {
		row := s.db.QueryRowContext(ctx, `SELECT content_hash FROM file_fp WHERE filename = ? LIMIT 1`, path)
		var stored string
		switch err := row.Scan(&stored); {
		case err == nil:
			if stored != hash {
				changed[path] = struct{}{}
			}
		case errors.Is(err, sql.ErrNoRows):
			changed[path] = struct{}{}
		default:
			return nil, wrapf(err, "store: ChangedFiles %s", path)
		}
	}
	return changed, nil
}

// TestExecutionsForEnv returns every current TestExecution for envID, with
// its linked fingerprints, file dependencies, and external dependencies
// populated — the input the Selector needs to classify each test.
func (s *Store) TestExecutionsForEnv(ctx context.Context, envID int64) ([]TestExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, test_id, duration, failed, forced FROM test_execution WHERE env_id = ?`, envID)
	if err != nil {
		return nil, wrapf(err, "store: TestExecutionsForEnv")
	}
	defer rows.Close()

	var out []TestExecution
	for rows.Next() {
		var te TestExecution
		var failed, forced int
		if err := rows.Scan(&te.ID, &te.TestID, &te.Duration, &failed, &forced); err != nil {
			return nil, err
		}
		te.EnvID = envID
		te.Failed = failed != 0
		te.Forced = forced != 0
		out = append(out, te)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if err := s.loadLinks(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) loadLinks(ctx context.Context, te *TestExecution) error {
	fpRows, err := s.db.QueryContext(ctx,
		`SELECT f.filename, f.checksums, f.mtime, f.content_hash
		 FROM file_fp f JOIN test_execution_file_fp l ON l.file_fp_id = f.id
		 WHERE l.test_execution_id = ?`, te.ID)
	if err != nil {
		return err
	}
	defer fpRows.Close()
	for fpRows.Next() {
		var fp FileFingerprint
		var packed []byte
		if err := fpRows.Scan(&fp.Filename, &packed, &fp.Mtime, &fp.ContentHash); err != nil {
			return err
		}
		fp.Checksums = unpackChecksums(packed)
		te.Fingerprints = append(te.Fingerprints, fp)
	}
	if err := fpRows.Err(); err != nil {
		return err
	}

	depRows, err := s.db.QueryContext(ctx,
		`SELECT d.filename, d.sha
		 FROM file_dependency d JOIN test_execution_file_dependency l ON l.file_dependency_id = d.id
		 WHERE l.test_execution_id = ?`, te.ID)
	if err != nil {
		return err
	}
	defer depRows.Close()
	for depRows.Next() {
		var dep FileDependency
		if err := depRows.Scan(&dep.Filename, &dep.SHA); err != nil {
			return err
		}
		te.FileDeps = append(te.FileDeps, dep)
	}
	if err := depRows.Err(); err != nil {
		return err
	}

	extRows, err := s.db.QueryContext(ctx,
		`SELECT package_name, package_version FROM test_external_dependency WHERE test_execution_id = ?`, te.ID)
	if err != nil {
		return err
	}
	defer extRows.Close()
	for extRows.Next() {
		var ext ExternalDep
		ext.TestExecutionID = te.ID
		if err := extRows.Scan(&ext.PackageName, &ext.PackageVersion); err != nil {
			return err
		}
		te.ExternalDeps = append(te.ExternalDeps, ext)
	}
	return extRows.Err()
}

// KnownFilenames returns every distinct filename with a stored fingerprint
// linked to envID — the Session Orchestrator hands this set back from
// initiate() so the Dependency Tracker can short-circuit membership tests
// against files it has never seen before (spec.md §4.8).
func (s *Store) KnownFilenames(ctx context.Context, envID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT f.filename
		 FROM file_fp f
		 JOIN test_execution_file_fp l ON l.file_fp_id = f.id
		 JOIN test_execution t ON t.id = l.test_execution_id
		 WHERE t.env_id = ?`, envID)
	if err != nil {
		return nil, wrapf(err, "store: KnownFilenames")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var filename string
		if err := rows.Scan(&filename); err != nil {
			return nil, err
		}
		out = append(out, filename)
	}
	return out, rows.Err()
}

// DeleteTests removes the given test_ids from envID; FK cascade removes
// their link rows.
func (s *Store) DeleteTests(ctx context.Context, envID int64, testIDs []string) error {
	return s.withWriteTx(ctx, func(conn *sql.Conn) error {
		for _, id := range testIDs {
			if _, err := conn.ExecContext(ctx, `DELETE FROM test_execution WHERE env_id = ? AND test_id = ?`, envID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadMetadata returns the stored value for key, or ok=false if unset.
func (s *Store) ReadMetadata(ctx context.Context, key string) (value string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key)
	switch err := row.Scan(&value); {
	case err == nil:
		return value, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	default:
		return "", false, wrapf(err, "store: ReadMetadata %s", key)
	}
}

// WriteMetadata upserts key/value.
func (s *Store) WriteMetadata(ctx context.Context, key, value string) error {
	return s.withWriteTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO metadata(key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value)
		return err
	})
}

// RecordDependencyEdges appends edges, deduplicated per (source, target,
// kind, run_tag) — the graph is append-only, so a re-observed edge within
// the same run_tag is a no-op, not an update.
func (s *Store) RecordDependencyEdges(ctx context.Context, edges []DependencyEdge) error {
	return s.withWriteTx(ctx, func(conn *sql.Conn) error {
		for _, e := range edges {
			if _, err := conn.ExecContext(ctx,
				`INSERT OR IGNORE INTO dependency_graph(source_file, target, kind, run_tag) VALUES (?, ?, ?, ?)`,
				e.SourceFile, e.Target, e.Kind, e.RunTag); err != nil {
				return err
			}
		}
		return nil
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
