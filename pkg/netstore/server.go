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

package netstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/kraklabs/ezmon/internal/contract"
	"github.com/kraklabs/ezmon/pkg/store"
)

// Server exposes the Store over HTTP, mirroring vjache/cie's cmd/cie
// serve.go shape: a plain net/http.ServeMux, one handler per RPC endpoint,
// request bodies decoded into an anonymous/typed struct, graceful
// shutdown owned by the caller.
type Server struct {
	store     *store.Store
	authToken string
	logger    *slog.Logger
	sessions  *sessionRegistry
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Store     *store.Store
	AuthToken string // empty disables auth, for local/dev use
	Logger    *slog.Logger
}

// NewServer creates a Server ready to be mounted via Handler().
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: cfg.Store, authToken: cfg.AuthToken, logger: logger, sessions: newSessionRegistry()}
}

// Handler returns the mux exposing every /api/rpc/<noun>/<verb> endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/rpc/session/initiate", s.handleInitiate)
	mux.HandleFunc("/api/rpc/session/record_batch", s.handleRecordBatch)
	mux.HandleFunc("/api/rpc/session/finish", s.handleFinish)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r) {
		return
	}
	repoID, jobID := r.Header.Get("X-Repo-Id"), r.Header.Get("X-Job-Id")

	var req InitiateRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	lock := s.sessions.writeLock(repoID, jobID)
	lock.Lock()
	defer lock.Unlock()

	env, err := s.store.FetchOrCreateEnvironment(r.Context(), req.Environment.Name, req.Environment.SystemPackages, req.Environment.LanguageVersion)
	if err != nil {
		http.Error(w, "initiate failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	known, err := s.store.KnownFilenames(r.Context(), env.ID)
	if err != nil {
		http.Error(w, "initiate failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	token := r.Header.Get("Authorization")
	sess := s.sessions.create(repoID, jobID, token, env.ID)

	w.Header().Set("X-Session-Id", sess.id)
	writeJSON(w, r, http.StatusOK, InitiateResponse{SessionID: sess.id, EnvironmentID: env.ID, KnownFilenames: known})
	s.logger.Info("netstore.session.initiate", "session_id", sess.id, "repo_id", repoID, "job_id", jobID, "env_id", env.ID)
}

func (s *Server) handleRecordBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r) {
		return
	}
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}

	var req RecordBatchRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	lock := s.sessions.writeLock(sess.repoID, sess.jobID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.InsertTestExecutions(r.Context(), sess.envID, req.Batch); err != nil {
		http.Error(w, "record_batch failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.sessions.touch(sess)
	writeJSON(w, r, http.StatusOK, map[string]any{"ok": true, "rows": len(req.Batch)})
}

// historyBatchSize is reported in finish's history_copy log line when the
// request does not set SkipHistory. This server has no separate
// historical-copy table of its own (spec.md §4.6's schema is the full
// state, not an append-only history), and finish copies no history rows,
// so no work is split into chunks of this size.
const historyBatchSize = 5000

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r) {
		return
	}
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}

	var req FinishRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	lock := s.sessions.writeLock(sess.repoID, sess.jobID)
	lock.Lock()
	defer lock.Unlock()

	for _, kv := range [][2]string{
		{"last_run_total_tests", strconv.Itoa(req.TotalTests)},
		{"last_run_saved_tests", strconv.Itoa(req.SavedTests)},
		{"last_run_wall_clock_saved_ns", strconv.FormatInt(req.WallClockSavedNS, 10)},
	} {
		if err := s.store.WriteMetadata(r.Context(), kv[0], kv[1]); err != nil {
			http.Error(w, "finish failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if !req.SkipHistory {
		s.logger.Info("netstore.session.finish.history_copy", "session_id", sess.id, "batch_size", historyBatchSize)
	}

	s.sessions.remove(sess.id)
	writeJSON(w, r, http.StatusOK, map[string]any{"ok": true, "interrupted": req.Interrupted})
	s.logger.Info("netstore.session.finish", "session_id", sess.id, "total_tests", req.TotalTests, "saved_tests", req.SavedTests)
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	if auth == "Bearer "+s.authToken {
		return true
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
	return false
}

func (s *Server) sessionFromRequest(w http.ResponseWriter, r *http.Request) (*serverSession, bool) {
	id := r.Header.Get("X-Session-Id")
	if id == "" {
		if c, err := r.Cookie("session_id"); err == nil {
			id = c.Value
		}
	}
	if id == "" {
		http.Error(w, "missing session", http.StatusBadRequest)
		return nil, false
	}
	sess, ok := s.sessions.lookup(id)
	if !ok {
		http.Error(w, "session not found or expired", http.StatusUnauthorized)
		return nil, false
	}
	return sess, true
}

// decodeBody transparently handles a gzip-encoded request body
// (Content-Encoding: gzip), per spec.md §4.9's wire format.
func decodeBody(r *http.Request, v any) error {
	var reader io.Reader = r.Body
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return err
		}
		defer gz.Close()
		reader = gz
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if res := contract.ValidatePayload(body); !res.OK {
		return fmt.Errorf("%s", res.Message)
	}
	return json.Unmarshal(body, v)
}

// writeJSON writes v as the response body, gzip-encoding it when it
// exceeds gzipThresholdBytes and the client advertised gzip support via
// Accept-Encoding, matching the client's request-side behavior in
// client.go.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "encode response: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if len(body) > gzipThresholdBytes && strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(status)
		gz := gzip.NewWriter(w)
		_, _ = gz.Write(body)
		_ = gz.Close()
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// ListenAndServe starts the HTTP server on addr with a ReadHeaderTimeout,
// matching cmd/cie serve.go's http.Server construction, and blocks until
// ctx is canceled, at which point it shuts down gracefully with a 5s
// deadline.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
