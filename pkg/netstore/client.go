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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/kraklabs/ezmon/internal/contract"
	"github.com/kraklabs/ezmon/pkg/session"
	"github.com/kraklabs/ezmon/pkg/store"
)

const (
	clientMaxAttempts = 5
	clientRetryCap    = 30 * time.Second
)

// Client is the Network Store client (C9), grounded on
// pkg/tools/client.go's CIEClient: a context-based JSON POST client over a
// persistent *http.Client, retargeted from CozoDB query RPCs to the
// session/initiate, session/record_batch, session/finish endpoints, with
// the retry and LRU-caching behavior spec.md §4.9 adds on top.
type Client struct {
	BaseURL   string
	RepoID    string
	JobID     string
	AuthToken string

	HTTPClient *http.Client

	mu        sync.Mutex
	sessionID string

	fpCache *fingerprintLRU
}

// NewClient creates a Client with a persistent connection pool (the
// default http.Transport already keeps idle connections alive across
// requests; MaxIdleConnsPerHost is raised above Go's default of 2 since
// every request in a session goes to the same host).
func NewClient(baseURL, repoID, jobID, authToken string) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16
	return &Client{
		BaseURL:   baseURL,
		RepoID:    repoID,
		JobID:     jobID,
		AuthToken: authToken,
		HTTPClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: transport,
		},
		fpCache: newFingerprintLRU(1024),
	}
}

// KnownFilenames satisfies pkg/session.Backend by calling initiate with an
// empty environment descriptor (InitiateEnvironment{}), replacing the
// client's session id with the one that call returns. It
// exists so *Client and *session.LocalBackend share the same Backend
// shape; callers that need the full InitiateResponse should call Initiate
// directly.
func (c *Client) KnownFilenames(ctx context.Context) ([]string, error) {
	resp, err := c.Initiate(ctx, InitiateEnvironment{})
	if err != nil {
		return nil, err
	}
	return resp.KnownFilenames, nil
}

// Initiate calls POST /api/rpc/session/initiate and stores the returned
// session id for subsequent requests.
func (c *Client) Initiate(ctx context.Context, env InitiateEnvironment) (*InitiateResponse, error) {
	var resp InitiateResponse
	if err := c.call(ctx, "/api/rpc/session/initiate", InitiateRequest{Environment: env}, &resp); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.sessionID = resp.SessionID
	c.mu.Unlock()
	return &resp, nil
}

// RecordBatch satisfies pkg/session.Backend.
func (c *Client) RecordBatch(ctx context.Context, batch []store.TestExecution) error {
	return c.call(ctx, "/api/rpc/session/record_batch", RecordBatchRequest{Batch: batch}, nil)
}

// Finish satisfies pkg/session.Backend.
func (c *Client) Finish(ctx context.Context, stats session.Stats) error {
	return c.call(ctx, "/api/rpc/session/finish", FinishRequest{
		TotalTests:       stats.TotalTests,
		SavedTests:       stats.SavedTests,
		WallClockSavedNS: stats.WallClockTimeSaved.Nanoseconds(),
	}, nil)
}

var _ session.Backend = (*Client)(nil)

// FingerprintID resolves filename's interned file_fp id via the client's
// LRU cache, falling back to the server on a miss. This lets repeated
// lookups for files referenced across many tests in one session avoid a
// round trip after the first.
func (c *Client) FingerprintID(ctx context.Context, filename string) (int64, bool, error) {
	if id, ok := c.fpCache.Get(filename); ok {
		return id, true, nil
	}
	var resp struct {
		ID int64 `json:"id"`
		Ok bool  `json:"ok"`
	}
	if err := c.call(ctx, "/api/rpc/fingerprint/lookup", map[string]string{"filename": filename}, &resp); err != nil {
		return 0, false, err
	}
	if resp.Ok {
		c.fpCache.Add(filename, resp.ID)
	}
	return resp.ID, resp.Ok, nil
}

// call POSTs req to path (gzip-encoding the body above gzipThresholdBytes)
// and decodes the response into resp (a nil resp discards the body),
// retrying 5xx responses and connection errors with exponential backoff
// capped at clientRetryCap, up to clientMaxAttempts total attempts.
func (c *Client) call(ctx context.Context, path string, req any, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("netstore: marshal request: %w", err)
	}
	if res := contract.ValidatePayload(body); !res.OK {
		return fmt.Errorf("netstore: %s: %s", path, res.Message)
	}

	var lastErr error
	delay := 200 * time.Millisecond
	for attempt := 0; attempt < clientMaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
			if delay > clientRetryCap {
				delay = clientRetryCap
			}
		}

		statusCode, respBody, err := c.doRequest(ctx, path, body)
		if err != nil {
			lastErr = err
			continue
		}
		if statusCode >= 500 {
			lastErr = fmt.Errorf("netstore: %s: server error (status %d): %s", path, statusCode, string(respBody))
			continue
		}
		if statusCode >= 400 {
			return fmt.Errorf("netstore: %s: request error (status %d): %s", path, statusCode, string(respBody))
		}
		if resp != nil {
			if err := json.Unmarshal(respBody, resp); err != nil {
				return fmt.Errorf("netstore: %s: parse response: %w", path, err)
			}
		}
		return nil
	}
	return fmt.Errorf("netstore: %s: giving up after %d attempts: %w", path, clientMaxAttempts, lastErr)
}

func (c *Client) doRequest(ctx context.Context, path string, body []byte) (int, []byte, error) {
	payload := body
	gzipped := false
	if len(body) > gzipThresholdBytes {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(body); err != nil {
			return 0, nil, err
		}
		if err := gz.Close(); err != nil {
			return 0, nil, err
		}
		payload = buf.Bytes()
		gzipped = true
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept-Encoding", "gzip")
	if gzipped {
		httpReq.Header.Set("Content-Encoding", "gzip")
	}
	httpReq.Header.Set("X-Repo-Id", c.RepoID)
	httpReq.Header.Set("X-Job-Id", c.JobID)
	if c.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID != "" {
		httpReq.Header.Set("X-Session-Id", sessionID)
	}

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("netstore: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	var reader io.Reader = httpResp.Body
	if httpResp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(httpResp.Body)
		if err != nil {
			return 0, nil, err
		}
		defer gz.Close()
		reader = gz
	}

	respBody, err := io.ReadAll(reader)
	if err != nil {
		return 0, nil, err
	}
	if sid := httpResp.Header.Get("X-Session-Id"); sid != "" {
		c.mu.Lock()
		c.sessionID = sid
		c.mu.Unlock()
	}
	return httpResp.StatusCode, respBody, nil
}
