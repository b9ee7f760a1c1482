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
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/ezmon/pkg/session"
	"github.com/kraklabs/ezmon/pkg/store"
)

func newTestServer(t *testing.T, authToken string) (*httptest.Server, *Server) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(store.Config{Path: filepath.Join(dir, "ezmon.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	srv := NewServer(ServerConfig{Store: st, AuthToken: authToken})
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return httpSrv, srv
}

func TestClient_FullLifecycleRoundTrips(t *testing.T) {
	httpSrv, _ := newTestServer(t, "")
	c := NewClient(httpSrv.URL, "repo1", "job1", "")
	ctx := context.Background()

	resp, err := c.Initiate(ctx, InitiateEnvironment{Name: "default"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.SessionID)
	require.Empty(t, resp.KnownFilenames)

	batch := []store.TestExecution{
		{
			TestID:   "pkg/foo::TestBar",
			Duration: 0.012,
			Fingerprints: []store.FileFingerprint{
				{Filename: "foo.go", Checksums: []uint32{1, 2, 3}},
			},
		},
	}
	require.NoError(t, c.RecordBatch(ctx, batch))

	require.NoError(t, c.Finish(ctx, session.Stats{TotalTests: 1, SavedTests: 0}))

	resp2, err := c.Initiate(ctx, InitiateEnvironment{Name: "default"})
	require.NoError(t, err)
	require.Equal(t, []string{"foo.go"}, resp2.KnownFilenames)
}

func TestClient_KnownFilenamesSatisfiesBackend(t *testing.T) {
	httpSrv, _ := newTestServer(t, "")
	c := NewClient(httpSrv.URL, "repo1", "job1", "")

	var backend session.Backend = c
	known, err := backend.KnownFilenames(context.Background())
	require.NoError(t, err)
	require.Empty(t, known)
}

func TestClient_WrongAuthTokenFails(t *testing.T) {
	httpSrv, _ := newTestServer(t, "s3cr3t")
	c := NewClient(httpSrv.URL, "repo1", "job1", "wrong")

	_, err := c.Initiate(context.Background(), InitiateEnvironment{Name: "default"})
	require.Error(t, err)
}

func TestClient_CorrectAuthTokenSucceeds(t *testing.T) {
	httpSrv, _ := newTestServer(t, "s3cr3t")
	c := NewClient(httpSrv.URL, "repo1", "job1", "s3cr3t")

	_, err := c.Initiate(context.Background(), InitiateEnvironment{Name: "default"})
	require.NoError(t, err)
}

func TestClient_RecordBatchWithoutInitiateFails(t *testing.T) {
	httpSrv, _ := newTestServer(t, "")
	c := NewClient(httpSrv.URL, "repo1", "job1", "")

	err := c.RecordBatch(context.Background(), []store.TestExecution{{TestID: "x"}})
	require.Error(t, err)
}

func TestFingerprintLRU_EvictsOldestOverCapacity(t *testing.T) {
	lru := newFingerprintLRU(2)
	lru.Add("a", 1)
	lru.Add("b", 2)
	lru.Add("c", 3)

	_, ok := lru.Get("a")
	require.False(t, ok, "a should have been evicted")

	v, ok := lru.Get("b")
	require.True(t, ok)
	require.Equal(t, int64(2), v)

	v, ok = lru.Get("c")
	require.True(t, ok)
	require.Equal(t, int64(3), v)
}

func TestFingerprintLRU_GetRefreshesRecency(t *testing.T) {
	lru := newFingerprintLRU(2)
	lru.Add("a", 1)
	lru.Add("b", 2)
	lru.Get("a")
	lru.Add("c", 3)

	_, ok := lru.Get("b")
	require.False(t, ok, "b should have been evicted, not a")

	_, ok = lru.Get("a")
	require.True(t, ok)
}

func TestSessionRegistry_LookupAfterTTLExpiryFails(t *testing.T) {
	reg := newSessionRegistry()
	sess := reg.create("repo1", "job1", "", 1)
	sess.expiresAt = time.Now().Add(-time.Minute)

	_, ok := reg.lookup(sess.id)
	require.False(t, ok)
}

func TestSessionRegistry_WriteLockIsSharedPerRepoJob(t *testing.T) {
	reg := newSessionRegistry()
	l1 := reg.writeLock("repo1", "job1")
	l2 := reg.writeLock("repo1", "job1")
	l3 := reg.writeLock("repo1", "job2")

	require.Same(t, l1, l2)
	require.NotSame(t, l1, l3)
}
