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
	"sync"
	"time"

	"github.com/google/uuid"
)

const sessionTTL = 30 * time.Minute

// repoJobKey identifies the per-(repo, job) write-lock boundary spec.md
// §4.9 requires: operations from two sessions against the same (repo, job)
// are serialized by write lock on the underlying store.
type repoJobKey struct {
	repoID string
	jobID  string
}

type serverSession struct {
	id        string
	repoID    string
	jobID     string
	envID     int64
	token     string
	expiresAt time.Time
}

// sessionRegistry tracks server-side session state (session_id -> envID,
// token, expiry) and one mutex per (repo, job) for write serialization.
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*serverSession
	locks    map[repoJobKey]*sync.Mutex
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		sessions: make(map[string]*serverSession),
		locks:    make(map[repoJobKey]*sync.Mutex),
	}
}

func (r *sessionRegistry) create(repoID, jobID, token string, envID int64) *serverSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &serverSession{
		id:        uuid.NewString(),
		repoID:    repoID,
		jobID:     jobID,
		envID:     envID,
		token:     token,
		expiresAt: time.Now().Add(sessionTTL),
	}
	r.sessions[s.id] = s
	return s
}

// lookup returns the session for id, or ok=false if it does not exist or
// has expired (an expired entry is evicted as a side effect).
func (r *sessionRegistry) lookup(id string) (*serverSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	if time.Now().After(s.expiresAt) {
		delete(r.sessions, id)
		return nil, false
	}
	return s, true
}

func (r *sessionRegistry) touch(s *serverSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.expiresAt = time.Now().Add(sessionTTL)
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// writeLock returns the mutex serializing every request against the given
// (repo, job) pair, creating it on first use.
func (r *sessionRegistry) writeLock(repoID, jobID string) *sync.Mutex {
	key := repoJobKey{repoID: repoID, jobID: jobID}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}
