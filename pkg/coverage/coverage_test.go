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

package coverage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// driveOneTest simulates a caller's per-test loop: switch context, let the
// tracer observe some hits, harvest, then reset — the only sequence the
// batching policy (§4.3) allows.
func driveOneTest(t *testing.T, f *Fake, testID string, hit func()) Harvest {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.SwitchContext(ctx, testID))
	hit()
	h, err := f.Harvest(ctx)
	require.NoError(t, err)
	require.NoError(t, f.Reset(ctx))
	return h
}

func TestFake_HarvestAfterEveryTestAttributesCorrectly(t *testing.T) {
	// Regression shape for S3: two tests both execute the same line of the
	// same file within one BeginSession/EndSession bracket. Harvesting and
	// resetting between them must keep the attributions disjoint, even
	// though a naive tracer sharing one session would credit the line only
	// to whichever test ran first.
	f := NewFake()
	ctx := context.Background()
	require.NoError(t, f.BeginSession(ctx))

	h1 := driveOneTest(t, f, "TestA", func() { f.Hit("shared.go", 10) })
	h2 := driveOneTest(t, f, "TestB", func() { f.Hit("shared.go", 10) })

	require.NoError(t, f.EndSession(ctx))

	_, aHasLine := h1["TestA"]["shared.go"][10]
	_, bHasLine := h2["TestB"]["shared.go"][10]
	require.True(t, aHasLine, "TestA must see its own hit on shared.go:10")
	require.True(t, bHasLine, "TestB must independently see shared.go:10 after reset")

	require.NotContains(t, h1, "TestB", "harvest after TestA must not leak TestB's later hits")
	require.NotContains(t, h2, "TestA", "harvest after TestB must not carry forward TestA's hits past reset")
}

func TestFake_ResetClearsAccumulatedHits(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	require.NoError(t, f.BeginSession(ctx))
	require.NoError(t, f.SwitchContext(ctx, "TestA"))
	f.Hit("a.go", 1)
	require.NoError(t, f.Reset(ctx))

	h, err := f.Harvest(ctx)
	require.NoError(t, err)
	require.Empty(t, h, "harvest after reset with no new hits must be empty")
}

func TestFake_SwitchContextOutsideSessionFails(t *testing.T) {
	f := NewFake()
	err := f.SwitchContext(context.Background(), "TestA")
	require.Error(t, err)
}

func TestFake_BeginSessionTwiceFails(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	require.NoError(t, f.BeginSession(ctx))
	require.Error(t, f.BeginSession(ctx))
}

func TestFake_HitWithNoActiveContextPanics(t *testing.T) {
	f := NewFake()
	require.NoError(t, f.BeginSession(context.Background()))
	require.Panics(t, func() { f.Hit("a.go", 1) })
}

func TestFake_SessionsCountsBeginSessionCalls(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	require.NoError(t, f.BeginSession(ctx))
	require.NoError(t, f.EndSession(ctx))
	require.NoError(t, f.BeginSession(ctx))
	require.Equal(t, 2, f.Sessions())
}

func TestHits_LinesIsSorted(t *testing.T) {
	h := Hits{5: struct{}{}, 1: struct{}{}, 3: struct{}{}}
	require.Equal(t, []int{1, 3, 5}, h.Lines())
}

var _ Adapter = (*Fake)(nil)
