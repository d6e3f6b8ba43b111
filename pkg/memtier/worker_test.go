// Copyright 2022 Intel Corporation. All Rights Reserved.
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

package memtier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatermarks(t *testing.T) {
	cfg := testConfig()
	demotion, promotion := Watermarks(cfg, 100)
	require.Equal(t, uint64(3), demotion)
	require.Equal(t, uint64(5), promotion)
	demotion, promotion = Watermarks(cfg, 1000000)
	require.Equal(t, uint64(64), demotion, "clamped to maximum")
	require.Equal(t, uint64(64), promotion)
	demotion, promotion = Watermarks(cfg, 0)
	require.Equal(t, uint64(1), demotion, "clamped to minimum")
	require.Equal(t, uint64(1), promotion)

	for _, tc := range []struct {
		usage     uint64
		excess    uint64
		demote    bool
		shortfall uint64
		promote   bool
	}{
		{0, 0, false, 100, true},
		{96, 0, false, 4, true},
		{97, 0, false, 0, false},
		{100, 0, false, 0, false},
		{105, 0, false, 0, false},
		{106, 6, true, 0, false},
	} {
		excess, demote := DemotionExcess(cfg, tc.usage, 100)
		shortfall, promote := PromotionShortfall(cfg, tc.usage, 100)
		if excess != tc.excess || demote != tc.demote || shortfall != tc.shortfall || promote != tc.promote {
			t.Errorf("usage %d: expected excess (%d, %v) shortfall (%d, %v), got (%d, %v) (%d, %v)",
				tc.usage, tc.excess, tc.demote, tc.shortfall, tc.promote, excess, demote, shortfall, promote)
		}
	}
	_, promote := PromotionShortfall(cfg, 0, 0)
	require.False(t, promote, "nothing to promote with zero budget")
	excess, demote := DemotionExcess(cfg, 2, 0)
	require.True(t, demote)
	require.Equal(t, uint64(2), excess)
}

func TestDemotion(t *testing.T) {
	e, pl, x := newTestEngine(t, nil)
	a, err := e.AddTenant("a", 4)
	require.NoError(t, err)
	trackRegions(t, e, "a", 1, 0, 10, 0)
	require.Equal(t, uint64(10), e.FastTierUsage("a"))

	e.workers[0].visit(context.Background(), a)
	require.Equal(t, uint64(4), e.FastTierUsage("a"))
	require.Equal(t, uint64(6), pl.Units("a", 1, ListInactive))
	require.Equal(t, 6, x.moved)
	require.Equal(t, uint64(6), e.Counters().Demoted)
	require.Equal(t, uint64(6), e.Stats().Moved("a", Demotion))
	lm := e.Stats().LastMove("a", Demotion)
	require.NotNil(t, lm)
	require.Equal(t, uint64(6), lm.Requested())
	require.Equal(t, uint64(1), e.Stats().Beats("demotion-worker-0"))

	e.workers[0].visit(context.Background(), a)
	require.Equal(t, 6, x.moved, "usage within the watermark")
}

func TestDemotionPrefersInactive(t *testing.T) {
	e, pl, _ := newTestEngine(t, nil)
	a, err := e.AddTenant("a", 4)
	require.NoError(t, err)
	hot := trackRegions(t, e, "a", 1, 0, 4, 0)
	for _, r := range hot {
		access(e, r, 0, FastTierRead, 3)
	}
	cold := trackRegions(t, e, "a", 1, 0x10000, 4, 0)

	e.workers[0].visit(context.Background(), a)
	for _, r := range hot {
		node, _ := pl.NodeOf(r)
		require.Equal(t, Node(0), node, "hot %s kept", r)
	}
	for _, r := range cold {
		node, _ := pl.NodeOf(r)
		require.Equal(t, Node(1), node, "cold %s demoted", r)
	}
}

func TestDirectDemotion(t *testing.T) {
	e, _, x := newTestEngine(t, nil)
	a, err := e.AddTenant("a", 100)
	require.NoError(t, err)
	trackRegions(t, e, "a", 1, 0, 102, 0)

	e.workers[0].visit(context.Background(), a)
	require.Zero(t, x.moved, "usage within the watermark")
	require.Error(t, e.RequestDirectDemotion("b"))
	require.NoError(t, e.RequestDirectDemotion("a"))
	require.Equal(t, []TenantID{"a"}, e.Queue(0).Tenants()[:1], "direct demotion queued first")
	e.workers[0].visit(context.Background(), a)
	require.Equal(t, 2, x.moved)
	require.Equal(t, uint64(100), e.FastTierUsage("a"))
	require.False(t, a.directDemotion.Load())
}

func TestPromotion(t *testing.T) {
	e, pl, x := newTestEngine(t, nil)
	a, err := e.AddTenant("a", 8)
	require.NoError(t, err)
	hot := trackRegions(t, e, "a", 1, 0, 4, 1)
	for _, r := range hot {
		require.Equal(t, HintPromote, access(e, r, 0, SlowTierRead, 1))
	}
	cold := trackRegions(t, e, "a", 1, 0x10000, 4, 1)

	e.workers[1].visit(context.Background(), a)
	require.Equal(t, 4, x.moved)
	for _, r := range hot {
		node, _ := pl.NodeOf(r)
		require.Equal(t, Node(0), node)
	}
	for _, r := range cold {
		node, _ := pl.NodeOf(r)
		require.Equal(t, Node(1), node)
	}
	require.Equal(t, uint64(4), e.Counters().Promoted)
	require.Equal(t, uint64(4), e.Stats().Moved("a", Promotion))
}

func TestPromotionOfWarmRegions(t *testing.T) {
	e, pl, x := newTestEngine(t, nil)
	a, err := e.AddTenant("a", 8)
	require.NoError(t, err)
	regions := trackRegions(t, e, "a", 1, 0, 3, 1)
	access(e, regions[0], 0, SlowTierRead, 7)
	access(e, regions[1], 0, SlowTierRead, 3)
	access(e, regions[2], 0, SlowTierRead, 1)
	a.activeThreshold.Store(3)
	a.warmThreshold.Store(2)
	a.markReclassify()

	// the sweep moves regions below active to the inactive list, warm
	// ones are promoted from there when the fast tier has room
	e.workers[1].visit(context.Background(), a)
	require.Equal(t, 2, x.moved)
	node, _ := pl.NodeOf(regions[1])
	require.Equal(t, Node(0), node)
	node, _ = pl.NodeOf(regions[2])
	require.Equal(t, Node(1), node)
}

func TestHotColdExchange(t *testing.T) {
	e, pl, x := newTestEngine(t, nil)
	a, err := e.AddTenant("a", 4)
	require.NoError(t, err)
	cold := trackRegions(t, e, "a", 1, 0, 4, 0)
	hot := trackRegions(t, e, "a", 1, 0x10000, 2, 1)
	for _, r := range hot {
		access(e, r, 0, SlowTierRead, 3)
	}
	_, ok := PromotionShortfall(e.config(), e.FastTierUsage("a"), 4)
	require.False(t, ok, "fast tier is full")

	e.workers[1].visit(context.Background(), a)
	require.Equal(t, 2, x.moved)
	require.Equal(t, uint64(6), e.FastTierUsage("a"))
	require.True(t, a.directDemotion.Load())

	e.workers[0].visit(context.Background(), a)
	require.Equal(t, 4, x.moved)
	require.Equal(t, uint64(4), e.FastTierUsage("a"))
	for _, r := range hot {
		node, _ := pl.NodeOf(r)
		require.Equal(t, Node(0), node, "hot %s exchanged in", r)
	}
	demoted := 0
	for _, r := range cold {
		if node, _ := pl.NodeOf(r); node == 1 {
			demoted++
		}
	}
	require.Equal(t, 2, demoted)

	e.workers[1].visit(context.Background(), a)
	require.Equal(t, 4, x.moved, "nothing hot left to exchange")
}

func TestPromotionCapacity(t *testing.T) {
	nodes := []NodeInfo{
		{Node: 0, Tier: TierFast, Capacity: 2},
		{Node: 1, Tier: TierSlow},
	}
	pl := NewPlacementLists()
	x := &fakeExecutor{placement: pl}
	e, err := NewEngine(testConfig(), nodes, nil, pl, x)
	require.NoError(t, err)
	a, err := e.AddTenant("a", 8)
	require.NoError(t, err)
	b, err := e.AddTenant("b", 8)
	require.NoError(t, err)
	for _, r := range trackRegions(t, e, "a", 1, 0, 4, 1) {
		access(e, r, 0, SlowTierRead, 1)
	}
	trackRegions(t, e, "b", 2, 0, 1, 0)

	e.workers[1].visit(context.Background(), a)
	require.Equal(t, 1, x.moved, "room for one unit on the fast node")
	require.Equal(t, uint64(2), e.NodeUsage(0))
	e.workers[1].visit(context.Background(), a)
	require.Equal(t, 1, x.moved)
	require.False(t, b.directDemotion.Load(), "tenant within budget is not demoted")
}

func TestSplitAdoption(t *testing.T) {
	e, pl, x := newTestEngine(t, nil)
	a, err := e.AddTenant("a", 16)
	require.NoError(t, err)
	parent := NewLargeRegion(1, 0x100000, 8)
	require.NoError(t, e.TrackRegion("a", parent, 0))
	a.mu.Lock()
	a.splitBudget, a.splitThreshold = 8, 0
	a.mu.Unlock()
	require.True(t, a.ShouldSplit(parent))

	e.workers[0].visit(context.Background(), a)
	require.Equal(t, 1, x.splits)
	require.True(t, parent.Freed())
	require.Equal(t, uint64(1), e.Counters().Splits)
	require.Zero(t, a.Split().Pending)
	units, large := a.Tracked()
	require.Equal(t, uint64(8), units)
	require.Zero(t, large)
	require.Equal(t, uint64(8), pl.Units("a", 0, ListActive), "children start hot on the parent's node")
	// children are seeded one class above the active threshold
	require.Equal(t, uint64(8), a.Histograms().Hotness[2])
	require.Zero(t, a.Histograms().Skewness[0])
}

func TestSplitFailure(t *testing.T) {
	e, _, x := newTestEngine(t, nil)
	x.failSplit = true
	a, err := e.AddTenant("a", 16)
	require.NoError(t, err)
	parent := NewLargeRegion(1, 0x100000, 8)
	require.NoError(t, e.TrackRegion("a", parent, 0))
	a.mu.Lock()
	a.splitBudget, a.splitThreshold = 8, 0
	a.mu.Unlock()
	require.True(t, a.ShouldSplit(parent))
	require.Zero(t, a.Histograms().Skewness[0])

	e.workers[0].visit(context.Background(), a)
	require.False(t, parent.Freed())
	require.False(t, parent.SplitQueued())
	require.Equal(t, uint64(1), a.Histograms().Skewness[0], "failed region counted again")
}

func TestMigrationRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMigrateUnitsPerSec = 100
	cfg.DemotionPeriodMs = 50
	e, _, x := newTestEngine(t, cfg)
	a, err := e.AddTenant("a", 4)
	require.NoError(t, err)
	trackRegions(t, e, "a", 1, 0, 40, 0)

	w := e.workers[0]
	// burst is max(100/s * 50ms, 8 sub-units) = 8 units
	require.Equal(t, uint64(8), w.allow(e.config(), 36))
	require.Less(t, w.allow(e.config(), 8), uint64(8), "burst spent")

	e.workers[0].visit(context.Background(), a)
	require.Less(t, x.moved, 36)
}

func TestTrim(t *testing.T) {
	regions := []*Region{NewRegion(1, 0), NewLargeRegion(1, 0x8000, 8), NewRegion(1, 0x1000)}
	kept, units := trim(regions, 8)
	require.Len(t, kept, 1)
	require.Equal(t, uint64(1), units)
	kept, units = trim(regions, 10)
	require.Len(t, kept, 3)
	require.Equal(t, uint64(10), units)
}

func TestWorkersRun(t *testing.T) {
	cfg := testConfig()
	cfg.DemotionPeriodMs = 1
	cfg.PromotionPeriodMs = 1
	cfg.IdleIntervalMs = 5
	e, _, _ := newTestEngine(t, cfg)
	_, err := e.AddTenant("a", 4)
	require.NoError(t, err)
	trackRegions(t, e, "a", 1, 0, 10, 0)

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()
	require.Eventually(t, func() bool {
		return e.FastTierUsage("a") <= 4
	}, 5*time.Second, 5*time.Millisecond)
}
