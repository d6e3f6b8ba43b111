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

package tiersim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intel/memtierd/pkg/memtier"
)

func testConfig() *memtier.Config {
	cfg := memtier.DefaultConfig()
	cfg.UnitSize = "4k"
	cfg.SubunitsPerLargeRegion = 8
	cfg.FastTierBudgetPerTenant = "128k"
	cfg.CoolingPeriodSamples = 50000
	cfg.AdaptationPeriodSamples = 2000
	cfg.DemotionPeriodMs = 2
	cfg.PromotionPeriodMs = 2
	cfg.IdleIntervalMs = 5
	cfg.WatermarkMinUnits = 1
	cfg.WatermarkMaxUnits = 64
	cfg.MaxMigrateUnitsPerSec = 0
	return cfg
}

func testNodes() []memtier.NodeInfo {
	return []memtier.NodeInfo{
		{Node: 0, Tier: memtier.TierFast, Capacity: 64},
		{Node: 1, Tier: memtier.TierSlow},
	}
}

func TestSimAccess(t *testing.T) {
	s, err := New(testConfig(), testNodes())
	require.NoError(t, err)
	_, err = s.Engine.AddTenant("t", 0)
	require.NoError(t, err)
	regions, err := s.Map("t", 1, 0, 8*unit, false, 1)
	require.NoError(t, err)
	require.Len(t, regions, 8)

	hint := s.Access(memtier.AccessSample{Subject: 1, Addr: 3*unit + 5, Kind: memtier.FastTierRead})
	require.Equal(t, memtier.HintPromote, hint)
	require.True(t, s.Placement.IsFastTierResident(regions[3]))
	c := s.Engine.Counters()
	require.Equal(t, uint64(1), c.SlowReads, "read of a slow node region")
	require.Equal(t, uint64(0), c.FastReads)
	require.Equal(t, float64(0), s.HitRatio())

	require.Equal(t, memtier.HintNone, s.Access(memtier.AccessSample{Subject: 9, Addr: 0}))
	require.Equal(t, uint64(1), s.Engine.Counters().Unresolved)

	n, err := s.Unmap(1)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	_, ok := s.Space.Locate(1, 0)
	require.False(t, ok)
}

func TestSimMapErrors(t *testing.T) {
	s, err := New(testConfig(), testNodes())
	require.NoError(t, err)
	_, err = s.Map("nobody", 1, 0, 4*unit, false, 1)
	require.Error(t, err)
	_, ok := s.Space.Locate(1, 0)
	require.False(t, ok, "failed map is rolled back")

	_, err = s.Engine.AddTenant("t", 0)
	require.NoError(t, err)
	_, err = s.Map("t", 1, 0, 4*unit, false, 5)
	require.Error(t, err, "unknown node")

	_, err = New(testConfig(), []memtier.NodeInfo{{Node: 0, Tier: memtier.TierFast}})
	require.Error(t, err, "no slow node")
}

func TestSimPromotesHotSet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping simulation in short mode")
	}
	ctx := context.Background()
	s, err := New(testConfig(), testNodes())
	require.NoError(t, err)
	tenant, err := s.Engine.AddTenant("t", 0)
	require.NoError(t, err)
	require.Equal(t, uint64(32), tenant.MaxFastTierUnits())
	_, err = s.Map("t", 1, 0, 256*unit, false, 1)
	require.NoError(t, err)
	g, err := NewGenerator(Workload{Subject: 1, Size: 256 * unit, Skew: 1.5, Seed: 1}, unit)
	require.NoError(t, err)

	require.NoError(t, s.Engine.Start(ctx))
	defer s.Engine.Stop()

	hottest := s.Space.Regions(1)[0]
	require.Eventually(t, func() bool {
		if err := s.Run(ctx, 5000, g); err != nil {
			return false
		}
		node, ok := s.Placement.NodeOf(hottest)
		return ok && node == 0
	}, 20*time.Second, 10*time.Millisecond, "hottest region promoted")

	_, promotion := memtier.Watermarks(s.Engine.Config(), tenant.MaxFastTierUnits())
	require.Eventually(t, func() bool {
		return s.Engine.FastTierUsage("t") <= tenant.MaxFastTierUnits()+promotion
	}, 20*time.Second, 10*time.Millisecond, "fast tier usage within budget")

	require.Greater(t, s.Executor.Stats().Moved, uint64(0))
	require.Greater(t, s.Engine.Counters().Promoted, uint64(0))
	require.Greater(t, s.HitRatio(), float64(0))
}

func TestSplitWhileSampling(t *testing.T) {
	ctx := context.Background()
	s, err := New(testConfig(), testNodes())
	require.NoError(t, err)
	tenant, err := s.Engine.AddTenant("t", 0)
	require.NoError(t, err)
	base := uint64(0x200000)
	large, err := s.Map("t", 1, base, 8*largeSize, true, 1)
	require.NoError(t, err)

	stop := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(0); ; i++ {
			s.Access(memtier.AccessSample{Subject: 1, Addr: base + (i%64)*unit, Kind: memtier.SlowTierRead})
			if i == 0 {
				close(started)
			}
			select {
			case <-stop:
				return
			default:
			}
		}
	}()
	<-started

	for _, r := range large {
		children, err := s.Executor.Split(ctx, r)
		require.NoError(t, err)
		require.NoError(t, s.Engine.UntrackRegion(r))
		for _, c := range children {
			require.NoError(t, s.Engine.TrackRegion("t", c, 1))
		}
	}
	close(stop)
	<-done

	units, largeCount := tenant.Tracked()
	require.Equal(t, uint64(64), units)
	require.Zero(t, largeCount)
	for _, r := range s.Space.Regions(1) {
		require.False(t, r.IsLarge())
		require.Equal(t, memtier.TenantID("t"), r.TenantID())
	}
	require.Greater(t, s.Engine.Counters().Sampled, uint64(0))
}
