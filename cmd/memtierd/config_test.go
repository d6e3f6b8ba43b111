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

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intel/memtierd/pkg/memtier"
)

const simConfig = `
engine:
  fast_tier_budget_per_tenant: 64k
  unit_size: 4k
  subunits_per_large_region: 4
  adaptation_period_samples: 100
nodes:
  - node: 0
    tier: fast
    capacity: 1M
  - node: 1
    tier: slow
tenants:
  - id: db
    budget: 32k
    regions:
      - subject: 100
        addr: 0x100000
        size: 64k
        node: 1
      - subject: 100
        addr: 0x200000
        size: 32k
        large: true
        node: 1
  - id: web
    subjects: [200]
workloads:
  - subject: 100
    addr: 0x100000
    size: 65536
    skew: 1.2
    seed: 7
sample_rate: 1000
`

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]byte(simConfig))
	require.NoError(t, err)
	require.Equal(t, executorSim, cfg.Executor)
	require.Equal(t, "64k", cfg.Engine.FastTierBudgetPerTenant)
	require.Equal(t, uint64(100), cfg.Engine.AdaptationPeriodSamples)
	require.Equal(t, memtier.DefaultConfig().CoolingPeriodSamples, cfg.Engine.CoolingPeriodSamples, "unset parameters keep defaults")
	require.Len(t, cfg.Tenants, 2)
	require.Equal(t, uint64(0x200000), cfg.Tenants[0].Regions[1].Addr)

	nodes, err := cfg.nodeInfos()
	require.NoError(t, err)
	require.Equal(t, []memtier.NodeInfo{
		{Node: 0, Tier: memtier.TierFast, Capacity: 256},
		{Node: 1, Tier: memtier.TierSlow},
	}, nodes)

	budget, err := cfg.budgetUnits(cfg.Tenants[0])
	require.NoError(t, err)
	require.Equal(t, uint64(8), budget)
	budget, err = cfg.budgetUnits(cfg.Tenants[1])
	require.NoError(t, err)
	require.Equal(t, uint64(0), budget)
}

func TestParseConfigErrors(t *testing.T) {
	for name, data := range map[string]string{
		"unknown field":     "bogus: 1\n",
		"unknown parameter": "engine:\n  bogus: 1\n",
		"bad executor":      "executor: magic\n",
		"bad parameter":     "engine:\n  cooling_period_samples: 0\n",
		"duplicate tenant":  "tenants:\n  - id: a\n  - id: a\n",
		"process regions":   "executor: process\ntenants:\n  - id: a\n    regions:\n      - size: 4k\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseConfig([]byte(data))
			require.Error(t, err)
		})
	}
	cfg, err := parseConfig([]byte("nodes:\n  - node: 0\n    tier: lukewarm\n"))
	require.NoError(t, err)
	_, err = cfg.nodeInfos()
	require.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memtierd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("executor: sim\n"), 0644))
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Nodes, 2, "default topology")

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDaemon(t *testing.T) {
	cfg, err := parseConfig([]byte(simConfig))
	require.NoError(t, err)
	d, err := newDaemon(cfg)
	require.NoError(t, err)
	require.Len(t, d.gens, 1)

	db := d.engine.Tenant("db")
	require.NotNil(t, db)
	require.Equal(t, uint64(8), db.MaxFastTierUnits())
	units, large := db.Tracked()
	require.Equal(t, uint64(16+8), units)
	require.Equal(t, uint64(2), large)
	tenant, ok := d.engine.SubjectTenant(200)
	require.True(t, ok)
	require.Equal(t, memtier.TenantID("web"), tenant)

	samples := strings.NewReader("100 0x100000 fastread\n100 0x200000 write\n100 0x900000\n")
	require.NoError(t, d.readSamples(context.Background(), samples))
	c := d.engine.Counters()
	require.Equal(t, uint64(3), c.Sampled)
	require.Equal(t, uint64(1), c.Unresolved)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, d.run(ctx, nil, ""))
	require.Greater(t, d.engine.Counters().Sampled, uint64(3), "workload generated samples")
}
