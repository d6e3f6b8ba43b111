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
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestStats(t *testing.T) {
	s := newStats()
	if s.LastMove("a", Demotion) != nil {
		t.Errorf("expected no moves of an unknown tenant")
	}
	s.Store(StatsHeartbeat{name: "demotion-worker-0"})
	s.Store(StatsHeartbeat{name: "demotion-worker-0"})
	s.Store(StatsMigrated{tenant: "a", direction: Demotion, from: 0, to: 1, requested: 8, moved: 6})
	s.Store(StatsMigrated{tenant: "a", direction: Demotion, from: 0, to: 2, requested: 4, moved: 0, failed: true})
	s.Store(StatsMigrated{tenant: "a", direction: Promotion, from: 1, to: 0, requested: 2, moved: 2})
	s.Store(StatsSplit{tenant: "b", addr: 0x8000, children: 8, units: 8})
	s.Store(StatsCooled{tenant: "b", epoch: 3})

	if beats := s.Beats("demotion-worker-0"); beats != 2 {
		t.Errorf("expected 2 beats, got %d", beats)
	}
	if moved := s.Moved("a", Demotion); moved != 6 {
		t.Errorf("expected 6 units demoted, got %d", moved)
	}
	if moved := s.Moved("a", Promotion); moved != 2 {
		t.Errorf("expected 2 units promoted, got %d", moved)
	}
	if coolings := s.Coolings("b"); coolings != 1 {
		t.Errorf("expected 1 cooling, got %d", coolings)
	}
	lm := s.LastMove("a", Demotion)
	if lm == nil || lm.Moved() != 0 || lm.Requested() != 4 {
		t.Fatalf("unexpected last move %v", lm)
	}
	if got := lm.String(); got != "demotion(tenant=a, units=4, from=0, to=2) => (moved=0 failed=true)" {
		t.Errorf("unexpected last move string %q", got)
	}

	summary := s.Summarize()
	for _, expected := range []string{
		"table: events",
		"demotion-worker-0",
		"table: migrations",
		"1:6;2:0",
		"table: splits and coolings",
	} {
		if !strings.Contains(summary, expected) {
			t.Errorf("summary expected to contain %q:\n%s", expected, summary)
		}
	}
}

func TestCollector(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	a, err := e.AddTenant("a", 4)
	require.NoError(t, err)
	for _, r := range trackRegions(t, e, "a", 1, 0, 6, 0) {
		access(e, r, 0, FastTierRead, 1)
	}
	e.Deliver(AccessSample{Subject: 9, Addr: 0, Kind: Write})
	require.True(t, a.RunCooling())

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(e)))
	expected := `
# HELP memtier_samples_total Access samples delivered to the engine.
# TYPE memtier_samples_total counter
memtier_samples_total{type="dropped"} 0
memtier_samples_total{type="fastread"} 0
memtier_samples_total{type="slowread"} 0
memtier_samples_total{type="tlbmiss"} 0
memtier_samples_total{type="unresolved"} 1
memtier_samples_total{type="write"} 1
# HELP memtier_tenant_cooling_epoch Cooling epoch of a tenant.
# TYPE memtier_tenant_cooling_epoch gauge
memtier_tenant_cooling_epoch{tenant="a"} 1
# HELP memtier_tenant_fast_tier_units Units of a tenant on the fast tier.
# TYPE memtier_tenant_fast_tier_units gauge
memtier_tenant_fast_tier_units{class="active",tenant="a"} 6
memtier_tenant_fast_tier_units{class="inactive",tenant="a"} 0
# HELP memtier_tenant_fast_tier_budget_units Fast tier budget of a tenant.
# TYPE memtier_tenant_fast_tier_budget_units gauge
memtier_tenant_fast_tier_budget_units{tenant="a"} 4
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"memtier_samples_total",
		"memtier_tenant_cooling_epoch",
		"memtier_tenant_fast_tier_units",
		"memtier_tenant_fast_tier_budget_units"))

	families, err := reg.Gather()
	require.NoError(t, err)
	hotness := findFamily(families, "memtier_tenant_hotness_units")
	require.NotNil(t, hotness)
	require.Equal(t, dto.MetricType_GAUGE, hotness.GetType())
	require.Len(t, hotness.GetMetric(), NumHotnessBuckets)
	sum := 0.0
	for _, m := range hotness.GetMetric() {
		sum += m.GetGauge().GetValue()
	}
	require.Equal(t, 0.0, sum, "histograms restart empty after cooling")

	// thresholds, hotness buckets, split budget, counters and migrations
	// per tenant plus the sample counters
	require.Equal(t, 3+1+1+2+NumHotnessBuckets+2+3+2+6, testutil.CollectAndCount(NewCollector(e)))
}
