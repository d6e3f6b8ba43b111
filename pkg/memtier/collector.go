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
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/intel/memtierd/pkg/metrics"
)

// Prometheus Metric descriptor indices and descriptor table
const (
	samplesDesc = iota
	tenantThresholdDesc
	tenantEpochDesc
	tenantFastTierUnitsDesc
	tenantBudgetDesc
	tenantHotnessDesc
	tenantSplitBudgetDesc
	tenantSamplesDroppedDesc
	tenantCoolingsDesc
	tenantSplitsDesc
	tenantMigratedDesc
	numDescriptors
)

var descriptors = [numDescriptors]*prometheus.Desc{
	samplesDesc: prometheus.NewDesc(
		"memtier_samples_total",
		"Access samples delivered to the engine.",
		[]string{
			// fastread, slowread, write, tlbmiss, unresolved, dropped
			"type",
		}, nil,
	),
	tenantThresholdDesc: prometheus.NewDesc(
		"memtier_tenant_threshold",
		"Classification thresholds of a tenant.",
		[]string{
			"tenant",
			// active, warm, subunit
			"threshold",
		}, nil,
	),
	tenantEpochDesc: prometheus.NewDesc(
		"memtier_tenant_cooling_epoch",
		"Cooling epoch of a tenant.",
		[]string{
			"tenant",
		}, nil,
	),
	tenantFastTierUnitsDesc: prometheus.NewDesc(
		"memtier_tenant_fast_tier_units",
		"Units of a tenant on the fast tier.",
		[]string{
			"tenant",
			// active, inactive
			"class",
		}, nil,
	),
	tenantBudgetDesc: prometheus.NewDesc(
		"memtier_tenant_fast_tier_budget_units",
		"Fast tier budget of a tenant.",
		[]string{
			"tenant",
		}, nil,
	),
	tenantHotnessDesc: prometheus.NewDesc(
		"memtier_tenant_hotness_units",
		"Units of a tenant per hotness bucket.",
		[]string{
			"tenant",
			"bucket",
		}, nil,
	),
	tenantSplitBudgetDesc: prometheus.NewDesc(
		"memtier_tenant_split_budget_units",
		"Remaining split budget of a tenant.",
		[]string{
			"tenant",
			// primary, tail
			"type",
		}, nil,
	),
	tenantSamplesDroppedDesc: prometheus.NewDesc(
		"memtier_tenant_samples_dropped_total",
		"Samples of a tenant skipped due to contention.",
		[]string{
			"tenant",
		}, nil,
	),
	tenantCoolingsDesc: prometheus.NewDesc(
		"memtier_tenant_coolings_total",
		"Cooling rounds of a tenant.",
		[]string{
			"tenant",
		}, nil,
	),
	tenantSplitsDesc: prometheus.NewDesc(
		"memtier_tenant_splits_total",
		"Large regions of a tenant split.",
		[]string{
			"tenant",
		}, nil,
	),
	tenantMigratedDesc: prometheus.NewDesc(
		"memtier_tenant_migrated_units_total",
		"Units of a tenant migrated between tiers.",
		[]string{
			"tenant",
			// demotion, promotion
			"direction",
		}, nil,
	),
}

// Collector exports the state of an engine as Prometheus metrics.
type Collector struct {
	e *Engine
}

// NewCollector creates a collector for an engine.
func NewCollector(e *Engine) *Collector {
	return &Collector{e: e}
}

// RegisterCollector registers the collector of an engine for gathering.
func (e *Engine) RegisterCollector() error {
	return metrics.RegisterCollector("memtier", func() (prometheus.Collector, error) {
		return NewCollector(e), nil
	})
}

// Describe implements prometheus.Collector interface
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

// Collect implements prometheus.Collector interface
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counters := c.e.Counters()
	for _, s := range []struct {
		kind  string
		value uint64
	}{
		{"fastread", counters.FastReads},
		{"slowread", counters.SlowReads},
		{"write", counters.Writes},
		{"tlbmiss", counters.TlbMisses},
		{"unresolved", counters.Unresolved},
		{"dropped", counters.Dropped},
	} {
		ch <- prometheus.MustNewConstMetric(descriptors[samplesDesc],
			prometheus.CounterValue, float64(s.value), s.kind)
	}

	for _, t := range c.e.Tenants() {
		id := string(t.id)
		ch <- prometheus.MustNewConstMetric(descriptors[tenantThresholdDesc],
			prometheus.GaugeValue, float64(t.ActiveThreshold()), id, "active")
		ch <- prometheus.MustNewConstMetric(descriptors[tenantThresholdDesc],
			prometheus.GaugeValue, float64(t.WarmThreshold()), id, "warm")
		ch <- prometheus.MustNewConstMetric(descriptors[tenantThresholdDesc],
			prometheus.GaugeValue, float64(t.SubunitActiveThreshold()), id, "subunit")
		ch <- prometheus.MustNewConstMetric(descriptors[tenantEpochDesc],
			prometheus.GaugeValue, float64(t.Epoch()), id)
		ch <- prometheus.MustNewConstMetric(descriptors[tenantBudgetDesc],
			prometheus.GaugeValue, float64(t.MaxFastTierUnits()), id)

		var active, inactive uint64
		for _, n := range c.e.nodes {
			if n.Tier == TierFast {
				active += c.e.placement.Units(t.id, n.Node, ListActive)
				inactive += c.e.placement.Units(t.id, n.Node, ListInactive)
			}
		}
		ch <- prometheus.MustNewConstMetric(descriptors[tenantFastTierUnitsDesc],
			prometheus.GaugeValue, float64(active), id, "active")
		ch <- prometheus.MustNewConstMetric(descriptors[tenantFastTierUnitsDesc],
			prometheus.GaugeValue, float64(inactive), id, "inactive")

		hist := t.Histograms()
		for i, units := range hist.Hotness {
			ch <- prometheus.MustNewConstMetric(descriptors[tenantHotnessDesc],
				prometheus.GaugeValue, float64(units), id, strconv.Itoa(i))
		}
		split := t.Split()
		ch <- prometheus.MustNewConstMetric(descriptors[tenantSplitBudgetDesc],
			prometheus.GaugeValue, float64(split.Budget), id, "primary")
		ch <- prometheus.MustNewConstMetric(descriptors[tenantSplitBudgetDesc],
			prometheus.GaugeValue, float64(split.Tail), id, "tail")

		ch <- prometheus.MustNewConstMetric(descriptors[tenantSamplesDroppedDesc],
			prometheus.CounterValue, float64(t.SamplesDropped()), id)
		ch <- prometheus.MustNewConstMetric(descriptors[tenantCoolingsDesc],
			prometheus.CounterValue, float64(t.coolings.Load()), id)
		ch <- prometheus.MustNewConstMetric(descriptors[tenantSplitsDesc],
			prometheus.CounterValue, float64(t.splits.Load()), id)
		for _, dir := range []Direction{Demotion, Promotion} {
			ch <- prometheus.MustNewConstMetric(descriptors[tenantMigratedDesc],
				prometheus.CounterValue, float64(c.e.stats.Moved(t.id, dir)), id, dir.String())
		}
	}
}
