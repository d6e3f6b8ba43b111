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
	"fmt"
	"strings"
)

// Dump returns the state of tenants as text. args select tenants by
// ID, "regions" adds the regions of the selected tenants.
func (e *Engine) Dump(args []string) string {
	selected := map[TenantID]struct{}{}
	regions := false
	for _, arg := range args {
		if arg == "regions" {
			regions = true
			continue
		}
		selected[TenantID(arg)] = struct{}{}
	}
	lines := []string{}
	for _, t := range e.Tenants() {
		if _, ok := selected[t.id]; len(selected) > 0 && !ok {
			continue
		}
		lines = append(lines, e.dumpTenant(t)...)
		if regions {
			lines = append(lines, e.dumpRegions(t)...)
		}
	}
	lines = append(lines, fmt.Sprintf("huge region tracking nodes: %d", e.huge.Len()))
	for _, n := range e.nodes {
		q := e.queues[n.Node]
		demotion, promotion := q.Watermarks()
		lines = append(lines, fmt.Sprintf("node %d (%s): capacity %d, used %d, watermarks -%d/+%d, queue %v",
			n.Node, n.Tier, n.Capacity, e.NodeUsage(n.Node), demotion, promotion, q.Tenants()))
	}
	return strings.Join(lines, "\n")
}

func (e *Engine) dumpTenant(t *Tenant) []string {
	hist := t.Histograms()
	split := t.Split()
	units, large := t.Tracked()
	unit, _ := e.config().UnitBytes()
	lines := []string{
		fmt.Sprintf("tenant %s: epoch %d, thresholds active %d warm %d subunit %d",
			t.id, t.Epoch(), t.ActiveThreshold(), t.WarmThreshold(), t.SubunitActiveThreshold()),
		fmt.Sprintf("    budget %d (%s), fast tier %d (active %d), tracked %d units in %d large regions",
			t.MaxFastTierUnits(), FormatBytes(int64(t.MaxFastTierUnits())*unit), e.FastTierUsage(t.id), e.fastTierActiveUnits(t.id), units, large),
		fmt.Sprintf("    samples %d, dropped %d, coolings %d, splits %d",
			t.totalSamples.Load(), t.SamplesDropped(), t.coolings.Load(), t.splits.Load()),
		fmt.Sprintf("    hotness   %v", hist.Hotness),
		fmt.Sprintf("    estimated %v", hist.Estimated),
		fmt.Sprintf("    skewness  %v", hist.Skewness),
		fmt.Sprintf("    split: needed %v, budget %d, tail %d, threshold %d, pending %d, hit ratio %.3f/%.3f",
			split.NeedsSplit, split.Budget, split.Tail, split.Threshold, split.Pending,
			split.PrevHitRatio, split.EstMaxHitRatio),
	}
	for _, n := range e.nodes {
		lines = append(lines, fmt.Sprintf("    node %d: active %d, inactive %d, cooling %v, reclassify %v",
			n.Node,
			e.placement.Units(t.id, n.Node, ListActive),
			e.placement.Units(t.id, n.Node, ListInactive),
			t.NeedCooling(n.Node), t.NeedReclassify(n.Node)))
	}
	return lines
}

func (e *Engine) dumpRegions(t *Tenant) []string {
	lines := []string{}
	e.forEachRegion(t, func(r *Region, node Node, class ListClass) {
		s := r.Snapshot()
		lines = append(lines, fmt.Sprintf("    %s node %d %s idx %d total %d epoch %d hot %d skew %d",
			r, node, class, s.ClassificationIndex, s.TotalAccesses, s.LastCooledEpoch,
			s.HotSubunitCount, s.SkewnessClass))
	})
	return lines
}
