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
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Direction is the direction of migrations done by a tier worker.
type Direction int

const (
	Demotion Direction = iota
	Promotion
)

func (d Direction) String() string {
	if d == Demotion {
		return "demotion"
	}
	return "promotion"
}

// worker serves the tenant queue of one node. Workers of fast tier nodes
// demote and split, workers of slow tier nodes promote. Both run the
// reclassification sweeps of their node.
type worker struct {
	e         *Engine
	queue     *NodeTierQueue
	node      Node
	direction Direction
	name      string

	limiter      *rate.Limiter
	limiterRate  uint64
	limiterBurst int
}

func newWorker(e *Engine, q *NodeTierQueue) *worker {
	dir := Demotion
	if q.Tier() == TierSlow {
		dir = Promotion
	}
	return &worker{
		e:         e,
		queue:     q,
		node:      q.Node(),
		direction: dir,
		name:      fmt.Sprintf("%s-worker-%d", dir, q.Node()),
	}
}

func (w *worker) period(cfg *Config) time.Duration {
	if w.direction == Demotion {
		return time.Duration(cfg.DemotionPeriodMs) * time.Millisecond
	}
	return time.Duration(cfg.PromotionPeriodMs) * time.Millisecond
}

// run serves the queue until ctx is cancelled.
func (w *worker) run(ctx context.Context) error {
	log.Debug("%s: online", w.name)
	defer log.Debug("%s: offline", w.name)
	for {
		if ctx.Err() != nil {
			return nil
		}
		cfg := w.e.config()
		t := w.queue.Pop()
		if t == nil {
			if !w.wait(ctx, time.Duration(cfg.IdleIntervalMs)*time.Millisecond) {
				return nil
			}
			continue
		}
		if t.removed.Load() {
			continue
		}
		w.visit(ctx, t)
		if !t.removed.Load() {
			w.queue.Push(t)
		}
		if !w.wait(ctx, w.period(cfg)) {
			return nil
		}
	}
}

// wait sleeps for d or until the queue is woken up. Returns false if
// ctx got cancelled.
func (w *worker) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-w.queue.wake:
	case <-timer.C:
	}
	return true
}

// visit does one round of work for a tenant.
func (w *worker) visit(ctx context.Context, t *Tenant) {
	w.e.stats.Store(StatsHeartbeat{name: w.name})
	cfg := w.e.config()
	if w.direction == Demotion {
		w.split(ctx, t, cfg)
	}
	if ctx.Err() != nil {
		return
	}
	w.reclassify(t, cfg)
	if ctx.Err() != nil || w.e.executor == nil {
		return
	}
	if w.direction == Demotion {
		w.demote(ctx, t, cfg)
	} else {
		w.promote(ctx, t, cfg)
	}
}

func (w *worker) split(ctx context.Context, t *Tenant, cfg *Config) {
	if w.e.executor == nil {
		return
	}
	for _, r := range t.takeSplitPending(cfg.SplitBatch) {
		if ctx.Err() != nil {
			t.splitFailed(r)
			continue
		}
		if r.Freed() {
			continue
		}
		children, err := w.e.executor.Split(ctx, r)
		if err != nil || len(children) == 0 {
			warnLimited.Warn("%s: failed to split %s of tenant %s: %v", w.name, r, t.id, err)
			t.splitFailed(r)
			continue
		}
		w.e.adoptSplit(t, r, children)
	}
}

// reclassify runs the reclassification sweep of the node for a tenant,
// at most ReclassifyBatch regions per visit. The sweep covers the units
// that were on the lists when it started. Once complete, the cooling and
// reclassification requests of the node are cleared.
func (w *worker) reclassify(t *Tenant, cfg *Config) {
	if !t.pendingSweep(w.node) {
		return
	}
	tn := t.nodes[w.node]
	pl := w.e.placement
	if !tn.sweeping {
		tn.sweeping = true
		tn.sweepEpoch = t.Epoch()
		tn.sweepTarget[ListActive] = pl.Units(t.id, w.node, ListActive)
		tn.sweepTarget[ListInactive] = pl.Units(t.id, w.node, ListInactive)
		tn.sweepDone = [2]uint64{}
	}
	budget := cfg.ReclassifyBatch
	needsSplit := w.direction == Demotion && t.NeedsSplit()
	for _, class := range []ListClass{ListActive, ListInactive} {
		for budget > 0 && tn.sweepDone[class] < tn.sweepTarget[class] {
			batch := pl.Rotate(t.id, w.node, class, budget)
			if len(batch) == 0 {
				tn.sweepDone[class] = tn.sweepTarget[class]
				break
			}
			budget -= len(batch)
			for _, r := range batch {
				tn.sweepDone[class] += r.Units()
				idx, alive := t.refresh(r)
				if !alive {
					continue
				}
				active := t.ActiveThreshold()
				switch {
				case idx >= active && class == ListInactive:
					pl.MarkFastTier(r)
				case idx < active && class == ListActive:
					pl.MarkSlowTier(r)
				}
				if needsSplit && r.IsLarge() && idx >= active {
					t.ShouldSplit(r)
				}
			}
		}
	}
	if tn.sweepDone[ListActive] < tn.sweepTarget[ListActive] ||
		tn.sweepDone[ListInactive] < tn.sweepTarget[ListInactive] {
		return
	}
	tn.sweeping = false
	if tn.sweepEpoch != t.Epoch() {
		// cooled during the sweep, start over
		return
	}
	tn.needCooling.Store(false)
	tn.needReclassify.Store(false)
	log.Debug("%s: tenant %s reclassified in epoch %d", w.name, t.id, tn.sweepEpoch)
}

// collect picks regions from a list of the node, coldest first, until
// want units are found. accept filters candidates by classification
// index. Every region scanned is caught up with the current epoch.
func (w *worker) collect(t *Tenant, class ListClass, want uint64, batch int, accept func(idx uint8) bool) ([]*Region, uint64) {
	var (
		regions []*Region
		got     uint64
		scanned uint64
	)
	pl := w.e.placement
	total := pl.Units(t.id, w.node, class)
	for got < want && scanned < total {
		rotated := pl.Rotate(t.id, w.node, class, batch)
		if len(rotated) == 0 {
			break
		}
		for _, r := range rotated {
			scanned += r.Units()
			if got >= want {
				break
			}
			if r.SplitQueued() || got+r.Units() > want {
				continue
			}
			idx, alive := t.refresh(r)
			if !alive || (accept != nil && !accept(idx)) {
				continue
			}
			regions = append(regions, r)
			got += r.Units()
		}
	}
	return regions, got
}

// allow returns how many of want units the migration rate limit lets
// through now, halving the request until the limiter accepts it.
func (w *worker) allow(cfg *Config, want uint64) uint64 {
	if cfg.MaxMigrateUnitsPerSec == 0 || want == 0 {
		return want
	}
	burst := int(cfg.MaxMigrateUnitsPerSec * uint64(w.period(cfg)/time.Millisecond) / 1000)
	if burst < cfg.SubunitsPerLargeRegion {
		burst = cfg.SubunitsPerLargeRegion
	}
	if w.limiter == nil || w.limiterRate != cfg.MaxMigrateUnitsPerSec || w.limiterBurst != burst {
		w.limiter = rate.NewLimiter(rate.Limit(cfg.MaxMigrateUnitsPerSec), burst)
		w.limiterRate, w.limiterBurst = cfg.MaxMigrateUnitsPerSec, burst
	}
	n := want
	if n > uint64(burst) {
		n = uint64(burst)
	}
	now := time.Now()
	for n > 0 && !w.limiter.AllowN(now, int(n)) {
		n /= 2
	}
	return n
}

// trim drops regions from the end of a candidate list until they fit
// in limit units.
func trim(regions []*Region, limit uint64) ([]*Region, uint64) {
	units := uint64(0)
	for i, r := range regions {
		if units+r.Units() > limit {
			return regions[:i], units
		}
		units += r.Units()
	}
	return regions, units
}

func (w *worker) demote(ctx context.Context, t *Tenant, cfg *Config) {
	budget := t.MaxFastTierUnits()
	_, promotion := Watermarks(cfg, budget)
	if w.e.fastTierActiveUnits(t.id) > budget+promotion {
		t.RunCooling()
	}
	usage := w.e.FastTierUsage(t.id)
	excess, ok := DemotionExcess(cfg, usage, budget)
	if t.directDemotion.CAS(true, false) && usage > budget {
		excess, ok = usage-budget, true
	}
	if !ok {
		return
	}
	pl := w.e.placement
	onNode := pl.Units(t.id, w.node, ListActive) + pl.Units(t.id, w.node, ListInactive)
	if excess > onNode {
		excess = onNode
	}
	target, free, ok := w.e.migrationTarget(TierSlow)
	if !ok || free == 0 {
		warnLimited.Warn("%s: no room in the slow tier for demoting %d units of tenant %s", w.name, excess, t.id)
		return
	}
	if excess > free {
		excess = free
	}
	candidates, units := w.collect(t, ListInactive, excess, cfg.ReclassifyBatch, nil)
	margin := budget * uint64(cfg.DemotionSafetyMarginPct) / 100
	if remaining := excess - units; remaining > margin {
		more, moreUnits := w.collect(t, ListActive, remaining-margin, cfg.ReclassifyBatch, nil)
		candidates = append(candidates, more...)
		units += moreUnits
	}
	w.migrate(ctx, t, cfg, candidates, units, target)
}

func (w *worker) promote(ctx context.Context, t *Tenant, cfg *Config) {
	budget := t.MaxFastTierUnits()
	usage := w.e.FastTierUsage(t.id)
	shortfall, ok := PromotionShortfall(cfg, usage, budget)
	exchange := false
	if !ok {
		if shortfall, ok = w.exchange(t); !ok {
			return
		}
		exchange = true
	}
	target, free, ok := w.e.migrationTarget(TierFast)
	if !ok || free == 0 {
		w.e.requestPressureDemotion()
		return
	}
	if shortfall > free {
		shortfall = free
	}
	active, warm := t.ActiveThreshold(), t.WarmThreshold()
	if exchange {
		warm = active
	}
	accept := func(idx uint8) bool { return idx >= warm }
	candidates, units := w.collect(t, ListActive, shortfall, cfg.ReclassifyBatch, accept)
	if units < shortfall && warm < active {
		more, moreUnits := w.collect(t, ListInactive, shortfall-units, cfg.ReclassifyBatch, accept)
		candidates = append(candidates, more...)
		units += moreUnits
	}
	if moved := w.migrate(ctx, t, cfg, candidates, units, target); moved > 0 && exchange {
		log.Debug("%s: tenant %s exchanged %d hot units, demoting as many cold ones", w.name, t.id, moved)
		w.e.RequestDirectDemotion(t.id)
	}
}

// exchange returns how many hot units waiting on the node could replace
// cold units of the tenant on the fast tier.
func (w *worker) exchange(t *Tenant) (uint64, bool) {
	pl := w.e.placement
	waiting := pl.Units(t.id, w.node, ListActive)
	cold := uint64(0)
	for _, n := range w.e.nodes {
		if n.Tier == TierFast {
			cold += pl.Units(t.id, n.Node, ListInactive)
		}
	}
	if cold < waiting {
		waiting = cold
	}
	return waiting, waiting > 0
}

func (w *worker) migrate(ctx context.Context, t *Tenant, cfg *Config, candidates []*Region, units uint64, target Node) int {
	if len(candidates) == 0 {
		return 0
	}
	allowed := w.allow(cfg, units)
	candidates, units = trim(candidates, allowed)
	if len(candidates) == 0 {
		log.Debug("%s: migration of tenant %s rate limited", w.name, t.id)
		return 0
	}
	moved, err := w.e.executor.Migrate(ctx, candidates, target)
	if err != nil {
		warnLimited.Warn("%s: migrating %d units of tenant %s to node %d: %v", w.name, units, t.id, target, err)
	}
	if moved > 0 {
		// regions moved by the executor are relocated by it, catch them
		// up so the sweep of the target node has nothing to miss
		for _, r := range candidates {
			t.refresh(r)
		}
	}
	if w.direction == Demotion {
		w.e.counters.demoted.Add(uint64(moved))
	} else {
		w.e.counters.promoted.Add(uint64(moved))
	}
	w.e.stats.Store(StatsMigrated{
		tenant:    t.id,
		direction: w.direction,
		from:      w.node,
		to:        target,
		requested: units,
		moved:     uint64(moved),
		failed:    err != nil,
	})
	return moved
}
