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
	"go.uber.org/atomic"
)

// SampleCounters are the sampler-level counters of an engine.
type SampleCounters struct {
	Sampled    uint64
	FastReads  uint64
	SlowReads  uint64
	Writes     uint64
	TlbMisses  uint64
	Unresolved uint64
	Dropped    uint64
	Promoted   uint64
	Demoted    uint64
	Splits     uint64
}

type sampleCounters struct {
	sampled    atomic.Uint64
	fastReads  atomic.Uint64
	slowReads  atomic.Uint64
	writes     atomic.Uint64
	tlbMisses  atomic.Uint64
	unresolved atomic.Uint64
	dropped    atomic.Uint64
	promoted   atomic.Uint64
	demoted    atomic.Uint64
	splits     atomic.Uint64
}

func (c *sampleCounters) snapshot() SampleCounters {
	return SampleCounters{
		Sampled:    c.sampled.Load(),
		FastReads:  c.fastReads.Load(),
		SlowReads:  c.slowReads.Load(),
		Writes:     c.writes.Load(),
		TlbMisses:  c.tlbMisses.Load(),
		Unresolved: c.unresolved.Load(),
		Dropped:    c.dropped.Load(),
		Promoted:   c.promoted.Load(),
		Demoted:    c.demoted.Load(),
		Splits:     c.splits.Load(),
	}
}

// Deliver resolves a sample and accounts it. Samples of known subjects
// that do not resolve into a tracked region are folded into the huge
// region index.
func (e *Engine) Deliver(s AccessSample) PlacementHint {
	e.counters.sampled.Inc()
	switch s.Kind {
	case FastTierRead:
		e.counters.fastReads.Inc()
	case SlowTierRead:
		e.counters.slowReads.Inc()
	case Write:
		e.counters.writes.Inc()
	case TlbMissLoad, TlbMissStore:
		e.counters.tlbMisses.Inc()
	}
	var (
		ref RegionRef
		ok  bool
	)
	if e.locator != nil {
		ref, ok = e.locator.Locate(s.Subject, s.Addr)
	}
	if !ok {
		e.counters.unresolved.Inc()
		if t := e.subjectTenant(s.Subject); t != nil {
			e.huge.Record(s.Subject, s.Addr, t.Epoch())
		}
		return HintNone
	}
	return e.RecordAccess(ref, s.Kind)
}

// RecordAccess accounts a sampled access to a resolved region and
// returns the placement hint for the region. The region is moved
// between the classes of its placement list accordingly. Admission does
// not look at the remaining fast tier budget, the tier workers enforce it.
func (e *Engine) RecordAccess(ref RegionRef, kind EventKind) PlacementHint {
	r := ref.Region
	if r == nil || r.Freed() {
		e.counters.unresolved.Inc()
		return HintNone
	}
	t := r.Tenant()
	if t == nil || t.removed.Load() {
		e.counters.unresolved.Inc()
		return HintNone
	}
	if r.large != nil && (ref.Subunit < 0 || ref.Subunit >= len(r.large.Subunits)) {
		e.counters.unresolved.Inc()
		return HintNone
	}
	if !r.TryLock() {
		t.samplesDropped.Inc()
		e.counters.dropped.Inc()
		return HintNone
	}
	if r.dead.Load() {
		r.Unlock()
		e.counters.unresolved.Inc()
		return HintNone
	}
	subunitThreshold := t.SubunitActiveThreshold()
	r.catchUpLocked(t.epoch.Load(), subunitThreshold)
	r.recordLocked(ref.Subunit, subunitThreshold)
	idx := r.classIndexLocked()
	d := r.reregisterLocked()
	r.Unlock()
	t.applyDelta(d)

	total := t.totalSamples.Inc()
	t.samplesSeen.Inc()
	if e.isFastTierHit(r, kind) {
		t.samplesHitFastTier.Inc()
	}
	if r.large != nil {
		t.samplesForSplit.Inc()
	}

	hint := HintNone
	active := t.ActiveThreshold()
	fast := e.placement.IsFastTierResident(r)
	switch {
	case idx >= active && !fast:
		e.placement.MarkFastTier(r)
		hint = HintPromote
	case idx < active && fast:
		e.placement.MarkSlowTier(r)
		hint = HintDemote
	}

	cfg := e.config()
	if cfg.CoolingPeriodSamples > 0 && total%cfg.CoolingPeriodSamples == 0 {
		t.RunCooling()
	}
	if cfg.AdaptationPeriodSamples > 0 && total%cfg.AdaptationPeriodSamples == 0 {
		t.AdjustThresholds()
	}
	return hint
}

// isFastTierHit tells if a sample was served from the fast tier. Reads
// carry the answer, other events are judged by the node of the region.
func (e *Engine) isFastTierHit(r *Region, kind EventKind) bool {
	switch kind {
	case FastTierRead:
		return true
	case SlowTierRead:
		return false
	}
	node, ok := e.placement.NodeOf(r)
	return ok && e.tierOf(node) == TierFast
}
