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

// RunCooling starts a new cooling round. Region counters are not touched
// here, they are halved lazily when the region is next caught up. The
// round is refused while any node has not finished the reclassification
// sweep of the previous round.
func (t *Tenant) RunCooling() bool {
	t.mu.Lock()
	for node, tn := range t.nodes {
		if tn.needCooling.Load() {
			t.mu.Unlock()
			log.Debug("tenant %s: cooling refused, node %d has not finished the previous round", t.id, node)
			return false
		}
	}
	t.hotness = [NumHotnessBuckets]uint64{}
	t.estimated = [NumHotnessBuckets]uint64{}
	t.skewness = [NumSkewnessBuckets]uint64{}
	epoch := t.epoch.Inc()
	if sat := t.subunitActiveThreshold.Load(); sat > 0 {
		t.subunitActiveThreshold.Store(sat - 1)
	}
	t.justCooled = true
	for _, tn := range t.nodes {
		tn.needCooling.Store(true)
	}
	t.mu.Unlock()

	t.coolings.Inc()
	log.Debug("tenant %s: cooled to epoch %d", t.id, epoch)
	if t.engine != nil {
		t.engine.stats.Store(StatsCooled{tenant: t.id, epoch: epoch})
		t.engine.enqueueTenant(t, false)
	}
	return true
}

// CatchUp decays the counters of a region to the current epoch of the
// tenant and registers the region in the histograms of that epoch.
// Returns false if the counters were already up to date.
func (t *Tenant) CatchUp(r *Region) bool {
	r.Lock()
	if r.dead.Load() {
		r.Unlock()
		return false
	}
	decayed := r.catchUpLocked(t.epoch.Load(), t.SubunitActiveThreshold())
	d := r.reregisterLocked()
	r.Unlock()
	t.applyDelta(d)
	return decayed
}

// refresh catches a region up and returns its classification index.
// Returns false if the region has been freed.
func (t *Tenant) refresh(r *Region) (uint8, bool) {
	r.Lock()
	if r.dead.Load() {
		r.Unlock()
		return 0, false
	}
	r.catchUpLocked(t.epoch.Load(), t.SubunitActiveThreshold())
	idx := r.classIndexLocked()
	d := r.reregisterLocked()
	r.Unlock()
	t.applyDelta(d)
	return idx, true
}
