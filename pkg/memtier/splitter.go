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

// ShouldSplit decides if a large region is skewed enough to be split,
// and if so, charges the region to the split budget and queues it for
// the demotion worker. Splitting itself is left to the executor.
func (t *Tenant) ShouldSplit(r *Region) bool {
	if !t.config().SplitEnabled || !r.IsLarge() || r.Freed() || r.SplitQueued() {
		return false
	}
	r.Lock()
	skew := r.large.SkewnessClass
	r.Unlock()

	t.mu.Lock()
	if _, queued := t.splitPending[r]; queued {
		t.mu.Unlock()
		return false
	}
	if t.splitBudget <= 0 && t.splitBudgetTail <= 0 {
		t.mu.Unlock()
		return false
	}
	if skew < t.splitThreshold {
		t.mu.Unlock()
		return false
	}
	units := int64(r.Units())
	if t.splitBudget > 0 {
		t.splitBudget -= units
		if t.splitBudget < 0 {
			t.splitBudget = 0
		}
	} else {
		t.splitBudgetTail -= units
		if t.splitBudgetTail < 0 {
			t.splitBudgetTail = 0
		}
	}
	t.splitPending[r] = struct{}{}
	t.splitOrder = append(t.splitOrder, r)
	t.mu.Unlock()

	r.Lock()
	r.splitQueued.Store(true)
	d, ok := r.dropSkewLocked()
	r.Unlock()
	if ok {
		t.applyDelta(d)
	}
	log.Debug("tenant %s: %s (skewness %d) queued for split", t.id, r, skew)
	return true
}

// takeSplitPending dequeues up to count regions waiting to be split.
func (t *Tenant) takeSplitPending(count int) []*Region {
	t.mu.Lock()
	defer t.mu.Unlock()
	if count > len(t.splitOrder) {
		count = len(t.splitOrder)
	}
	regions := make([]*Region, 0, count)
	for _, r := range t.splitOrder[:count] {
		delete(t.splitPending, r)
		regions = append(regions, r)
	}
	t.splitOrder = t.splitOrder[count:]
	return regions
}

// NeedsSplit returns true if the last adaptation found that splitting
// large regions would improve the fast tier hit ratio.
func (t *Tenant) NeedsSplit() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.needsSplit
}

// splitFailed returns a region the executor could not split back to
// the set of split candidates.
func (t *Tenant) splitFailed(r *Region) {
	r.Lock()
	r.splitQueued.Store(false)
	d := r.reregisterLocked()
	r.Unlock()
	t.applyDelta(d)
}

// forgetSplit removes a region from the split queue.
func (t *Tenant) forgetSplit(r *Region) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.splitPending[r]; !ok {
		return
	}
	delete(t.splitPending, r)
	for i, q := range t.splitOrder {
		if q == r {
			t.splitOrder = append(t.splitOrder[:i], t.splitOrder[i+1:]...)
			break
		}
	}
}
