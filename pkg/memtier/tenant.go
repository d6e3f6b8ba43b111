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
	"sync"

	"go.uber.org/atomic"
)

// Tenant is the tiering state of one accounting domain: its decaying
// histograms, adaptive thresholds, cooling epoch and split budget.
type Tenant struct {
	id     TenantID
	engine *Engine

	// mu protects histograms, split budget and flags below. Thresholds
	// and the epoch are written under mu but read without it.
	mu               sync.Mutex
	hotness          [NumHotnessBuckets]uint64
	estimated        [NumHotnessBuckets]uint64
	skewness         [NumSkewnessBuckets]uint64
	maxFastTierUnits uint64
	splitBudget      int64
	splitBudgetTail  int64
	splitThreshold   uint8
	needsSplit       bool
	justCooled       bool
	splitFreedRoom   bool
	estMaxHitRatio   float64
	prevHitRatio     float64
	trackedUnits     uint64
	trackedLarge     uint64
	splitPending     map[*Region]struct{}
	splitOrder       []*Region
	subjects         map[SubjectID]struct{}

	epoch                  atomic.Uint32
	activeThreshold        atomic.Uint32
	warmThreshold          atomic.Uint32
	subunitActiveThreshold atomic.Uint32

	// adaptation window counters
	samplesSeen        atomic.Uint64
	samplesHitFastTier atomic.Uint64
	samplesForSplit    atomic.Uint64

	totalSamples   atomic.Uint64
	samplesDropped atomic.Uint64
	coolings       atomic.Uint64
	splits         atomic.Uint64
	directDemotion atomic.Bool
	removed        atomic.Bool

	// per-node flags, the map is immutable after creation
	nodes map[Node]*tenantNode
}

type tenantNode struct {
	needCooling    atomic.Bool
	needReclassify atomic.Bool

	// reclassification sweep progress, owned by the node's worker
	sweeping    bool
	sweepEpoch  uint32
	sweepTarget [2]uint64
	sweepDone   [2]uint64
}

// HistogramSnapshot is a copy of the histograms of a tenant.
type HistogramSnapshot struct {
	Hotness   [NumHotnessBuckets]uint64
	Estimated [NumHotnessBuckets]uint64
	Skewness  [NumSkewnessBuckets]uint64
}

// SplitState is a copy of the split budget of a tenant.
type SplitState struct {
	NeedsSplit     bool
	Budget         int64
	Tail           int64
	Threshold      uint8
	Pending        int
	EstMaxHitRatio float64
	PrevHitRatio   float64
}

func newTenant(e *Engine, id TenantID, maxFastTierUnits uint64, floor uint8, nodes []NodeInfo) *Tenant {
	t := &Tenant{
		id:               id,
		engine:           e,
		maxFastTierUnits: maxFastTierUnits,
		splitThreshold:   MaxSkewnessClass,
		splitPending:     make(map[*Region]struct{}),
		subjects:         make(map[SubjectID]struct{}),
		nodes:            make(map[Node]*tenantNode, len(nodes)),
	}
	t.activeThreshold.Store(uint32(floor))
	t.warmThreshold.Store(uint32(floor))
	t.subunitActiveThreshold.Store(uint32(floor))
	for _, n := range nodes {
		t.nodes[n.Node] = &tenantNode{}
	}
	return t
}

// ID returns the ID of the tenant.
func (t *Tenant) ID() TenantID {
	return t.id
}

// Epoch returns the current cooling epoch.
func (t *Tenant) Epoch() uint32 {
	return t.epoch.Load()
}

// ActiveThreshold returns the classification index at and above which
// regions belong to the fast tier.
func (t *Tenant) ActiveThreshold() uint8 {
	return uint8(t.activeThreshold.Load())
}

// WarmThreshold returns the classification index at and above which
// regions are promoted while the fast tier has room.
func (t *Tenant) WarmThreshold() uint8 {
	return uint8(t.warmThreshold.Load())
}

// SubunitActiveThreshold returns the classification index at and above
// which a sub-unit of a large region counts as hot.
func (t *Tenant) SubunitActiveThreshold() uint8 {
	return uint8(t.subunitActiveThreshold.Load())
}

// MaxFastTierUnits returns the fast tier budget of the tenant.
func (t *Tenant) MaxFastTierUnits() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxFastTierUnits
}

// SetMaxFastTierUnits changes the fast tier budget of the tenant.
func (t *Tenant) SetMaxFastTierUnits(units uint64) {
	t.mu.Lock()
	t.maxFastTierUnits = units
	t.mu.Unlock()
	t.markReclassify()
}

// Histograms returns a copy of the histograms.
func (t *Tenant) Histograms() HistogramSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return HistogramSnapshot{
		Hotness:   t.hotness,
		Estimated: t.estimated,
		Skewness:  t.skewness,
	}
}

// Split returns a copy of the split budget state.
func (t *Tenant) Split() SplitState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return SplitState{
		NeedsSplit:     t.needsSplit,
		Budget:         t.splitBudget,
		Tail:           t.splitBudgetTail,
		Threshold:      t.splitThreshold,
		Pending:        len(t.splitPending),
		EstMaxHitRatio: t.estMaxHitRatio,
		PrevHitRatio:   t.prevHitRatio,
	}
}

// Tracked returns the number of units and large regions attributed to
// the tenant.
func (t *Tenant) Tracked() (units, large uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trackedUnits, t.trackedLarge
}

// SamplesDropped returns the number of samples skipped due to contention.
func (t *Tenant) SamplesDropped() uint64 {
	return t.samplesDropped.Load()
}

// NeedCooling returns true if the reclassification sweep of a cooling
// round is pending on node.
func (t *Tenant) NeedCooling(node Node) bool {
	tn, ok := t.nodes[node]
	return ok && tn.needCooling.Load()
}

// NeedReclassify returns true if a threshold change is pending on node.
func (t *Tenant) NeedReclassify(node Node) bool {
	tn, ok := t.nodes[node]
	return ok && tn.needReclassify.Load()
}

// Subjects returns the address spaces attached to the tenant.
func (t *Tenant) Subjects() []SubjectID {
	t.mu.Lock()
	defer t.mu.Unlock()
	subjects := make([]SubjectID, 0, len(t.subjects))
	for s := range t.subjects {
		subjects = append(subjects, s)
	}
	return subjects
}

// applyDelta folds a region's histogram change into the histograms, if
// they are still of the epoch the change was computed in.
func (t *Tenant) applyDelta(d histDelta) {
	if d.isZero() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if d.epoch != t.epoch.Load() {
		return
	}
	t.addClamped(t.hotness[:], d.hot[:], "hotness")
	t.addClamped(t.estimated[:], d.est[:], "estimated")
	t.addClamped(t.skewness[:], d.skew[:], "skewness")
}

func (t *Tenant) addClamped(hist []uint64, delta []int64, name string) {
	for i, dv := range delta {
		switch {
		case dv > 0:
			hist[i] += uint64(dv)
		case dv < 0:
			dec := uint64(-dv)
			if hist[i] < dec {
				warnLimited.Warn("tenant %s: %s histogram bucket %d underflow (%d - %d), clamped to zero",
					t.id, name, i, hist[i], dec)
				hist[i] = 0
				continue
			}
			hist[i] -= dec
		}
	}
}

// markReclassify requests a reclassification sweep on every node.
func (t *Tenant) markReclassify() {
	for _, tn := range t.nodes {
		tn.needReclassify.Store(true)
	}
	if t.engine != nil {
		t.engine.enqueueTenant(t, false)
	}
}

// pendingSweep returns true if node has cooling or reclassification
// work for the tenant.
func (t *Tenant) pendingSweep(node Node) bool {
	tn, ok := t.nodes[node]
	return ok && (tn.needCooling.Load() || tn.needReclassify.Load())
}
