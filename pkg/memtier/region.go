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
	"math"
	"math/bits"
	"sync"

	"go.uber.org/atomic"
)

// RegionAccessInfo holds the access counters of a base unit.
type RegionAccessInfo struct {
	// AccessCount counts samples, saturating at 65535.
	AccessCount uint32
	// TotalDecayedAccesses is the decaying access count used for
	// classification.
	TotalDecayedAccesses uint32
	// LastCooledEpoch is the tenant cooling epoch the counters were
	// last decayed to.
	LastCooledEpoch uint32
	// MayBeHot is set when the unit has crossed the sub-unit hot
	// threshold.
	MayBeHot bool
}

func (ai *RegionAccessInfo) record() {
	if ai.AccessCount < maxAccessCount {
		ai.AccessCount++
	}
	if ai.TotalDecayedAccesses < maxTotalAccesses {
		ai.TotalDecayedAccesses++
	}
}

// decay halves the counters once for every epoch missed before epoch.
func (ai *RegionAccessInfo) decay(epoch uint32) bool {
	if epoch <= ai.LastCooledEpoch {
		return false
	}
	diff := epoch - ai.LastCooledEpoch
	ai.AccessCount >>= diff
	ai.TotalDecayedAccesses >>= diff
	ai.LastCooledEpoch = epoch
	return true
}

// ClassIndex returns the histogram bucket of an access count:
// floor(log2(count+1)) clamped to [0, MaxHotnessIndex].
func ClassIndex(count uint32) uint8 {
	idx := bits.Len64(uint64(count)+1) - 1
	if idx > MaxHotnessIndex {
		idx = MaxHotnessIndex
	}
	return uint8(idx)
}

// LargeRegionMeta is the per-sub-unit accounting of a large region.
type LargeRegionMeta struct {
	Subunits            []RegionAccessInfo
	HotSubunitCount     uint32
	TotalAccesses       uint32
	SkewnessClass       uint8
	ClassificationIndex uint8
	LastCooledEpoch     uint32

	// number of sub-units per classification index
	estimated [NumHotnessBuckets]uint32
}

func newLargeRegionMeta(subunits int) *LargeRegionMeta {
	m := &LargeRegionMeta{
		Subunits: make([]RegionAccessInfo, subunits),
	}
	m.estimated[0] = uint32(subunits)
	return m
}

// GetSubunitInfo returns the counters of the sub-unit at offset, or nil
// if offset is out of range.
func (m *LargeRegionMeta) GetSubunitInfo(offset int) *RegionAccessInfo {
	if offset < 0 || offset >= len(m.Subunits) {
		return nil
	}
	return &m.Subunits[offset]
}

func (m *LargeRegionMeta) stamp(epoch uint32) {
	m.LastCooledEpoch = epoch
	for i := range m.Subunits {
		m.Subunits[i].LastCooledEpoch = epoch
	}
}

// record counts an access to a sub-unit. Returns true on the first
// crossing of the sub-unit into the hot class.
func (m *LargeRegionMeta) record(offset int, subunitThreshold uint8) bool {
	su := &m.Subunits[offset]
	oldIdx := ClassIndex(su.TotalDecayedAccesses)
	su.record()
	newIdx := ClassIndex(su.TotalDecayedAccesses)
	if newIdx != oldIdx {
		m.estimated[oldIdx]--
		m.estimated[newIdx]++
	}
	if m.TotalAccesses < maxTotalAccesses {
		m.TotalAccesses++
	}
	m.ClassificationIndex = ClassIndex(m.TotalAccesses)
	if !su.MayBeHot && newIdx >= subunitThreshold {
		su.MayBeHot = true
		m.HotSubunitCount++
		return true
	}
	return false
}

// decay catches every sub-unit up with epoch and recomputes the
// aggregates and the skewness of the region.
func (m *LargeRegionMeta) decay(epoch uint32, subunitThreshold uint8) bool {
	if epoch <= m.LastCooledEpoch {
		return false
	}
	var (
		total uint64
		sumSq float64
		hot   uint32
	)
	m.estimated = [NumHotnessBuckets]uint32{}
	for i := range m.Subunits {
		su := &m.Subunits[i]
		su.decay(epoch)
		c := su.TotalDecayedAccesses
		idx := ClassIndex(c)
		m.estimated[idx]++
		total += uint64(c)
		sumSq += float64(c) * float64(c)
		su.MayBeHot = c > 0 && idx >= subunitThreshold
		if su.MayBeHot {
			hot++
		}
	}
	if total > maxTotalAccesses {
		total = maxTotalAccesses
	}
	m.TotalAccesses = uint32(total)
	m.HotSubunitCount = hot
	m.ClassificationIndex = ClassIndex(m.TotalAccesses)
	m.SkewnessClass = skewnessClass(sumSq, float64(total), len(m.Subunits), hot)
	m.LastCooledEpoch = epoch
	return true
}

func skewnessClass(sumSq, total float64, n int, hot uint32) uint8 {
	if n == 0 {
		return 0
	}
	score := (sumSq - total*total/float64(n)) / math.Max(float64(hot), 1)
	if score <= 0 {
		return 0
	}
	class := int(math.Floor(math.Log2(score + 1)))
	if class > MaxSkewnessClass {
		class = MaxSkewnessClass
	}
	return uint8(class)
}

// SkewnessClass returns the skewness class of a large region whose
// sub-units have the given decayed access counts. Sub-units with a
// non-zero count at or above subunitThreshold are considered hot.
func SkewnessClass(counts []uint32, subunitThreshold uint8) uint8 {
	var (
		total uint64
		sumSq float64
		hot   uint32
	)
	for _, c := range counts {
		total += uint64(c)
		sumSq += float64(c) * float64(c)
		if c > 0 && ClassIndex(c) >= subunitThreshold {
			hot++
		}
	}
	return skewnessClass(sumSq, float64(total), len(counts), hot)
}

// Region is a tracked memory region: either a base unit or a large region
// with per-sub-unit counters.
type Region struct {
	mu       sync.Mutex
	subject  SubjectID
	addr     uint64
	info     RegionAccessInfo
	classIdx uint8
	large    *LargeRegionMeta
	contrib  histContribution

	// tenant holds the *Tenant of a tracked region. Regions are visible
	// to samplers before they are tracked, so it is set only once and
	// atomically.
	tenant      atomic.Value
	dead        atomic.Bool
	splitQueued atomic.Bool
}

// RegionSnapshot is a copy of the accounting state of a region.
type RegionSnapshot struct {
	Subject             SubjectID
	Addr                uint64
	Units               uint64
	Large               bool
	ClassificationIndex uint8
	TotalAccesses       uint32
	AccessCount         uint32
	HotSubunitCount     uint32
	SkewnessClass       uint8
	LastCooledEpoch     uint32
}

// NewRegion creates a base region.
func NewRegion(subject SubjectID, addr uint64) *Region {
	return &Region{
		subject: subject,
		addr:    addr,
	}
}

// NewLargeRegion creates a large region of the given number of sub-units.
func NewLargeRegion(subject SubjectID, addr uint64, subunits int) *Region {
	if subunits < 1 {
		subunits = 1
	}
	return &Region{
		subject: subject,
		addr:    addr,
		large:   newLargeRegionMeta(subunits),
	}
}

// Lock locks the region. Migrations hold the lock while moving it.
func (r *Region) Lock() {
	r.mu.Lock()
}

// TryLock tries to lock the region without blocking.
func (r *Region) TryLock() bool {
	return r.mu.TryLock()
}

// Unlock unlocks the region.
func (r *Region) Unlock() {
	r.mu.Unlock()
}

// Subject returns the address space the region belongs to.
func (r *Region) Subject() SubjectID {
	return r.subject
}

// Addr returns the start address of the region.
func (r *Region) Addr() uint64 {
	return r.addr
}

// IsLarge returns true for a large region.
func (r *Region) IsLarge() bool {
	return r.large != nil
}

// Units returns the number of base units in the region.
func (r *Region) Units() uint64 {
	if r.large != nil {
		return uint64(len(r.large.Subunits))
	}
	return 1
}

// Tenant returns the tenant the region is attributed to.
func (r *Region) Tenant() *Tenant {
	t, _ := r.tenant.Load().(*Tenant)
	return t
}

// setTenant attributes an untracked region to t. Returns false if the
// region already has a tenant.
func (r *Region) setTenant(t *Tenant) bool {
	return r.tenant.CompareAndSwap(nil, t)
}

// TenantID returns the ID of the tenant of the region, or "" if the
// region is not tracked.
func (r *Region) TenantID() TenantID {
	t := r.Tenant()
	if t == nil {
		return ""
	}
	return t.id
}

// Freed returns true if the region is no more tracked.
func (r *Region) Freed() bool {
	return r.dead.Load()
}

// SplitQueued returns true if the region waits for being split.
func (r *Region) SplitQueued() bool {
	return r.splitQueued.Load()
}

// GetSubunitInfo returns the counters of a sub-unit of a large region.
// The caller must hold the region lock.
func (r *Region) GetSubunitInfo(offset int) *RegionAccessInfo {
	if r.large == nil {
		return nil
	}
	return r.large.GetSubunitInfo(offset)
}

// LargeMeta returns the sub-unit accounting of a large region, nil for
// base regions. The caller must hold the region lock.
func (r *Region) LargeMeta() *LargeRegionMeta {
	return r.large
}

// Snapshot returns a copy of the accounting state of the region.
func (r *Region) Snapshot() RegionSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := RegionSnapshot{
		Subject: r.subject,
		Addr:    r.addr,
		Units:   r.Units(),
		Large:   r.large != nil,
	}
	if r.large != nil {
		s.ClassificationIndex = r.large.ClassificationIndex
		s.TotalAccesses = r.large.TotalAccesses
		s.HotSubunitCount = r.large.HotSubunitCount
		s.SkewnessClass = r.large.SkewnessClass
		s.LastCooledEpoch = r.large.LastCooledEpoch
		for i := range r.large.Subunits {
			s.AccessCount += r.large.Subunits[i].AccessCount
		}
	} else {
		s.ClassificationIndex = r.classIdx
		s.TotalAccesses = r.info.TotalDecayedAccesses
		s.AccessCount = r.info.AccessCount
		s.LastCooledEpoch = r.info.LastCooledEpoch
	}
	return s
}

// ClassificationIndex returns the current hotness bucket of the region.
func (r *Region) ClassificationIndex() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.classIndexLocked()
}

func (r *Region) String() string {
	kind := "region"
	if r.large != nil {
		kind = "large-region"
	}
	return fmt.Sprintf("%s{subject: %d, addr: %#x, units: %d}", kind, r.subject, r.addr, r.Units())
}

// CatchUp decays the counters of the region to epoch. Catching up twice
// to the same epoch is a no-op.
func (r *Region) CatchUp(epoch uint32, subunitThreshold uint8) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.catchUpLocked(epoch, subunitThreshold)
}

func (r *Region) catchUpLocked(epoch uint32, subunitThreshold uint8) bool {
	if r.large != nil {
		return r.large.decay(epoch, subunitThreshold)
	}
	if !r.info.decay(epoch) {
		return false
	}
	r.info.MayBeHot = r.info.TotalDecayedAccesses > 0 && ClassIndex(r.info.TotalDecayedAccesses) >= subunitThreshold
	r.classIdx = ClassIndex(r.info.TotalDecayedAccesses)
	return true
}

func (r *Region) epochLocked() uint32 {
	if r.large != nil {
		return r.large.LastCooledEpoch
	}
	return r.info.LastCooledEpoch
}

func (r *Region) stampLocked(epoch uint32) {
	if r.large != nil {
		r.large.stamp(epoch)
		return
	}
	r.info.LastCooledEpoch = epoch
}

func (r *Region) classIndexLocked() uint8 {
	if r.large != nil {
		return r.large.ClassificationIndex
	}
	return r.classIdx
}

func (r *Region) totalLocked() uint32 {
	if r.large != nil {
		return r.large.TotalAccesses
	}
	return r.info.TotalDecayedAccesses
}

// recordLocked counts one access to the region, or to the given sub-unit
// of a large region.
func (r *Region) recordLocked(subunit int, subunitThreshold uint8) {
	if r.large != nil {
		r.large.record(subunit, subunitThreshold)
		return
	}
	r.info.record()
	r.classIdx = ClassIndex(r.info.TotalDecayedAccesses)
	if !r.info.MayBeHot && r.classIdx >= subunitThreshold {
		r.info.MayBeHot = true
	}
}

// seedLocked sets the counters of a fresh region as if it had been
// accessed count times.
func (r *Region) seedLocked(count uint32) {
	access := count
	if access > maxAccessCount {
		access = maxAccessCount
	}
	if r.large == nil {
		r.info.AccessCount = access
		r.info.TotalDecayedAccesses = count
		r.info.MayBeHot = count > 0
		r.classIdx = ClassIndex(count)
		return
	}
	n := uint32(len(r.large.Subunits))
	r.large.estimated = [NumHotnessBuckets]uint32{}
	var total uint64
	for i := range r.large.Subunits {
		c := count / n
		if uint32(i) < count%n {
			c++
		}
		r.large.Subunits[i].TotalDecayedAccesses = c
		r.large.Subunits[i].AccessCount = c
		if c > maxAccessCount {
			r.large.Subunits[i].AccessCount = maxAccessCount
		}
		r.large.estimated[ClassIndex(c)]++
		total += uint64(c)
	}
	r.large.TotalAccesses = uint32(total)
	r.large.ClassificationIndex = ClassIndex(r.large.TotalAccesses)
}

// histContribution is what a region has added to its tenant's histograms.
type histContribution struct {
	valid bool
	epoch uint32
	units uint64
	hot   uint8
	est   [NumHotnessBuckets]uint32
	// skewness bucket, -1 when the region is not counted
	skew int8
}

// histDelta is a change to tenant histograms, valid only in epoch.
type histDelta struct {
	epoch uint32
	hot   [NumHotnessBuckets]int64
	est   [NumHotnessBuckets]int64
	skew  [NumSkewnessBuckets]int64
}

func (d *histDelta) add(c *histContribution, sign int64) {
	d.hot[c.hot] += sign * int64(c.units)
	for i, n := range c.est {
		d.est[i] += sign * int64(n)
	}
	if c.skew >= 0 {
		d.skew[c.skew] += sign
	}
}

func (d *histDelta) isZero() bool {
	for i := range d.hot {
		if d.hot[i] != 0 || d.est[i] != 0 {
			return false
		}
	}
	for _, s := range d.skew {
		if s != 0 {
			return false
		}
	}
	return true
}

func (r *Region) contributionLocked(epoch uint32) histContribution {
	c := histContribution{
		valid: true,
		epoch: epoch,
		skew:  -1,
	}
	if r.large != nil {
		c.units = uint64(len(r.large.Subunits))
		c.hot = r.large.ClassificationIndex
		c.est = r.large.estimated
		if !r.splitQueued.Load() {
			c.skew = int8(r.large.SkewnessClass)
		}
		return c
	}
	c.units = 1
	c.hot = r.classIdx
	c.est[r.classIdx] = 1
	return c
}

// reregisterLocked recomputes the contribution of the region to the
// histograms of the epoch it was last caught up to, and returns the
// change to apply to them.
func (r *Region) reregisterLocked() histDelta {
	epoch := r.epochLocked()
	c := r.contributionLocked(epoch)
	d := histDelta{epoch: epoch}
	d.add(&c, 1)
	if r.contrib.valid && r.contrib.epoch == epoch {
		d.add(&r.contrib, -1)
	}
	r.contrib = c
	return d
}

// unregisterLocked withdraws the contribution of the region.
func (r *Region) unregisterLocked() (histDelta, bool) {
	if !r.contrib.valid {
		return histDelta{}, false
	}
	d := histDelta{epoch: r.contrib.epoch}
	d.add(&r.contrib, -1)
	r.contrib.valid = false
	return d, true
}

// dropSkewLocked withdraws the region from the skewness histogram.
func (r *Region) dropSkewLocked() (histDelta, bool) {
	if !r.contrib.valid || r.contrib.skew < 0 {
		return histDelta{}, false
	}
	d := histDelta{epoch: r.contrib.epoch}
	d.skew[r.contrib.skew] = -1
	r.contrib.skew = -1
	return d, true
}
