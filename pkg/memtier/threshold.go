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

// fitThreshold scans a histogram from the hottest bucket down and returns
// the lowest index whose buckets, together with all hotter ones, still fit
// in budget. Returns MaxHotnessIndex if even the hottest bucket does not
// fit.
func fitThreshold(hist *[NumHotnessBuckets]uint64, budget uint64) uint8 {
	total := uint64(0)
	for i := MaxHotnessIndex; i >= 0; i-- {
		if total+hist[i] > budget {
			if i == MaxHotnessIndex {
				return MaxHotnessIndex
			}
			return uint8(i + 1)
		}
		total += hist[i]
	}
	return 0
}

// unitsAtOrAbove sums the buckets from idx up.
func unitsAtOrAbove(hist *[NumHotnessBuckets]uint64, idx uint8) uint64 {
	sum := uint64(0)
	for i := int(idx); i < NumHotnessBuckets; i++ {
		sum += hist[i]
	}
	return sum
}

// estimatedMaxHitRatio estimates the fast tier hit ratio achievable if
// the hottest units that fit in budget were in the fast tier. Bucket i
// holds units accessed roughly 2^i times.
func estimatedMaxHitRatio(hist *[NumHotnessBuckets]uint64, budget uint64) float64 {
	var total, fit float64
	remaining := budget
	for i := MaxHotnessIndex; i >= 0; i-- {
		weight := float64(uint64(1) << uint(i))
		total += weight * float64(hist[i])
		take := hist[i]
		if take > remaining {
			take = remaining
		}
		fit += weight * float64(take)
		remaining -= take
	}
	if total == 0 {
		return 0
	}
	return fit / total
}

// drainSkewness walks the skewness histogram from the most skewed bucket
// down, consuming units of size units per region until budget runs out.
// Returns the lowest skewness class to split, the budget taken by fully
// consumed buckets and the tail left for the bucket where draining stopped.
func drainSkewness(skew *[NumSkewnessBuckets]uint64, budget int64, size uint64) (uint8, int64, int64) {
	if budget <= 0 || size == 0 {
		return MaxSkewnessClass, 0, 0
	}
	primary, remaining := int64(0), budget
	for i := MaxSkewnessClass; i >= 1; i-- {
		need := int64(skew[i] * size)
		if need < remaining {
			primary += need
			remaining -= need
			continue
		}
		if need == remaining {
			return uint8(i), primary + need, 0
		}
		return uint8(i), primary, remaining
	}
	return 1, primary, 0
}

// AdjustThresholds recomputes the active, warm and sub-unit thresholds
// from the histograms, and the split budget when splitting is enabled.
func (t *Tenant) AdjustThresholds() {
	cfg := t.config()
	floor := cfg.hotThresholdFloor()

	t.mu.Lock()
	budget := t.maxFastTierUnits
	old := t.ActiveThreshold()
	oldWarm := t.WarmThreshold()

	next := fitThreshold(&t.hotness, budget)
	if next < floor {
		next = floor
	}
	switch {
	case t.justCooled:
		if next < old {
			next = old - 1
		}
		t.justCooled = false
	case next < old:
		if t.splitFreedRoom {
			next = old - 1
		} else {
			next = old
		}
	}
	if next < floor {
		next = floor
	}
	t.splitFreedRoom = false

	warm := next
	occupancy := unitsAtOrAbove(&t.hotness, next)
	if !cfg.WarmDisabled && next > 0 && occupancy*100 < uint64(cfg.WarmOccupancyPct)*budget {
		warm = next - 1
	}

	t.activeThreshold.Store(uint32(next))
	t.warmThreshold.Store(uint32(warm))
	t.subunitActiveThreshold.Store(uint32(fitThreshold(&t.estimated, budget)))

	t.updateSplitBudgetLocked(cfg)
	needsSplit := t.needsSplit
	t.mu.Unlock()

	if next != old || warm != oldWarm {
		log.Debug("tenant %s: active threshold %d -> %d, warm threshold %d -> %d",
			t.id, old, next, oldWarm, warm)
	}
	// split candidates are picked by the sweep
	if next != old || warm != oldWarm || needsSplit {
		t.markReclassify()
	}
}

// updateSplitBudgetLocked sizes the split work from the gap between the
// estimated achievable and the realized fast tier hit ratio of the
// adaptation window.
func (t *Tenant) updateSplitBudgetLocked(cfg *Config) {
	seen := t.samplesSeen.Swap(0)
	hit := t.samplesHitFastTier.Swap(0)
	forSplit := t.samplesForSplit.Swap(0)

	t.needsSplit = false
	t.splitBudget = 0
	t.splitBudgetTail = 0
	if !cfg.SplitEnabled || seen == 0 {
		return
	}
	t.prevHitRatio = float64(hit) / float64(seen)
	t.estMaxHitRatio = estimatedMaxHitRatio(&t.hotness, t.maxFastTierUnits)
	gap := t.estMaxHitRatio - t.prevHitRatio
	if forSplit == 0 || gap*100 <= float64(cfg.SplitTriggerGapPct) {
		return
	}
	t.needsSplit = true

	latencyGap := 0.0
	if cfg.SlowTierLatencyNs > 0 {
		latencyGap = 1 - float64(cfg.FastTierLatencyNs)/float64(cfg.SlowTierLatencyNs)
	}
	latencyGap = clampRatio(latencyGap)

	hotUtil := 1.0
	if hotUnits := unitsAtOrAbove(&t.hotness, t.ActiveThreshold()); hotUnits > 0 {
		hotUtil = clampRatio(float64(unitsAtOrAbove(&t.estimated, t.SubunitActiveThreshold())) / float64(hotUnits))
	}

	budget := int64(gap * latencyGap * (1 - hotUtil) * float64(t.maxFastTierUnits))
	t.splitThreshold, t.splitBudget, t.splitBudgetTail = drainSkewness(&t.skewness, budget, uint64(cfg.SubunitsPerLargeRegion))
	log.Debug("tenant %s: split gap %.3f (est.max %.3f, realized %.3f) budget %d tail %d threshold %d",
		t.id, gap, t.estMaxHitRatio, t.prevHitRatio, t.splitBudget, t.splitBudgetTail, t.splitThreshold)
}

func clampRatio(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
