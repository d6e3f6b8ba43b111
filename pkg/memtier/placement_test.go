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
	"testing"
)

func TestPlacementLists(t *testing.T) {
	p := NewPlacementLists()
	owner := &Tenant{id: "a"}
	newRegion := func(addr uint64, large bool) *Region {
		r := NewRegion(1, addr)
		if large {
			r = NewLargeRegion(1, addr, 8)
		}
		r.setTenant(owner)
		return r
	}
	expectUnits := func(node Node, class ListClass, expected uint64) {
		t.Helper()
		if units := p.Units("a", node, class); units != expected {
			t.Errorf("node %d %s: expected %d units, got %d", node, class, expected, units)
		}
	}

	r1, r2, r3 := newRegion(0, false), newRegion(0x1000, false), newRegion(0x8000, true)
	p.Insert(r1, 0)
	p.Insert(r2, 0)
	p.Insert(r3, 0)
	expectUnits(0, ListInactive, 10)
	expectUnits(0, ListActive, 0)
	if p.IsFastTierResident(r1) {
		t.Errorf("inserted region expected on the inactive list")
	}

	// rotation starts from the least recently inserted or rotated
	rotated := p.Rotate("a", 0, ListInactive, 2)
	if len(rotated) != 2 || rotated[0] != r1 || rotated[1] != r2 {
		t.Errorf("expected r1 and r2 rotated first, got %v", rotated)
	}
	rotated = p.Rotate("a", 0, ListInactive, 5)
	if len(rotated) != 3 || rotated[0] != r3 {
		t.Errorf("expected r3 rotated next, got %v", rotated)
	}
	if rotated := p.Rotate("b", 0, ListInactive, 5); len(rotated) != 0 {
		t.Errorf("unknown tenant expected to have empty lists, got %v", rotated)
	}

	p.MarkFastTier(r3)
	p.MarkFastTier(r3)
	expectUnits(0, ListActive, 8)
	expectUnits(0, ListInactive, 2)
	if !p.IsFastTierResident(r3) {
		t.Errorf("marked region expected on the active list")
	}

	p.Relocate(r3, 1)
	expectUnits(0, ListActive, 0)
	expectUnits(1, ListActive, 8)
	if node, ok := p.NodeOf(r3); !ok || node != 1 {
		t.Errorf("expected r3 on node 1, got %d (%v)", node, ok)
	}
	if !p.IsFastTierResident(r3) {
		t.Errorf("relocation expected to keep the list class")
	}
	p.MarkSlowTier(r3)
	expectUnits(1, ListInactive, 8)
	if n := p.Len("a", 1, ListInactive); n != 1 {
		t.Errorf("expected 1 region on node 1, got %d", n)
	}

	p.Delete(r3)
	p.Delete(r3)
	expectUnits(1, ListInactive, 0)
	if _, ok := p.NodeOf(r3); ok {
		t.Errorf("deleted region expected to have no node")
	}
	p.MarkFastTier(r3)
	p.Relocate(r3, 0)
	if p.IsFastTierResident(r3) {
		t.Errorf("operations on a deleted region expected to be no-ops")
	}

	p.Insert(r1, 1)
	expectUnits(0, ListInactive, 1)
	expectUnits(1, ListInactive, 1)
}

func TestNodeTierQueue(t *testing.T) {
	q := newNodeTierQueue(0, TierFast)
	a, b, c := &Tenant{id: "a"}, &Tenant{id: "b"}, &Tenant{id: "c"}
	expectTenants := func(expected ...TenantID) {
		t.Helper()
		got := q.Tenants()
		if len(got) != len(expected) {
			t.Errorf("expected queue %v, got %v", expected, got)
			return
		}
		for i := range got {
			if got[i] != expected[i] {
				t.Errorf("expected queue %v, got %v", expected, got)
				return
			}
		}
	}

	q.Push(a)
	q.Push(b)
	q.Push(a)
	expectTenants("a", "b")
	q.PushFront(c)
	q.PushFront(b)
	expectTenants("b", "c", "a")
	if q.Len() != 3 {
		t.Errorf("expected 3 tenants, got %d", q.Len())
	}
	select {
	case <-q.wake:
	default:
		t.Errorf("pushing to front expected to wake the worker")
	}
	q.Wake()
	q.Wake()

	if popped := q.Pop(); popped != b {
		t.Errorf("expected b popped first, got %v", popped)
	}
	q.Remove("a")
	q.Remove("x")
	expectTenants("c")
	q.Push(b)
	expectTenants("c", "b")
	q.Pop()
	q.Pop()
	if popped := q.Pop(); popped != nil {
		t.Errorf("expected empty queue, got %v", popped)
	}

	cfg := testConfig()
	q.setWatermarks(cfg, 1000)
	if demotion, promotion := q.Watermarks(); demotion != 30 || promotion != 50 {
		t.Errorf("expected watermarks 30/50, got %d/%d", demotion, promotion)
	}
}

func TestHugeRegionIndex(t *testing.T) {
	x := NewHugeRegionIndex(testUnit, 8)
	if x.RegionSize() != 8*testUnit {
		t.Fatalf("expected region size %d, got %d", 8*testUnit, x.RegionSize())
	}
	base := uint64(0x40000)
	expectNode := func(n HugeRegionTrackingNode, total, hot, epoch uint32) {
		t.Helper()
		if n.TotalAccesses != total || n.HotSubunitEstimate != hot || n.CoolingEpoch != epoch {
			t.Errorf("expected tracking node (%d, %d, %d), got (%d, %d, %d)",
				total, hot, epoch, n.TotalAccesses, n.HotSubunitEstimate, n.CoolingEpoch)
		}
	}

	expectNode(x.Record(1, base+testUnit+12, 0), 1, 1, 0)
	expectNode(x.Record(1, base+testUnit, 0), 2, 1, 0)
	expectNode(x.Record(1, base+7*testUnit, 0), 3, 2, 0)
	x.Record(1, base+8*testUnit, 0)
	x.Record(2, base, 0)
	if x.Len() != 3 {
		t.Errorf("expected 3 tracking nodes, got %d", x.Len())
	}
	n, ok := x.Lookup(1, base+5*testUnit)
	if !ok {
		t.Fatalf("tracking node not found")
	}
	expectNode(n, 3, 2, 0)

	// two epochs later counters are quartered and sub-units forgotten
	expectNode(x.Record(1, base+testUnit, 2), 1, 1, 2)
	n, ok = x.Take(1, base, 3)
	if !ok {
		t.Fatalf("tracking node not taken")
	}
	expectNode(n, 0, 0, 3)
	if _, ok := x.Lookup(1, base); ok {
		t.Errorf("taken tracking node expected to be gone")
	}
	if _, ok := x.Take(1, base, 3); ok {
		t.Errorf("taking twice expected to fail")
	}
	if removed := x.RemoveSubject(1); removed != 1 {
		t.Errorf("expected 1 tracking node removed, got %d", removed)
	}
	if x.Len() != 1 {
		t.Errorf("expected 1 tracking node left, got %d", x.Len())
	}
}
