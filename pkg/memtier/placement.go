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
	"container/list"
	"sync"
)

// PlacementLists is an in-memory PlacementList. Every (tenant, node)
// pair has an active and an inactive list. The front of a list is its
// hot end, regions are rotated from the back.
type PlacementLists struct {
	mu      sync.Mutex
	lists   map[placementKey]*placementList
	entries map[*Region]*placementEntry
}

type placementKey struct {
	tenant TenantID
	node   Node
	class  ListClass
}

type placementList struct {
	l     *list.List
	units uint64
}

type placementEntry struct {
	key  placementKey
	elem *list.Element
}

// NewPlacementLists creates empty placement lists.
func NewPlacementLists() *PlacementLists {
	return &PlacementLists{
		lists:   make(map[placementKey]*placementList),
		entries: make(map[*Region]*placementEntry),
	}
}

func (p *PlacementLists) list(key placementKey) *placementList {
	pl, ok := p.lists[key]
	if !ok {
		pl = &placementList{l: list.New()}
		p.lists[key] = pl
	}
	return pl
}

func (p *PlacementLists) unlink(e *placementEntry, r *Region) {
	pl := p.lists[e.key]
	pl.l.Remove(e.elem)
	pl.units -= r.Units()
}

func (p *PlacementLists) link(key placementKey, r *Region) *placementEntry {
	pl := p.list(key)
	pl.units += r.Units()
	return &placementEntry{key: key, elem: pl.l.PushFront(r)}
}

func (p *PlacementLists) move(r *Region, class ListClass) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[r]
	if !ok || e.key.class == class {
		return
	}
	p.unlink(e, r)
	key := e.key
	key.class = class
	p.entries[r] = p.link(key, r)
}

// MarkFastTier moves a region to the active list of its node.
func (p *PlacementLists) MarkFastTier(r *Region) {
	p.move(r, ListActive)
}

// MarkSlowTier moves a region to the inactive list of its node.
func (p *PlacementLists) MarkSlowTier(r *Region) {
	p.move(r, ListInactive)
}

// IsFastTierResident returns true if the region is on an active list.
func (p *PlacementLists) IsFastTierResident(r *Region) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[r]
	return ok && e.key.class == ListActive
}

// Insert adds a region to the inactive list of node.
func (p *PlacementLists) Insert(r *Region, node Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[r]; ok {
		p.unlink(e, r)
	}
	p.entries[r] = p.link(placementKey{tenant: r.TenantID(), node: node, class: ListInactive}, r)
}

// Delete removes a region from its list.
func (p *PlacementLists) Delete(r *Region) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[r]; ok {
		p.unlink(e, r)
		delete(p.entries, r)
	}
}

// Relocate moves a region to the same class of lists on another node.
func (p *PlacementLists) Relocate(r *Region, node Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[r]
	if !ok || e.key.node == node {
		return
	}
	p.unlink(e, r)
	key := e.key
	key.node = node
	p.entries[r] = p.link(key, r)
}

// NodeOf returns the node of a region.
func (p *PlacementLists) NodeOf(r *Region) (Node, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[r]; ok {
		return e.key.node, true
	}
	return 0, false
}

// Rotate moves up to count regions from the back of a list to its front
// and returns them, coldest first.
func (p *PlacementLists) Rotate(tenant TenantID, node Node, class ListClass, count int) []*Region {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, ok := p.lists[placementKey{tenant: tenant, node: node, class: class}]
	if !ok {
		return nil
	}
	if count > pl.l.Len() {
		count = pl.l.Len()
	}
	regions := make([]*Region, 0, count)
	for i := 0; i < count; i++ {
		elem := pl.l.Back()
		pl.l.MoveToFront(elem)
		regions = append(regions, elem.Value.(*Region))
	}
	return regions
}

// Units returns the number of units on a list.
func (p *PlacementLists) Units(tenant TenantID, node Node, class ListClass) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pl, ok := p.lists[placementKey{tenant: tenant, node: node, class: class}]; ok {
		return pl.units
	}
	return 0
}

// Len returns the number of regions on a list.
func (p *PlacementLists) Len(tenant TenantID, node Node, class ListClass) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pl, ok := p.lists[placementKey{tenant: tenant, node: node, class: class}]; ok {
		return pl.l.Len()
	}
	return 0
}
