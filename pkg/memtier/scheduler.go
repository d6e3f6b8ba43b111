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
)

// NodeTierQueue is the work queue of the tier worker of a node.
type NodeTierQueue struct {
	node Node
	tier Tier

	mu      sync.Mutex
	queue   []*Tenant
	members map[TenantID]struct{}
	// watermarks of the default tenant budget
	demotionWatermark  uint64
	promotionWatermark uint64

	wake chan struct{}
}

func newNodeTierQueue(node Node, tier Tier) *NodeTierQueue {
	return &NodeTierQueue{
		node:    node,
		tier:    tier,
		members: make(map[TenantID]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

func (q *NodeTierQueue) Node() Node {
	return q.node
}

func (q *NodeTierQueue) Tier() Tier {
	return q.tier
}

// Push appends a tenant to the queue unless it is already queued.
func (q *NodeTierQueue) Push(t *Tenant) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.members[t.id]; ok {
		return
	}
	q.members[t.id] = struct{}{}
	q.queue = append(q.queue, t)
}

// PushFront puts a tenant first in the queue and wakes the worker.
func (q *NodeTierQueue) PushFront(t *Tenant) {
	q.mu.Lock()
	if _, ok := q.members[t.id]; ok {
		q.removeLocked(t.id)
	}
	q.members[t.id] = struct{}{}
	q.queue = append([]*Tenant{t}, q.queue...)
	q.mu.Unlock()
	q.Wake()
}

// Pop removes and returns the first tenant, or nil if the queue is empty.
func (q *NodeTierQueue) Pop() *Tenant {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == 0 {
		return nil
	}
	t := q.queue[0]
	q.queue = q.queue[1:]
	delete(q.members, t.id)
	return t
}

// Remove drops a tenant from the queue.
func (q *NodeTierQueue) Remove(id TenantID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(id)
}

func (q *NodeTierQueue) removeLocked(id TenantID) {
	if _, ok := q.members[id]; !ok {
		return
	}
	delete(q.members, id)
	for i, t := range q.queue {
		if t.id == id {
			q.queue = append(q.queue[:i], q.queue[i+1:]...)
			return
		}
	}
}

// Len returns the number of queued tenants.
func (q *NodeTierQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Tenants returns the queued tenants in order.
func (q *NodeTierQueue) Tenants() []TenantID {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]TenantID, 0, len(q.queue))
	for _, t := range q.queue {
		ids = append(ids, t.id)
	}
	return ids
}

// Wake wakes up the worker of the queue if it is idle.
func (q *NodeTierQueue) Wake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Watermarks returns the demotion and promotion watermarks derived from
// the default tenant budget.
func (q *NodeTierQueue) Watermarks() (demotion, promotion uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.demotionWatermark, q.promotionWatermark
}

func (q *NodeTierQueue) setWatermarks(cfg *Config, budget uint64) {
	demotion, promotion := Watermarks(cfg, budget)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.demotionWatermark, q.promotionWatermark = demotion, promotion
}

// Watermarks returns the demotion and promotion watermarks of a budget.
// The fast tier occupancy is left alone within
// [budget - demotion, budget + promotion].
func Watermarks(cfg *Config, budget uint64) (demotion, promotion uint64) {
	return watermark(cfg, budget, cfg.DemotionWatermarkPct), watermark(cfg, budget, cfg.PromotionWatermarkPct)
}

func watermark(cfg *Config, budget uint64, pct int) uint64 {
	wm := budget * uint64(pct) / 100
	if wm < cfg.WatermarkMinUnits {
		wm = cfg.WatermarkMinUnits
	}
	if wm > cfg.WatermarkMaxUnits {
		wm = cfg.WatermarkMaxUnits
	}
	return wm
}

// DemotionExcess returns how many units should be demoted from a fast
// tier occupied by usage units, or false if usage is within the band.
func DemotionExcess(cfg *Config, usage, budget uint64) (uint64, bool) {
	_, promotion := Watermarks(cfg, budget)
	if usage <= budget+promotion {
		return 0, false
	}
	return usage - budget, true
}

// PromotionShortfall returns how many units could be promoted into a
// fast tier occupied by usage units, or false if usage is within the band.
func PromotionShortfall(cfg *Config, usage, budget uint64) (uint64, bool) {
	demotion, _ := Watermarks(cfg, budget)
	if budget < demotion || usage >= budget-demotion {
		return 0, false
	}
	return budget - usage, true
}
