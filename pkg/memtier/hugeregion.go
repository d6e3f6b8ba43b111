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
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const hugeIndexShards = 16

// HugeRegionTrackingNode accumulates accesses to a large-region-sized
// address range that is not tracked with per-sub-unit counters.
type HugeRegionTrackingNode struct {
	TotalAccesses      uint32
	HotSubunitEstimate uint32
	CoolingEpoch       uint32

	// sub-units touched since the last cooling
	touched []uint64
}

type hugeKey struct {
	subject SubjectID
	addr    uint64
}

type hugeShard struct {
	sync.Mutex
	nodes map[hugeKey]*HugeRegionTrackingNode
}

// HugeRegionIndex maps (subject, aligned address) to tracking nodes.
type HugeRegionIndex struct {
	regionSize  uint64
	subunitSize uint64
	subunits    int
	shards      [hugeIndexShards]hugeShard
}

// NewHugeRegionIndex creates an index for regions of subunits units of
// unitSize bytes.
func NewHugeRegionIndex(unitSize uint64, subunits int) *HugeRegionIndex {
	if unitSize == 0 {
		unitSize = 1
	}
	if subunits < 1 {
		subunits = 1
	}
	x := &HugeRegionIndex{
		regionSize:  unitSize * uint64(subunits),
		subunitSize: unitSize,
		subunits:    subunits,
	}
	for i := range x.shards {
		x.shards[i].nodes = make(map[hugeKey]*HugeRegionTrackingNode)
	}
	return x
}

// RegionSize returns the size of a large region in bytes.
func (x *HugeRegionIndex) RegionSize() uint64 {
	return x.regionSize
}

// Align returns the start of the large region addr belongs to.
func (x *HugeRegionIndex) Align(addr uint64) uint64 {
	return addr - addr%x.regionSize
}

func (x *HugeRegionIndex) shard(key hugeKey) *hugeShard {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(key.subject))
	binary.LittleEndian.PutUint64(b[8:16], key.addr)
	return &x.shards[xxhash.Sum64(b[:])%hugeIndexShards]
}

func (n *HugeRegionTrackingNode) decay(epoch uint32) {
	if epoch <= n.CoolingEpoch {
		return
	}
	diff := epoch - n.CoolingEpoch
	n.TotalAccesses >>= diff
	n.HotSubunitEstimate >>= diff
	for i := range n.touched {
		n.touched[i] = 0
	}
	n.CoolingEpoch = epoch
}

func (n *HugeRegionTrackingNode) copy() HugeRegionTrackingNode {
	return HugeRegionTrackingNode{
		TotalAccesses:      n.TotalAccesses,
		HotSubunitEstimate: n.HotSubunitEstimate,
		CoolingEpoch:       n.CoolingEpoch,
	}
}

// Record counts an access to addr of subject, creating the tracking node
// of the enclosing large region if needed. Counters are decayed to epoch
// first.
func (x *HugeRegionIndex) Record(subject SubjectID, addr uint64, epoch uint32) HugeRegionTrackingNode {
	key := hugeKey{subject: subject, addr: x.Align(addr)}
	s := x.shard(key)
	s.Lock()
	defer s.Unlock()
	n, ok := s.nodes[key]
	if !ok {
		n = &HugeRegionTrackingNode{
			CoolingEpoch: epoch,
			touched:      make([]uint64, (x.subunits+63)/64),
		}
		s.nodes[key] = n
	}
	n.decay(epoch)
	if n.TotalAccesses < maxTotalAccesses {
		n.TotalAccesses++
	}
	offset := (addr - key.addr) / x.subunitSize
	word, bit := offset/64, uint64(1)<<(offset%64)
	if n.touched[word]&bit == 0 {
		n.touched[word] |= bit
		n.HotSubunitEstimate++
	}
	return n.copy()
}

// Lookup returns the tracking node of the large region enclosing addr.
func (x *HugeRegionIndex) Lookup(subject SubjectID, addr uint64) (HugeRegionTrackingNode, bool) {
	key := hugeKey{subject: subject, addr: x.Align(addr)}
	s := x.shard(key)
	s.Lock()
	defer s.Unlock()
	if n, ok := s.nodes[key]; ok {
		return n.copy(), true
	}
	return HugeRegionTrackingNode{}, false
}

// Take removes and returns the tracking node of the large region
// enclosing addr, decayed to epoch.
func (x *HugeRegionIndex) Take(subject SubjectID, addr uint64, epoch uint32) (HugeRegionTrackingNode, bool) {
	key := hugeKey{subject: subject, addr: x.Align(addr)}
	s := x.shard(key)
	s.Lock()
	defer s.Unlock()
	n, ok := s.nodes[key]
	if !ok {
		return HugeRegionTrackingNode{}, false
	}
	delete(s.nodes, key)
	n.decay(epoch)
	return n.copy(), true
}

// RemoveSubject frees all tracking nodes of subject. Returns the number
// of nodes freed.
func (x *HugeRegionIndex) RemoveSubject(subject SubjectID) int {
	removed := 0
	for i := range x.shards {
		s := &x.shards[i]
		s.Lock()
		for key := range s.nodes {
			if key.subject == subject {
				delete(s.nodes, key)
				removed++
			}
		}
		s.Unlock()
	}
	return removed
}

// Len returns the number of tracking nodes.
func (x *HugeRegionIndex) Len() int {
	count := 0
	for i := range x.shards {
		s := &x.shards[i]
		s.Lock()
		count += len(s.nodes)
		s.Unlock()
	}
	return count
}
