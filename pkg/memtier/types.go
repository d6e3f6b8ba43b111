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
	"context"
	"fmt"
	"strings"
	"time"
)

// SubjectID identifies a tracked address space, typically a process.
type SubjectID int

// TenantID identifies an accounting domain with its own fast tier budget.
type TenantID string

// Node is a memory node.
type Node int

// Tier is the memory class of a node.
type Tier int

const (
	TierFast Tier = iota
	TierSlow
)

func (t Tier) String() string {
	switch t {
	case TierFast:
		return "fast"
	case TierSlow:
		return "slow"
	}
	return fmt.Sprintf("tier%d", int(t))
}

// ParseTier parses "fast" or "slow".
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(s) {
	case "fast", "dram":
		return TierFast, nil
	case "slow", "nvm", "cxl", "pmem":
		return TierSlow, nil
	}
	return TierSlow, fmt.Errorf("invalid tier %q, expected fast or slow", s)
}

// NodeInfo describes a memory node of the topology.
type NodeInfo struct {
	Node Node
	Tier Tier
	// Capacity is the number of units the node can hold.
	Capacity uint64
}

// EventKind is the kind of a sampled memory access.
type EventKind int

const (
	FastTierRead EventKind = iota
	SlowTierRead
	Write
	TlbMissLoad
	TlbMissStore
)

var eventKindNames = map[EventKind]string{
	FastTierRead: "fastread",
	SlowTierRead: "slowread",
	Write:        "write",
	TlbMissLoad:  "tlbload",
	TlbMissStore: "tlbstore",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event%d", int(k))
}

// ParseEventKind parses the name of an event kind.
func ParseEventKind(s string) (EventKind, error) {
	s = strings.ToLower(s)
	for k, name := range eventKindNames {
		if name == s {
			return k, nil
		}
	}
	return FastTierRead, fmt.Errorf("invalid event kind %q", s)
}

// AccessSample is a sampled memory access.
type AccessSample struct {
	Subject   SubjectID
	Addr      uint64
	Kind      EventKind
	Timestamp time.Time
}

// PlacementHint tells what the accountant thinks should happen to a region.
type PlacementHint int

const (
	HintNone PlacementHint = iota
	HintPromote
	HintDemote
)

func (h PlacementHint) String() string {
	switch h {
	case HintPromote:
		return "promote"
	case HintDemote:
		return "demote"
	}
	return "none"
}

// ListClass is a class of a node's placement lists.
type ListClass int

const (
	ListInactive ListClass = iota
	ListActive
)

func (c ListClass) String() string {
	if c == ListActive {
		return "active"
	}
	return "inactive"
}

// RegionRef is a resolved sample: a region and, for large regions, the
// index of the accessed sub-unit.
type RegionRef struct {
	Region  *Region
	Subunit int
}

// RegionLocator resolves sampled addresses into tracked regions.
type RegionLocator interface {
	Locate(subject SubjectID, addr uint64) (RegionRef, bool)
}

// PlacementList keeps regions of every tenant on per-node active and
// inactive lists. The active class is the fast class of the list.
type PlacementList interface {
	MarkFastTier(r *Region)
	MarkSlowTier(r *Region)
	IsFastTierResident(r *Region) bool
	Insert(r *Region, node Node)
	Delete(r *Region)
	Relocate(r *Region, node Node)
	NodeOf(r *Region) (Node, bool)
	// Rotate moves up to count regions from the cold end of a list to
	// its hot end and returns them.
	Rotate(tenant TenantID, node Node, class ListClass, count int) []*Region
	Units(tenant TenantID, node Node, class ListClass) uint64
}

// MigrationExecutor moves and splits regions.
type MigrationExecutor interface {
	// Migrate moves regions to node and returns the number of units
	// moved. The executor relocates the regions it moved on the
	// placement list.
	Migrate(ctx context.Context, regions []*Region, node Node) (int, error)
	// Split breaks a large region into smaller ones. The returned
	// children cover the address range of the parent.
	Split(ctx context.Context, r *Region) ([]*Region, error)
}
