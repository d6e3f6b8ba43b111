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

package main

import (
	"github.com/intel/memtierd/pkg/memtier"
	"github.com/intel/memtierd/pkg/tiersim"
)

// newProcessEngine creates an engine moving pages of processes. A region
// is tracked when a page of an attached process is first sampled.
func newProcessEngine(cfg *memtier.Config, nodes []memtier.NodeInfo) (*memtier.Engine, *tiersim.Space, error) {
	unit, err := cfg.UnitBytes()
	if err != nil {
		return nil, nil, err
	}
	space := tiersim.NewSpace(uint64(unit), cfg.SubunitsPerLargeRegion)
	placement := memtier.NewPlacementLists()
	executor := memtier.NewProcessExecutor(placement, uint64(unit))
	executor.OnSplit = func(parent *memtier.Region, children []*memtier.Region) {
		if err := space.Replace(parent, children); err != nil {
			log.Warn("failed to replace split %s: %v", parent, err)
		}
	}
	e, err := memtier.NewEngine(cfg, nodes, space, placement, executor)
	if err != nil {
		return nil, nil, err
	}
	space.SetMissHandler(func(subject memtier.SubjectID, addr uint64) (*memtier.Region, bool) {
		tenant, ok := e.SubjectTenant(subject)
		if !ok {
			return nil, false
		}
		addr -= addr % uint64(unit)
		node, err := executor.PageNode(subject, addr)
		if err != nil {
			return nil, false
		}
		r := memtier.NewRegion(subject, addr)
		if err := e.TrackRegion(tenant, r, node); err != nil {
			return nil, false
		}
		return r, true
	})
	return e, space, nil
}
