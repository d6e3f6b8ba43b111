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

package tiersim

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"

	"github.com/intel/memtierd/pkg/memtier"
)

// Executor is a simulated migration executor. Moving a region only
// relocates it on the placement list.
type Executor struct {
	space     *Space
	placement memtier.PlacementList
	capacity  map[memtier.Node]uint64

	// Usage returns the number of units on a node. Without it node
	// capacities are not enforced.
	Usage func(memtier.Node) uint64
	// Fail makes moving a region fail if it returns true.
	Fail func(r *memtier.Region) bool
	// CopyDelay is the simulated time of moving one unit.
	CopyDelay time.Duration

	moved  atomic.Uint64
	failed atomic.Uint64
	splits atomic.Uint64
}

// ExecutorStats counts what an executor has done.
type ExecutorStats struct {
	Moved  uint64
	Failed uint64
	Splits uint64
}

// NewExecutor creates an executor for the regions of space placed on
// placement. Nodes of zero capacity are unlimited.
func NewExecutor(space *Space, placement memtier.PlacementList, nodes []memtier.NodeInfo) *Executor {
	x := &Executor{
		space:     space,
		placement: placement,
		capacity:  make(map[memtier.Node]uint64, len(nodes)),
	}
	for _, n := range nodes {
		x.capacity[n.Node] = n.Capacity
	}
	return x
}

func (x *Executor) room(node memtier.Node, units uint64) bool {
	capacity := x.capacity[node]
	if capacity == 0 || x.Usage == nil {
		return true
	}
	return x.Usage(node)+units <= capacity
}

// Migrate implements memtier.MigrationExecutor.
func (x *Executor) Migrate(ctx context.Context, regions []*memtier.Region, node memtier.Node) (int, error) {
	if _, ok := x.capacity[node]; !ok {
		return 0, fmt.Errorf("unknown node %d", node)
	}
	var errs *multierror.Error
	moved := 0
	for _, r := range regions {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, err)
			break
		}
		if from, ok := x.placement.NodeOf(r); !ok || from == node {
			continue
		}
		if !x.room(node, r.Units()) {
			errs = multierror.Append(errs, fmt.Errorf("node %d full, cannot move %s", node, r))
			x.failed.Add(r.Units())
			break
		}
		r.Lock()
		if x.Fail != nil && x.Fail(r) {
			r.Unlock()
			errs = multierror.Append(errs, fmt.Errorf("moving %s to node %d failed", r, node))
			x.failed.Add(r.Units())
			continue
		}
		if x.CopyDelay > 0 {
			time.Sleep(x.CopyDelay * time.Duration(r.Units()))
		}
		x.placement.Relocate(r, node)
		r.Unlock()
		moved += int(r.Units())
	}
	x.moved.Add(uint64(moved))
	return moved, errs.ErrorOrNil()
}

// Split implements memtier.MigrationExecutor. The children replace the
// parent in the space.
func (x *Executor) Split(ctx context.Context, r *memtier.Region) ([]*memtier.Region, error) {
	if !r.IsLarge() {
		return nil, fmt.Errorf("%s is not a large region", r)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unit := x.space.UnitSize()
	children := make([]*memtier.Region, 0, r.Units())
	for i := uint64(0); i < r.Units(); i++ {
		children = append(children, memtier.NewRegion(r.Subject(), r.Addr()+i*unit))
	}
	if err := x.space.Replace(r, children); err != nil {
		return nil, err
	}
	x.splits.Inc()
	return children, nil
}

// Stats returns the counters of the executor.
func (x *Executor) Stats() ExecutorStats {
	return ExecutorStats{
		Moved:  x.moved.Load(),
		Failed: x.failed.Load(),
		Splits: x.splits.Load(),
	}
}
