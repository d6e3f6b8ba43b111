//go:build linux
// +build linux

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

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ProcessExecutor migrates regions of processes with move_pages(2).
// Subjects are process IDs and region addresses are virtual addresses.
type ProcessExecutor struct {
	placement PlacementList
	unitSize  uint64
	// OnSplit is called with the children of a split region before they
	// are handed to the engine, for reindexing them.
	OnSplit func(parent *Region, children []*Region)
}

// NewProcessExecutor creates an executor relocating migrated regions on
// placement.
func NewProcessExecutor(placement PlacementList, unitSize uint64) *ProcessExecutor {
	return &ProcessExecutor{
		placement: placement,
		unitSize:  unitSize,
	}
}

// Migrate moves the pages of regions to node. A region is relocated
// only if all of its pages landed on node.
func (x *ProcessExecutor) Migrate(ctx context.Context, regions []*Region, node Node) (int, error) {
	var errs *multierror.Error
	moved := 0
	for _, r := range regions {
		if ctx.Err() != nil {
			break
		}
		r.Lock()
		n, err := x.movePages(r, node)
		r.Unlock()
		if err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "moving %s to node %d", r, node))
		}
		if uint64(n) == r.Units() {
			x.placement.Relocate(r, node)
		}
		moved += n
	}
	return moved, errs.ErrorOrNil()
}

func (x *ProcessExecutor) movePages(r *Region, node Node) (int, error) {
	count := r.Units()
	pages := make([]uintptr, count)
	nodes := make([]int, count)
	for i := uint64(0); i < count; i++ {
		pages[i] = uintptr(r.addr + i*x.unitSize)
		nodes[i] = int(node)
	}
	status, err := movePagesSyscall(int(r.subject), pages, nodes, mpolMfMove)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, s := range status {
		if s == int(node) {
			moved++
		}
	}
	return moved, nil
}

// PageNode returns the node a page of a process is on.
func (x *ProcessExecutor) PageNode(subject SubjectID, addr uint64) (Node, error) {
	status, err := movePagesSyscall(int(subject), []uintptr{uintptr(addr)}, nil, 0)
	if err != nil {
		return 0, err
	}
	if status[0] < 0 {
		return 0, unix.Errno(-status[0])
	}
	return Node(status[0]), nil
}

// Split breaks a large region into base regions. The kernel splits the
// backing huge page when its pages are moved individually.
func (x *ProcessExecutor) Split(ctx context.Context, r *Region) ([]*Region, error) {
	if !r.IsLarge() {
		return nil, fmt.Errorf("%s is not a large region", r)
	}
	children := make([]*Region, 0, r.Units())
	for i := uint64(0); i < r.Units(); i++ {
		children = append(children, NewRegion(r.subject, r.addr+i*x.unitSize))
	}
	if x.OnSplit != nil {
		x.OnSplit(r, children)
	}
	return children, nil
}
