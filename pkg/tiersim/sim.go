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

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/intel/memtierd/pkg/memtier"
)

// Sim runs an engine against a simulated address space.
type Sim struct {
	Engine    *memtier.Engine
	Space     *Space
	Executor  *Executor
	Placement *memtier.PlacementLists
	tiers     map[memtier.Node]memtier.Tier
}

// New creates a simulation of an engine managing nodes.
func New(cfg *memtier.Config, nodes []memtier.NodeInfo) (*Sim, error) {
	if cfg == nil {
		cfg = memtier.DefaultConfig()
	}
	unit, err := cfg.UnitBytes()
	if err != nil {
		return nil, err
	}
	space := NewSpace(uint64(unit), cfg.SubunitsPerLargeRegion)
	placement := memtier.NewPlacementLists()
	executor := NewExecutor(space, placement, nodes)
	e, err := memtier.NewEngine(cfg, nodes, space, placement, executor)
	if err != nil {
		return nil, err
	}
	executor.Usage = e.NodeUsage
	s := &Sim{
		Engine:    e,
		Space:     space,
		Executor:  executor,
		Placement: placement,
		tiers:     make(map[memtier.Node]memtier.Tier, len(nodes)),
	}
	for _, n := range nodes {
		s.tiers[n.Node] = n.Tier
	}
	return s, nil
}

// Map maps size bytes at addr for a subject of a tenant on node and
// tracks the new regions.
func (s *Sim) Map(tenant memtier.TenantID, subject memtier.SubjectID, addr, size uint64, large bool, node memtier.Node) ([]*memtier.Region, error) {
	regions, err := s.Space.Map(subject, addr, size, large)
	if err != nil {
		return nil, err
	}
	for i, r := range regions {
		if err := s.Engine.TrackRegion(tenant, r, node); err != nil {
			var errs *multierror.Error
			errs = multierror.Append(errs, errors.Wrapf(err, "tracking %s", r))
			for _, tracked := range regions[:i] {
				if err := s.Engine.UntrackRegion(tracked); err != nil {
					errs = multierror.Append(errs, err)
				}
			}
			for _, r := range regions {
				s.Space.Remove(r)
			}
			return nil, errs.ErrorOrNil()
		}
	}
	return regions, nil
}

// Unmap removes a subject from the space and the engine.
func (s *Sim) Unmap(subject memtier.SubjectID) (int, error) {
	s.Space.RemoveSubject(subject)
	return s.Engine.RemoveSubject(subject)
}

// Access delivers a sample to the engine. Reads are reported from the
// tier of the node the accessed region is on.
func (s *Sim) Access(sample memtier.AccessSample) memtier.PlacementHint {
	if sample.Kind == memtier.FastTierRead || sample.Kind == memtier.SlowTierRead {
		if ref, ok := s.Space.Locate(sample.Subject, sample.Addr); ok {
			if node, ok := s.Placement.NodeOf(ref.Region); ok {
				sample.Kind = memtier.SlowTierRead
				if s.tiers[node] == memtier.TierFast {
					sample.Kind = memtier.FastTierRead
				}
			}
		}
	}
	return s.Engine.Deliver(sample)
}

// Run delivers count samples drawn from the generators in turn.
func (s *Sim) Run(ctx context.Context, count int, gens ...*Generator) error {
	if len(gens) == 0 {
		return errors.New("no workload generators")
	}
	for i := 0; i < count; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		s.Access(gens[i%len(gens)].Next())
	}
	return nil
}

// HitRatio returns the share of reads served from the fast tier.
func (s *Sim) HitRatio() float64 {
	c := s.Engine.Counters()
	reads := c.FastReads + c.SlowReads
	if reads == 0 {
		return 0
	}
	return float64(c.FastReads) / float64(reads)
}
