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
	"fmt"
	"sort"
	"sync"

	"github.com/intel/memtierd/pkg/memtier"
)

// MissHandler may create a region for an address that has none.
type MissHandler func(subject memtier.SubjectID, addr uint64) (*memtier.Region, bool)

// Space maps addresses of subjects to regions. Base regions are indexed
// by their unit aligned address, large regions by their large region
// aligned address.
type Space struct {
	unitSize  uint64
	largeSize uint64
	subunits  int
	onMiss    MissHandler
	mu        sync.RWMutex
	base      map[memtier.SubjectID]map[uint64]*memtier.Region
	large     map[memtier.SubjectID]map[uint64]*memtier.Region
}

// NewSpace creates an empty space.
func NewSpace(unitSize uint64, subunits int) *Space {
	return &Space{
		unitSize:  unitSize,
		largeSize: unitSize * uint64(subunits),
		subunits:  subunits,
		base:      make(map[memtier.SubjectID]map[uint64]*memtier.Region),
		large:     make(map[memtier.SubjectID]map[uint64]*memtier.Region),
	}
}

// SetMissHandler sets a handler for addresses without a region. A region
// returned by the handler is added to the space.
func (s *Space) SetMissHandler(h MissHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMiss = h
}

func (s *Space) UnitSize() uint64 {
	return s.unitSize
}

func (s *Space) Subunits() int {
	return s.subunits
}

// Locate implements memtier.RegionLocator. Misses are handled one at a
// time with the space locked, the handler must not call the space.
func (s *Space) Locate(subject memtier.SubjectID, addr uint64) (memtier.RegionRef, bool) {
	s.mu.RLock()
	ref, ok := s.locateLocked(subject, addr)
	onMiss := s.onMiss
	s.mu.RUnlock()
	if ok || onMiss == nil {
		return ref, ok
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref, ok := s.locateLocked(subject, addr); ok {
		return ref, true
	}
	r, ok := onMiss(subject, addr)
	if !ok {
		return memtier.RegionRef{}, false
	}
	if err := s.addLocked(r); err != nil {
		return memtier.RegionRef{}, false
	}
	return s.ref(r, addr), true
}

func (s *Space) locateLocked(subject memtier.SubjectID, addr uint64) (memtier.RegionRef, bool) {
	if r, ok := s.large[subject][addr-addr%s.largeSize]; ok {
		return s.ref(r, addr), true
	}
	if r, ok := s.base[subject][addr-addr%s.unitSize]; ok {
		return memtier.RegionRef{Region: r}, true
	}
	return memtier.RegionRef{}, false
}

func (s *Space) ref(r *memtier.Region, addr uint64) memtier.RegionRef {
	if !r.IsLarge() {
		return memtier.RegionRef{Region: r}
	}
	return memtier.RegionRef{Region: r, Subunit: int((addr - r.Addr()) / s.unitSize)}
}

// Add adds a region to the space. Its address must be aligned to its
// size and it must not overlap other regions.
func (s *Space) Add(r *memtier.Region) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(r)
}

func (s *Space) addLocked(r *memtier.Region) error {
	subject, addr := r.Subject(), r.Addr()
	if r.IsLarge() {
		if addr%s.largeSize != 0 {
			return fmt.Errorf("%s: address not aligned to %d", r, s.largeSize)
		}
		if int(r.Units()) != s.subunits {
			return fmt.Errorf("%s: %d sub-units, %d expected", r, r.Units(), s.subunits)
		}
		if _, ok := s.large[subject][addr]; ok {
			return fmt.Errorf("%s: overlaps a large region", r)
		}
		for a := addr; a < addr+s.largeSize; a += s.unitSize {
			if _, ok := s.base[subject][a]; ok {
				return fmt.Errorf("%s: overlaps a region at %#x", r, a)
			}
		}
		regions, ok := s.large[subject]
		if !ok {
			regions = make(map[uint64]*memtier.Region)
			s.large[subject] = regions
		}
		regions[addr] = r
		return nil
	}
	if addr%s.unitSize != 0 {
		return fmt.Errorf("%s: address not aligned to %d", r, s.unitSize)
	}
	if _, ok := s.large[subject][addr-addr%s.largeSize]; ok {
		return fmt.Errorf("%s: overlaps a large region", r)
	}
	if _, ok := s.base[subject][addr]; ok {
		return fmt.Errorf("%s: overlaps a region", r)
	}
	regions, ok := s.base[subject]
	if !ok {
		regions = make(map[uint64]*memtier.Region)
		s.base[subject] = regions
	}
	regions[addr] = r
	return nil
}

// Remove removes a region from the space.
func (s *Space) Remove(r *memtier.Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(r)
}

func (s *Space) removeLocked(r *memtier.Region) {
	index := s.base
	if r.IsLarge() {
		index = s.large
	}
	if regions, ok := index[r.Subject()]; ok && regions[r.Addr()] == r {
		delete(regions, r.Addr())
		if len(regions) == 0 {
			delete(index, r.Subject())
		}
	}
}

// Replace swaps a split region for its children.
func (s *Space) Replace(parent *memtier.Region, children []*memtier.Region) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(parent)
	for _, c := range children {
		if err := s.addLocked(c); err != nil {
			return err
		}
	}
	return nil
}

// RemoveSubject removes all regions of a subject.
func (s *Space) RemoveSubject(subject memtier.SubjectID) []*memtier.Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	regions := []*memtier.Region{}
	for _, index := range []map[memtier.SubjectID]map[uint64]*memtier.Region{s.base, s.large} {
		for _, r := range index[subject] {
			regions = append(regions, r)
		}
		delete(index, subject)
	}
	return regions
}

// Regions returns the regions of a subject in address order.
func (s *Space) Regions(subject memtier.SubjectID) []*memtier.Region {
	s.mu.RLock()
	regions := []*memtier.Region{}
	for _, r := range s.base[subject] {
		regions = append(regions, r)
	}
	for _, r := range s.large[subject] {
		regions = append(regions, r)
	}
	s.mu.RUnlock()
	sort.Slice(regions, func(i, j int) bool {
		return regions[i].Addr() < regions[j].Addr()
	})
	return regions
}

// Map creates regions covering size bytes from addr and adds them to the
// space. With large set, the range is covered with large regions.
func (s *Space) Map(subject memtier.SubjectID, addr, size uint64, large bool) ([]*memtier.Region, error) {
	step := s.unitSize
	if large {
		step = s.largeSize
	}
	if addr%step != 0 || size%step != 0 {
		return nil, fmt.Errorf("range %#x+%d not aligned to %d", addr, size, step)
	}
	regions := []*memtier.Region{}
	s.mu.Lock()
	defer s.mu.Unlock()
	for a := addr; a < addr+size; a += step {
		var r *memtier.Region
		if large {
			r = memtier.NewLargeRegion(subject, a, s.subunits)
		} else {
			r = memtier.NewRegion(subject, a)
		}
		if err := s.addLocked(r); err != nil {
			for _, added := range regions {
				s.removeLocked(added)
			}
			return nil, err
		}
		regions = append(regions, r)
	}
	return regions, nil
}
