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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intel/memtierd/pkg/memtier"
)

const (
	unit      = 4096
	largeSize = 8 * unit
)

func TestSpaceLocate(t *testing.T) {
	s := NewSpace(unit, 8)
	base, err := s.Map(1, 0x10000, 4*unit, false)
	require.NoError(t, err)
	require.Len(t, base, 4)
	large, err := s.Map(1, 0x100000, 2*largeSize, true)
	require.NoError(t, err)
	require.Len(t, large, 2)

	ref, ok := s.Locate(1, 0x10000+unit+17)
	require.True(t, ok)
	require.Same(t, base[1], ref.Region)
	require.Equal(t, 0, ref.Subunit)

	ref, ok = s.Locate(1, 0x100000+largeSize+3*unit+1)
	require.True(t, ok)
	require.Same(t, large[1], ref.Region)
	require.Equal(t, 3, ref.Subunit)

	_, ok = s.Locate(2, 0x10000)
	require.False(t, ok, "other subject")
	_, ok = s.Locate(1, 0x10000+4*unit)
	require.False(t, ok, "past the mapped range")

	require.Len(t, s.Regions(1), 6)
}

func TestSpaceOverlap(t *testing.T) {
	s := NewSpace(unit, 8)
	_, err := s.Map(1, 0x10000, 4*unit, false)
	require.NoError(t, err)
	_, err = s.Map(1, 0x100000, largeSize, true)
	require.NoError(t, err)

	_, err = s.Map(1, 0x100000+unit, unit, false)
	require.Error(t, err, "base region inside a large region")
	_, err = s.Map(1, 0x10000, largeSize, true)
	require.Error(t, err, "large region over base regions")
	_, err = s.Map(1, 0x10000+1, unit, false)
	require.Error(t, err, "unaligned")

	// a failed map leaves nothing behind
	_, err = s.Map(1, 0x200000+2*largeSize, unit, false)
	require.NoError(t, err)
	_, err = s.Map(1, 0x200000, 3*largeSize, true)
	require.Error(t, err)
	_, ok := s.Locate(1, 0x200000)
	require.False(t, ok)

	// other subjects do not overlap
	_, err = s.Map(2, 0x100000, largeSize, true)
	require.NoError(t, err)
}

func TestSpaceReplace(t *testing.T) {
	s := NewSpace(unit, 8)
	large, err := s.Map(1, 0x100000, largeSize, true)
	require.NoError(t, err)
	children := []*memtier.Region{}
	for i := uint64(0); i < 8; i++ {
		children = append(children, memtier.NewRegion(1, 0x100000+i*unit))
	}
	require.NoError(t, s.Replace(large[0], children))

	ref, ok := s.Locate(1, 0x100000+5*unit+100)
	require.True(t, ok)
	require.Same(t, children[5], ref.Region)
	require.Equal(t, 0, ref.Subunit)
	require.Len(t, s.Regions(1), 8)

	s.Remove(children[5])
	_, ok = s.Locate(1, 0x100000+5*unit)
	require.False(t, ok)
}

func TestSpaceMissHandler(t *testing.T) {
	s := NewSpace(unit, 8)
	s.SetMissHandler(func(subject memtier.SubjectID, addr uint64) (*memtier.Region, bool) {
		if subject != 3 {
			return nil, false
		}
		return memtier.NewRegion(subject, addr-addr%unit), true
	})
	ref, ok := s.Locate(3, 0x5001)
	require.True(t, ok)
	require.Equal(t, uint64(0x5000), ref.Region.Addr())
	again, ok := s.Locate(3, 0x5fff)
	require.True(t, ok)
	require.Same(t, ref.Region, again.Region)

	_, ok = s.Locate(4, 0x5001)
	require.False(t, ok)

	require.Len(t, s.RemoveSubject(3), 1)
	require.Empty(t, s.Regions(3))
}
