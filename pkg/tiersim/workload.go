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
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/intel/memtierd/pkg/memtier"
)

// Workload describes a synthetic access pattern over an address range of
// a subject.
type Workload struct {
	Subject memtier.SubjectID `json:"subject"`
	Addr    uint64            `json:"addr"`
	// Size of the range in bytes.
	Size uint64 `json:"size"`
	// Skew is the exponent of the zipf distribution of accesses over
	// the units of the range, greater than 1.
	Skew float64 `json:"skew"`
	// WritePct is the share of writes among the accesses.
	WritePct int `json:"write_pct"`
	// Scatter spreads the hottest units over the range instead of
	// packing them at its start.
	Scatter bool  `json:"scatter"`
	Seed    int64 `json:"seed"`
}

// Generator produces samples of a workload.
type Generator struct {
	w     Workload
	unit  uint64
	units uint64
	rng   *rand.Rand
	zipf  *rand.Zipf
	perm  []int
	shift uint64
}

// NewGenerator creates a sample generator for a workload.
func NewGenerator(w Workload, unitSize uint64) (*Generator, error) {
	if unitSize == 0 {
		return nil, fmt.Errorf("invalid unit size 0")
	}
	units := w.Size / unitSize
	if units == 0 {
		return nil, fmt.Errorf("workload of subject %d smaller than a unit", w.Subject)
	}
	if w.Skew <= 1 {
		return nil, fmt.Errorf("invalid skew %v, must be greater than 1", w.Skew)
	}
	if w.WritePct < 0 || w.WritePct > 100 {
		return nil, fmt.Errorf("invalid write share %d%%", w.WritePct)
	}
	seed := w.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	g := &Generator{
		w:     w,
		unit:  unitSize,
		units: units,
		rng:   rng,
		zipf:  rand.NewZipf(rng, w.Skew, 1, units-1),
	}
	if w.Scatter {
		g.perm = rng.Perm(int(units))
	}
	return g, nil
}

// Shift moves the hot set of the workload by n units.
func (g *Generator) Shift(n uint64) {
	g.shift = (g.shift + n) % g.units
}

// Next returns the next sample. Reads are reported as fast tier reads.
func (g *Generator) Next() memtier.AccessSample {
	rank := g.zipf.Uint64()
	if g.perm != nil {
		rank = uint64(g.perm[rank])
	}
	unit := (rank + g.shift) % g.units
	kind := memtier.FastTierRead
	if g.w.WritePct > 0 && g.rng.Intn(100) < g.w.WritePct {
		kind = memtier.Write
	}
	return memtier.AccessSample{
		Subject:   g.w.Subject,
		Addr:      g.w.Addr + unit*g.unit + uint64(g.rng.Int63n(int64(g.unit))),
		Kind:      kind,
		Timestamp: time.Now(),
	}
}

// ParseSample parses a "subject addr kind" line. The address may be
// given in hex with a 0x prefix, the kind defaults to a read.
func ParseSample(line string) (memtier.AccessSample, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || len(fields) > 3 {
		return memtier.AccessSample{}, fmt.Errorf("invalid sample %q, expected: subject addr [kind]", line)
	}
	subject, err := strconv.Atoi(fields[0])
	if err != nil {
		return memtier.AccessSample{}, errors.Wrapf(err, "invalid subject in %q", line)
	}
	addr, err := strconv.ParseUint(fields[1], 0, 64)
	if err != nil {
		return memtier.AccessSample{}, errors.Wrapf(err, "invalid address in %q", line)
	}
	kind := memtier.FastTierRead
	if len(fields) == 3 {
		if kind, err = memtier.ParseEventKind(fields[2]); err != nil {
			return memtier.AccessSample{}, err
		}
	}
	return memtier.AccessSample{
		Subject:   memtier.SubjectID(subject),
		Addr:      addr,
		Kind:      kind,
		Timestamp: time.Now(),
	}, nil
}

// ReadSamples parses samples from r, one per line, and calls fn for each.
// Empty lines and lines starting with # are skipped.
func ReadSamples(r io.Reader, fn func(memtier.AccessSample) error) (int, error) {
	scanner := bufio.NewScanner(r)
	count := 0
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s, err := ParseSample(line)
		if err != nil {
			return count, errors.Wrapf(err, "line %d", lineno)
		}
		if err := fn(s); err != nil {
			return count, err
		}
		count++
	}
	return count, scanner.Err()
}
