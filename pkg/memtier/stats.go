package memtier

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

type Stats struct {
	mu        sync.Mutex
	namePulse mapStringPStatsPulse
	tenants   mapTenantPStatsTenant
}

type StatsPulse struct {
	sumBeats   uint64
	firstBeat  int64
	latestBeat int64
}

type StatsHeartbeat struct {
	name string
}

type StatsMigrated struct {
	tenant    TenantID
	direction Direction
	from      Node
	to        Node
	requested uint64
	moved     uint64
	failed    bool
}

type StatsSplit struct {
	tenant   TenantID
	addr     uint64
	children int
	units    uint64
}

type StatsCooled struct {
	tenant TenantID
	epoch  uint32
}

type StatsTenantMigrated struct {
	sumCalls       uint64
	sumRequested   uint64
	sumMoved       uint64
	sumFailed      uint64
	sumDestNode    mapNodeUint64
	lastMove       StatsMigrated
	lastFailedMove StatsMigrated
}

type StatsTenant struct {
	migrated      [2]*StatsTenantMigrated
	sumSplits     uint64
	sumChildren   uint64
	sumSplitUnits uint64
	sumCoolings   uint64
	latestEpoch   uint32
	latestCooling int64
}

func newStats() *Stats {
	return &Stats{
		namePulse: make(mapStringPStatsPulse),
		tenants:   make(mapTenantPStatsTenant),
	}
}

func newStatsPulse() *StatsPulse {
	return &StatsPulse{}
}

func newStatsTenant() *StatsTenant {
	st := &StatsTenant{}
	for i := range st.migrated {
		st.migrated[i] = &StatsTenantMigrated{
			sumDestNode: make(mapNodeUint64),
		}
	}
	return st
}

func (s *Stats) tenant(id TenantID) *StatsTenant {
	st, ok := s.tenants[id]
	if !ok {
		st = newStatsTenant()
		s.tenants[id] = st
	}
	return st
}

func (s *Stats) Store(entry interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch v := entry.(type) {
	case StatsHeartbeat:
		pulse, ok := s.namePulse[v.name]
		if !ok {
			pulse = newStatsPulse()
			pulse.firstBeat = time.Now().UnixNano()
			s.namePulse[v.name] = pulse
		}
		pulse.sumBeats += 1
		pulse.latestBeat = time.Now().UnixNano()
	case StatsMigrated:
		// keep separate statistics for every tenant and direction
		stm := s.tenant(v.tenant).migrated[v.direction]
		stm.sumCalls += 1
		stm.sumRequested += v.requested
		stm.sumMoved += v.moved
		stm.sumDestNode[v.to] += v.moved
		if v.failed {
			stm.sumFailed += 1
			stm.lastFailedMove = v
		}
		stm.lastMove = v
	case StatsSplit:
		st := s.tenant(v.tenant)
		st.sumSplits += 1
		st.sumChildren += uint64(v.children)
		st.sumSplitUnits += v.units
	case StatsCooled:
		st := s.tenant(v.tenant)
		st.sumCoolings += 1
		st.latestEpoch = v.epoch
		st.latestCooling = time.Now().UnixNano()
	}
}

// LastMove returns the latest migration of a tenant in a direction.
func (s *Stats) LastMove(tenant TenantID, direction Direction) *StatsMigrated {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tenants[tenant]
	if !ok || st.migrated[direction].sumCalls == 0 {
		return nil
	}
	lastMove := st.migrated[direction].lastMove
	return &lastMove
}

// Moved returns the total number of units a tenant has had migrated in
// a direction.
func (s *Stats) Moved(tenant TenantID, direction Direction) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.tenants[tenant]; ok {
		return st.migrated[direction].sumMoved
	}
	return 0
}

// Coolings returns the number of cooling rounds of a tenant.
func (s *Stats) Coolings(tenant TenantID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.tenants[tenant]; ok {
		return st.sumCoolings
	}
	return 0
}

// Beats returns the number of heartbeats of a named worker.
func (s *Stats) Beats(name string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pulse, ok := s.namePulse[name]; ok {
		return pulse.sumBeats
	}
	return 0
}

func (s *Stats) Summarize() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := []string{}
	lines = append(lines, "table: events")
	lines = append(lines, "   count timeint[s] latest[s ago] name")
	now := time.Now().UnixNano()
	for _, name := range s.namePulse.sortedKeys() {
		pulse := s.namePulse[name]
		secondsSinceFirst := float32(now-pulse.firstBeat) / float32(time.Second)
		secondsSinceLatest := float32(now-pulse.latestBeat) / float32(time.Second)
		beatsMinusOne := pulse.sumBeats - 1
		if beatsMinusOne == 0 {
			beatsMinusOne = 1
		}
		lines = append(lines,
			fmt.Sprintf("%8d %10.3f %13.3f %s",
				pulse.sumBeats,
				(secondsSinceFirst-secondsSinceLatest)/float32(beatsMinusOne),
				secondsSinceLatest,
				name))
	}
	lines = append(lines, "table: migrations")
	lines = append(lines, "  tenant direction    calls req[units] moved[units]   failed targetnode:moved[units]")
	for _, id := range s.tenants.sortedKeys() {
		st := s.tenants[id]
		for _, dir := range []Direction{Demotion, Promotion} {
			stm := st.migrated[dir]
			if stm.sumCalls == 0 {
				continue
			}
			nodeMovedList := []string{}
			for _, node := range stm.sumDestNode.sortedKeys() {
				nodeMovedList = append(nodeMovedList, fmt.Sprintf("%d:%d", node, stm.sumDestNode[node]))
			}
			lines = append(lines, fmt.Sprintf("%8s %9s %8d %10d %12d %8d %s",
				id,
				dir,
				stm.sumCalls,
				stm.sumRequested,
				stm.sumMoved,
				stm.sumFailed,
				strings.Join(nodeMovedList, ";")))
		}
	}
	lines = append(lines, "table: splits and coolings")
	lines = append(lines, "  tenant   splits children split[units] coolings    epoch latest[s ago]")
	for _, id := range s.tenants.sortedKeys() {
		st := s.tenants[id]
		latest := float32(0)
		if st.latestCooling > 0 {
			latest = float32(now-st.latestCooling) / float32(time.Second)
		}
		lines = append(lines, fmt.Sprintf("%8s %8d %8d %12d %8d %8d %13.3f",
			id,
			st.sumSplits,
			st.sumChildren,
			st.sumSplitUnits,
			st.sumCoolings,
			st.latestEpoch,
			latest))
	}
	return strings.Join(lines, "\n")
}

func (sm *StatsMigrated) Moved() uint64 {
	return sm.moved
}

func (sm *StatsMigrated) Requested() uint64 {
	return sm.requested
}

func (sm *StatsMigrated) String() string {
	return fmt.Sprintf("%s(tenant=%s, units=%d, from=%d, to=%d) => (moved=%d failed=%v)",
		// inputs
		sm.direction, sm.tenant, sm.requested, sm.from, sm.to,
		// results
		sm.moved, sm.failed)
}
