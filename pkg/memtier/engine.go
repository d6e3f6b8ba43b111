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
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// Engine turns access samples into placement decisions and drives the
// tier workers that carry them out.
type Engine struct {
	// cfgMu serializes configuration updates, readers load cfg
	cfgMu sync.Mutex
	cfg   atomic.Value

	nodes     []NodeInfo
	tiers     map[Node]Tier
	queues    map[Node]*NodeTierQueue
	workers   []*worker
	locator   RegionLocator
	placement PlacementList
	executor  MigrationExecutor
	huge      *HugeRegionIndex
	stats     *Stats
	counters  sampleCounters

	mu            sync.RWMutex
	tenants       map[TenantID]*Tenant
	defaultBudget map[TenantID]struct{}
	subjects      map[SubjectID]*Tenant

	runMu  sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewEngine creates an engine for the given NUMA nodes. A nil placement
// list is replaced by in-memory PlacementLists. Without a locator every
// delivered sample is unresolved, without an executor nothing is migrated.
func NewEngine(cfg *Config, nodes []NodeInfo, locator RegionLocator, placement PlacementList, executor MigrationExecutor) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		cfg = cfg.Copy()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if err := validateNodes(nodes); err != nil {
		return nil, err
	}
	if placement == nil {
		placement = NewPlacementLists()
	}
	unit, _ := cfg.UnitBytes()
	budget, _ := cfg.FastTierBudgetUnits()

	e := &Engine{
		tiers:         make(map[Node]Tier, len(nodes)),
		queues:        make(map[Node]*NodeTierQueue, len(nodes)),
		locator:       locator,
		placement:     placement,
		executor:      executor,
		huge:          NewHugeRegionIndex(uint64(unit), cfg.SubunitsPerLargeRegion),
		stats:         newStats(),
		tenants:       make(map[TenantID]*Tenant),
		defaultBudget: make(map[TenantID]struct{}),
		subjects:      make(map[SubjectID]*Tenant),
	}
	e.cfg.Store(cfg)
	e.nodes = append(e.nodes, nodes...)
	sort.Slice(e.nodes, func(i, j int) bool { return e.nodes[i].Node < e.nodes[j].Node })
	for _, n := range e.nodes {
		q := newNodeTierQueue(n.Node, n.Tier)
		q.setWatermarks(cfg, budget)
		e.tiers[n.Node] = n.Tier
		e.queues[n.Node] = q
		e.workers = append(e.workers, newWorker(e, q))
	}
	log.Info("engine created with %d nodes, default fast tier budget %d units", len(e.nodes), budget)
	return e, nil
}

func validateNodes(nodes []NodeInfo) error {
	var errs *multierror.Error
	seen := map[Node]struct{}{}
	fast, slow := 0, 0
	for _, n := range nodes {
		if _, ok := seen[n.Node]; ok {
			errs = multierror.Append(errs, fmt.Errorf("duplicate node %d", n.Node))
		}
		seen[n.Node] = struct{}{}
		switch n.Tier {
		case TierFast:
			fast++
		case TierSlow:
			slow++
		default:
			errs = multierror.Append(errs, fmt.Errorf("node %d: invalid tier %d", n.Node, n.Tier))
		}
	}
	if fast == 0 {
		errs = multierror.Append(errs, fmt.Errorf("no fast tier nodes"))
	}
	if slow == 0 {
		errs = multierror.Append(errs, fmt.Errorf("no slow tier nodes"))
	}
	return errs.ErrorOrNil()
}

func (e *Engine) config() *Config {
	return e.cfg.Load().(*Config)
}

func (t *Tenant) config() *Config {
	if t.engine == nil {
		return DefaultConfig()
	}
	return t.engine.config()
}

// Config returns a copy of the current configuration.
func (e *Engine) Config() *Config {
	return e.config().Copy()
}

// SetParam changes a runtime parameter.
func (e *Engine) SetParam(name, value string) error {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	cfg := e.config().Copy()
	if err := cfg.SetParam(name, value); err != nil {
		return err
	}
	return e.applyConfigLocked(cfg)
}

// GetParam returns the value of a runtime parameter.
func (e *Engine) GetParam(name string) (string, error) {
	return e.config().GetParam(name)
}

// SetConfigJson merges a JSON configuration into the current one.
func (e *Engine) SetConfigJson(configJson string) error {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	cfg := e.config().Copy()
	if err := unmarshal(configJson, cfg); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return e.applyConfigLocked(cfg)
}

// GetConfigJson returns the current configuration as JSON.
func (e *Engine) GetConfigJson() string {
	data, err := json.Marshal(e.config())
	if err != nil {
		return ""
	}
	return string(data)
}

func (e *Engine) applyConfigLocked(cfg *Config) error {
	old := e.config()
	if cfg.UnitSize != old.UnitSize {
		return fmt.Errorf("unit_size cannot be changed at runtime")
	}
	if cfg.SubunitsPerLargeRegion != old.SubunitsPerLargeRegion {
		return fmt.Errorf("subunits_per_large_region cannot be changed at runtime")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg.Store(cfg)

	budget, _ := cfg.FastTierBudgetUnits()
	oldBudget, _ := old.FastTierBudgetUnits()
	for _, q := range e.queues {
		q.setWatermarks(cfg, budget)
	}
	if budget != oldBudget {
		e.mu.RLock()
		tenants := make([]*Tenant, 0, len(e.defaultBudget))
		for id := range e.defaultBudget {
			tenants = append(tenants, e.tenants[id])
		}
		e.mu.RUnlock()
		for _, t := range tenants {
			t.SetMaxFastTierUnits(budget)
		}
	}
	log.Debug("configuration updated: %s", e.GetConfigJson())
	return nil
}

// Nodes returns the nodes of the engine.
func (e *Engine) Nodes() []NodeInfo {
	return append([]NodeInfo{}, e.nodes...)
}

func (e *Engine) tierOf(node Node) Tier {
	return e.tiers[node]
}

// Queue returns the worker queue of a node.
func (e *Engine) Queue(node Node) *NodeTierQueue {
	return e.queues[node]
}

// Placement returns the placement list of the engine.
func (e *Engine) Placement() PlacementList {
	return e.placement
}

// HugeIndex returns the index of untracked large regions.
func (e *Engine) HugeIndex() *HugeRegionIndex {
	return e.huge
}

// Stats returns the event statistics of the engine.
func (e *Engine) Stats() *Stats {
	return e.stats
}

// Counters returns the sample and migration counters.
func (e *Engine) Counters() SampleCounters {
	return e.counters.snapshot()
}

// AddTenant creates a tenant. A zero budget selects the default budget,
// which follows fast_tier_budget_per_tenant.
func (e *Engine) AddTenant(id TenantID, maxFastTierUnits uint64) (*Tenant, error) {
	if id == "" {
		return nil, fmt.Errorf("empty tenant ID")
	}
	cfg := e.config()
	useDefault := maxFastTierUnits == 0
	if useDefault {
		maxFastTierUnits, _ = cfg.FastTierBudgetUnits()
	}
	e.mu.Lock()
	if _, ok := e.tenants[id]; ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("tenant %s already exists", id)
	}
	t := newTenant(e, id, maxFastTierUnits, cfg.hotThresholdFloor(), e.nodes)
	e.tenants[id] = t
	if useDefault {
		e.defaultBudget[id] = struct{}{}
	}
	e.mu.Unlock()

	for _, n := range e.nodes {
		e.queues[n.Node].Push(t)
	}
	log.Info("tenant %s added, fast tier budget %d units", id, maxFastTierUnits)
	return t, nil
}

// RemoveTenant removes a tenant, its subjects and its regions.
func (e *Engine) RemoveTenant(id TenantID) error {
	e.mu.Lock()
	t, ok := e.tenants[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("tenant %s not found", id)
	}
	delete(e.tenants, id)
	delete(e.defaultBudget, id)
	subjects := t.Subjects()
	for _, s := range subjects {
		delete(e.subjects, s)
	}
	e.mu.Unlock()

	t.removed.Store(true)
	for _, q := range e.queues {
		q.Remove(id)
	}
	for _, s := range subjects {
		e.huge.RemoveSubject(s)
	}
	regions := 0
	for _, n := range e.nodes {
		for _, class := range []ListClass{ListActive, ListInactive} {
			for {
				batch := e.placement.Rotate(id, n.Node, class, 256)
				if len(batch) == 0 {
					break
				}
				for _, r := range batch {
					e.untrack(t, r)
					regions++
				}
			}
		}
	}
	log.Info("tenant %s removed with %d regions", id, regions)
	return nil
}

// Tenant returns a tenant, or nil if it does not exist.
func (e *Engine) Tenant(id TenantID) *Tenant {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tenants[id]
}

// Tenants returns all tenants sorted by ID.
func (e *Engine) Tenants() []*Tenant {
	e.mu.RLock()
	tenants := make([]*Tenant, 0, len(e.tenants))
	for _, t := range e.tenants {
		tenants = append(tenants, t)
	}
	e.mu.RUnlock()
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].id < tenants[j].id })
	return tenants
}

func (e *Engine) subjectTenant(subject SubjectID) *Tenant {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.subjects[subject]
}

// SubjectTenant returns the tenant a subject is attributed to.
func (e *Engine) SubjectTenant(subject SubjectID) (TenantID, bool) {
	if t := e.subjectTenant(subject); t != nil {
		return t.id, true
	}
	return "", false
}

// AttachSubject attributes an address space to a tenant.
func (e *Engine) AttachSubject(id TenantID, subject SubjectID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tenants[id]
	if !ok {
		return fmt.Errorf("tenant %s not found", id)
	}
	if owner, ok := e.subjects[subject]; ok {
		if owner == t {
			return nil
		}
		return fmt.Errorf("subject %d already belongs to tenant %s", subject, owner.id)
	}
	e.subjects[subject] = t
	t.mu.Lock()
	t.subjects[subject] = struct{}{}
	t.mu.Unlock()
	return nil
}

// RemoveSubject detaches an address space from its tenant, frees its huge
// region tracking nodes and untracks its regions. Returns the number of
// regions untracked.
func (e *Engine) RemoveSubject(subject SubjectID) (int, error) {
	e.mu.Lock()
	t, ok := e.subjects[subject]
	if !ok {
		e.mu.Unlock()
		return 0, fmt.Errorf("subject %d not found", subject)
	}
	delete(e.subjects, subject)
	e.mu.Unlock()

	t.mu.Lock()
	delete(t.subjects, subject)
	t.mu.Unlock()

	e.huge.RemoveSubject(subject)
	regions := []*Region{}
	e.forEachRegion(t, func(r *Region, _ Node, _ ListClass) {
		if r.subject == subject {
			regions = append(regions, r)
		}
	})
	for _, r := range regions {
		e.untrack(t, r)
	}
	log.Debug("subject %d of tenant %s removed with %d regions", subject, t.id, len(regions))
	return len(regions), nil
}

// forEachRegion calls fn for every region of a tenant. Every list is
// rotated exactly once around, which leaves its order intact. No region
// is larger than a large region, so a batch never wraps around.
func (e *Engine) forEachRegion(t *Tenant, fn func(r *Region, node Node, class ListClass)) {
	maxUnits := uint64(e.config().SubunitsPerLargeRegion)
	for _, n := range e.nodes {
		for _, class := range []ListClass{ListActive, ListInactive} {
			total := e.placement.Units(t.id, n.Node, class)
			scanned := uint64(0)
			for scanned < total {
				count := (total - scanned) / maxUnits
				if count < 1 {
					count = 1
				}
				if count > 256 {
					count = 256
				}
				batch := e.placement.Rotate(t.id, n.Node, class, int(count))
				if len(batch) == 0 {
					break
				}
				for _, r := range batch {
					scanned += r.Units()
					fn(r, n.Node, class)
				}
			}
		}
	}
}

// TrackRegion starts tracking a region of a tenant on node. The subject
// of the region is attached to the tenant if needed. A large region
// inherits the accesses recorded for its address range in the huge
// region index.
func (e *Engine) TrackRegion(id TenantID, r *Region, node Node) error {
	t := e.Tenant(id)
	if t == nil {
		return fmt.Errorf("tenant %s not found", id)
	}
	if _, ok := e.tiers[node]; !ok {
		return fmt.Errorf("unknown node %d", node)
	}
	if owner := r.Tenant(); owner != nil {
		return fmt.Errorf("%s is already tracked by tenant %s", r, owner.id)
	}
	if err := e.AttachSubject(id, r.subject); err != nil {
		return err
	}
	if !r.setTenant(t) {
		return fmt.Errorf("%s is already tracked by tenant %s", r, r.TenantID())
	}
	epoch := t.Epoch()
	seed, seeded := uint32(0), false
	if r.large != nil {
		if n, ok := e.huge.Take(r.subject, r.addr, epoch); ok {
			seed, seeded = n.TotalAccesses, true
		}
	}
	r.Lock()
	r.stampLocked(epoch)
	if seeded {
		r.seedLocked(seed)
	}
	idx := r.classIndexLocked()
	d := r.reregisterLocked()
	r.Unlock()

	e.placement.Insert(r, node)
	if idx >= t.ActiveThreshold() {
		e.placement.MarkFastTier(r)
	}
	t.applyDelta(d)
	t.mu.Lock()
	t.trackedUnits += r.Units()
	if r.large != nil {
		t.trackedLarge++
	}
	t.mu.Unlock()
	return nil
}

// UntrackRegion stops tracking a region and withdraws it from the
// histograms of its tenant.
func (e *Engine) UntrackRegion(r *Region) error {
	t := r.Tenant()
	if t == nil {
		return fmt.Errorf("%s is not tracked", r)
	}
	e.untrack(t, r)
	return nil
}

func (e *Engine) untrack(t *Tenant, r *Region) {
	e.placement.Delete(r)
	r.Lock()
	if r.dead.Load() {
		r.Unlock()
		return
	}
	r.dead.Store(true)
	d, ok := r.unregisterLocked()
	r.Unlock()
	if ok {
		t.applyDelta(d)
	}
	t.forgetSplit(r)
	t.mu.Lock()
	if t.trackedUnits >= r.Units() {
		t.trackedUnits -= r.Units()
	}
	if r.large != nil && t.trackedLarge > 0 {
		t.trackedLarge--
	}
	t.mu.Unlock()
}

// adoptSplit replaces a split large region by its children. Children are
// seeded just above the active threshold on the node of the parent.
func (e *Engine) adoptSplit(t *Tenant, parent *Region, children []*Region) {
	node, ok := e.placement.NodeOf(parent)
	if !ok {
		node = e.nodes[0].Node
	}
	e.untrack(t, parent)

	seedIdx := int(t.ActiveThreshold()) + 1
	if seedIdx > MaxHotnessIndex {
		seedIdx = MaxHotnessIndex
	}
	seed := uint32(1)<<uint(seedIdx) - 1
	epoch := t.Epoch()
	units, large := uint64(0), uint64(0)
	for _, c := range children {
		if !c.setTenant(t) {
			log.Warn("split child %s already tracked by tenant %s", c, c.TenantID())
			continue
		}
		c.Lock()
		c.stampLocked(epoch)
		c.seedLocked(seed)
		d := c.reregisterLocked()
		c.Unlock()
		e.placement.Insert(c, node)
		e.placement.MarkFastTier(c)
		t.applyDelta(d)
		units += c.Units()
		if c.large != nil {
			large++
		}
	}
	t.mu.Lock()
	t.trackedUnits += units
	t.trackedLarge += large
	t.splitFreedRoom = true
	t.mu.Unlock()

	t.splits.Inc()
	e.counters.splits.Inc()
	e.stats.Store(StatsSplit{tenant: t.id, addr: parent.addr, children: len(children), units: units})
	log.Debug("tenant %s: %s split into %d regions on node %d", t.id, parent, len(children), node)
}

// RequestDirectDemotion asks the demotion workers to bring a tenant back
// to its budget on their next visit, regardless of watermarks.
func (e *Engine) RequestDirectDemotion(id TenantID) error {
	t := e.Tenant(id)
	if t == nil {
		return fmt.Errorf("tenant %s not found", id)
	}
	t.directDemotion.Store(true)
	e.enqueueTenant(t, true)
	return nil
}

// requestPressureDemotion requests direct demotion of every tenant over
// its budget.
func (e *Engine) requestPressureDemotion() {
	for _, t := range e.Tenants() {
		if e.FastTierUsage(t.id) > t.MaxFastTierUnits() && !t.directDemotion.Load() {
			log.Debug("fast tier full, direct demotion of tenant %s", t.id)
			e.RequestDirectDemotion(t.id)
		}
	}
}

// enqueueTenant queues a tenant for every worker, first in line for the
// demotion workers if front is set.
func (e *Engine) enqueueTenant(t *Tenant, front bool) {
	if t.removed.Load() {
		return
	}
	for _, n := range e.nodes {
		q := e.queues[n.Node]
		if front && n.Tier == TierFast {
			q.PushFront(t)
		} else {
			q.Push(t)
		}
	}
}

// FastTierUsage returns the number of units of a tenant on fast nodes.
func (e *Engine) FastTierUsage(id TenantID) uint64 {
	usage := uint64(0)
	for _, n := range e.nodes {
		if n.Tier == TierFast {
			usage += e.placement.Units(id, n.Node, ListActive) + e.placement.Units(id, n.Node, ListInactive)
		}
	}
	return usage
}

func (e *Engine) fastTierActiveUnits(id TenantID) uint64 {
	units := uint64(0)
	for _, n := range e.nodes {
		if n.Tier == TierFast {
			units += e.placement.Units(id, n.Node, ListActive)
		}
	}
	return units
}

// NodeUsage returns the number of units of all tenants on a node.
func (e *Engine) NodeUsage(node Node) uint64 {
	usage := uint64(0)
	for _, t := range e.Tenants() {
		usage += e.placement.Units(t.id, node, ListActive) + e.placement.Units(t.id, node, ListInactive)
	}
	return usage
}

// migrationTarget returns the node of a tier with the most free units.
// Nodes of zero capacity are unlimited.
func (e *Engine) migrationTarget(tier Tier) (Node, uint64, bool) {
	var (
		best     Node
		bestFree uint64
		found    bool
	)
	for _, n := range e.nodes {
		if n.Tier != tier {
			continue
		}
		free := uint64(math.MaxUint64)
		if n.Capacity > 0 {
			free = 0
			if usage := e.NodeUsage(n.Node); usage < n.Capacity {
				free = n.Capacity - usage
			}
		}
		if !found || free > bestFree {
			best, bestFree, found = n.Node, free, true
		}
	}
	return best, bestFree, found
}

// Start starts the tier workers.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return fmt.Errorf("engine already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range e.workers {
		w := w
		g.Go(func() error {
			return w.run(gctx)
		})
	}
	e.cancel, e.group = cancel, g
	log.Info("engine started with %d workers", len(e.workers))
	return nil
}

// Stop stops the tier workers and waits for them to finish.
func (e *Engine) Stop() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	err := e.group.Wait()
	e.cancel, e.group = nil, nil
	log.Info("engine stopped")
	return err
}
