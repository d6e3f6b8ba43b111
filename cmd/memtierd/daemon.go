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
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/intel/memtierd/pkg/memtier"
	"github.com/intel/memtierd/pkg/metrics"
	"github.com/intel/memtierd/pkg/tiersim"
)

// daemon ties an engine to its sample sources.
type daemon struct {
	cfg     *daemonConfig
	engine  *memtier.Engine
	space   *tiersim.Space
	sim     *tiersim.Sim
	watcher *memtier.CgroupWatcher
	gens    []*tiersim.Generator
}

func newDaemon(cfg *daemonConfig) (*daemon, error) {
	nodes, err := cfg.nodeInfos()
	if err != nil {
		return nil, err
	}
	d := &daemon{cfg: cfg}
	switch cfg.Executor {
	case executorProcess:
		if d.engine, d.space, err = newProcessEngine(cfg.Engine, nodes); err != nil {
			return nil, err
		}
	default:
		if d.sim, err = tiersim.New(cfg.Engine, nodes); err != nil {
			return nil, err
		}
		d.engine, d.space = d.sim.Engine, d.sim.Space
	}
	if err := d.addTenants(); err != nil {
		return nil, err
	}
	unit, _ := cfg.Engine.UnitBytes()
	for _, w := range cfg.Workloads {
		g, err := tiersim.NewGenerator(w, uint64(unit))
		if err != nil {
			return nil, err
		}
		d.gens = append(d.gens, g)
	}
	return d, nil
}

func (d *daemon) addTenants() error {
	for _, tc := range d.cfg.Tenants {
		budget, err := d.cfg.budgetUnits(tc)
		if err != nil {
			return err
		}
		id := memtier.TenantID(tc.ID)
		if _, err := d.engine.AddTenant(id, budget); err != nil {
			return err
		}
		for _, s := range tc.Subjects {
			if err := d.engine.AttachSubject(id, memtier.SubjectID(s)); err != nil {
				return err
			}
		}
		for _, rc := range tc.Regions {
			size, err := memtier.ParseBytes(rc.Size)
			if err != nil {
				return errors.Wrapf(err, "tenant %s", tc.ID)
			}
			regions, err := d.sim.Map(id, memtier.SubjectID(rc.Subject), rc.Addr, uint64(size), rc.Large, memtier.Node(rc.Node))
			if err != nil {
				return errors.Wrapf(err, "tenant %s", tc.ID)
			}
			log.Debug("tenant %s: mapped %d regions of subject %d at %#x", tc.ID, len(regions), rc.Subject, rc.Addr)
		}
		for _, path := range tc.Cgroups {
			if d.watcher == nil {
				d.watcher = memtier.NewCgroupWatcher(d, time.Duration(d.cfg.CgroupPollMs)*time.Millisecond)
			}
			d.watcher.Watch(id, path)
		}
	}
	return nil
}

// AddSubjects implements memtier.SubjectListener.
func (d *daemon) AddSubjects(tenant memtier.TenantID, subjects []memtier.SubjectID) {
	d.engine.AddSubjects(tenant, subjects)
}

// RemoveSubjects implements memtier.SubjectListener.
func (d *daemon) RemoveSubjects(tenant memtier.TenantID, subjects []memtier.SubjectID) {
	d.engine.RemoveSubjects(tenant, subjects)
	for _, s := range subjects {
		d.space.RemoveSubject(s)
	}
}

// deliver hands a sample to the engine.
func (d *daemon) deliver(s memtier.AccessSample) memtier.PlacementHint {
	if d.sim != nil {
		return d.sim.Access(s)
	}
	return d.engine.Deliver(s)
}

// generate delivers samples of the configured workloads until ctx is
// done.
func (d *daemon) generate(ctx context.Context) error {
	var limiter *rate.Limiter
	if d.cfg.SampleRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(d.cfg.SampleRate), 1)
	}
	for i := 0; ; i++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
		} else if ctx.Err() != nil {
			return nil
		}
		d.deliver(d.gens[i%len(d.gens)].Next())
	}
}

// readSamples delivers samples read from r until it is exhausted.
func (d *daemon) readSamples(ctx context.Context, r io.Reader) error {
	n, err := tiersim.ReadSamples(r, func(s memtier.AccessSample) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.deliver(s)
		return nil
	})
	if err != nil && err != context.Canceled {
		return errors.Wrap(err, "failed to read samples")
	}
	log.Info("%d samples read", n)
	return nil
}

// serveMetrics serves the engine metrics over HTTP until ctx is done.
func (d *daemon) serveMetrics(ctx context.Context, addr string) error {
	if err := d.engine.RegisterCollector(); err != nil {
		return err
	}
	g, err := metrics.NewMetricGatherer()
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()
	log.Info("serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "metrics server failed")
	}
	return nil
}

// run starts the engine and the configured sample sources and runs them
// until ctx is done.
func (d *daemon) run(ctx context.Context, samples io.Reader, metricsAddr string) error {
	if err := d.engine.Start(ctx); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if d.watcher != nil {
		g.Go(func() error { return d.watcher.Run(gctx) })
	}
	if len(d.gens) > 0 {
		g.Go(func() error { return d.generate(gctx) })
	}
	if samples != nil {
		g.Go(func() error { return d.readSamples(gctx, samples) })
	}
	if metricsAddr != "" {
		g.Go(func() error { return d.serveMetrics(gctx, metricsAddr) })
	}
	err := g.Wait()
	if stopErr := d.engine.Stop(); err == nil {
		err = stopErr
	}
	return err
}
