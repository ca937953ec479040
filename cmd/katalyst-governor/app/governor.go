/*
Copyright 2022 The Katalyst Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package app

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	katalystbase "github.com/kubewharf/katalyst-governor/cmd/base"
	"github.com/kubewharf/katalyst-governor/pkg/config"
	"github.com/kubewharf/katalyst-governor/pkg/governor"
	"github.com/kubewharf/katalyst-governor/pkg/governor/display"
	"github.com/kubewharf/katalyst-governor/pkg/governor/host"
	"github.com/kubewharf/katalyst-governor/pkg/governor/server"
	"github.com/kubewharf/katalyst-governor/pkg/metrics"
	"github.com/kubewharf/katalyst-governor/pkg/util/eventbus"
	"github.com/kubewharf/katalyst-governor/pkg/util/general"
	"github.com/kubewharf/katalyst-governor/pkg/util/process"
)

const (
	metricsNameGovernorStarted = "governor_started"
	metricsNameLockingFailed   = "get_lock_failed"

	sysfsAuditSubscriber = "governor-sysfs-audit"
	sysfsAuditBuffer     = 64
	displayStateBuffer   = 4
)

// Run starts the governor and every surface around it, and blocks until a
// termination signal has been handled.
func Run(conf *config.Configuration) error {
	// Set up signals so that we handle the first shutdown signal gracefully.
	ctx := process.SetupSignalHandler()

	emitter := metrics.NewPrometheusMetricsEmitter(conf.MetricsNamespace)

	lock, err := general.GetUniqueLock(conf.LockFileName)
	if err != nil {
		_ = emitter.StoreInt64(metricsNameLockingFailed, 1, metrics.MetricTypeNameRaw)
		return errors.Wrapf(err, "another governor holds %v", conf.LockFileName)
	}
	defer func() {
		general.ReleaseUniqueLock(lock)

		// wait async log sync to disk
		time.Sleep(1 * time.Second)
	}()

	platform, err := newPlatform(conf)
	if err != nil {
		return err
	}
	store, table, err := governor.NewStore(platform)
	if err != nil {
		return err
	}
	if conf.ProfileFile != "" {
		// a partially applied profile keeps its valid entries
		if err := store.ApplyFile(conf.ProfileFile); err != nil {
			general.Errorf("apply profile: %v", err)
		}
	}

	bus := eventbus.GetDefaultEventBus()
	bus.SetEmitter(emitter)
	if err := bus.Subscribe(eventbus.TopicNameApplySysFS, sysfsAuditSubscriber, sysfsAuditBuffer, auditSysfs); err != nil {
		return err
	}

	healthz := general.NewHealthzRegistry(clock.RealClock{})
	g := governor.NewGovernor(platform, store, table, emitter, clock.RealClock{})
	if conf.EnableHealthzCheck {
		g.WithHealthz(healthz, conf.HealthzTimeout)
	}

	sources := []display.Source{display.NewEventBusSource(bus)}
	if conf.DisplayStateFile != "" {
		sources = append(sources, display.NewFileSource(conf.DisplayStateFile))
	}

	chain := process.NewHTTPHandler(conf.GenericEndpointHandleChains, rate.Limit(conf.HTTPRateLimit), conf.HTTPBurst, emitter)
	srv := server.NewServer(conf.GenericEndpoint, store, bus, healthz, emitter.Handler(), chain)

	if conf.WatchProfile {
		if err := store.WatchFile(ctx, conf.ProfileFile); err != nil {
			return err
		}
	}

	return start(ctx, g, srv, bus, sources, katalystbase.NewHealthzChecker(healthz, emitter), emitter)
}

func newPlatform(conf *config.Configuration) (host.Platform, error) {
	platform, err := host.NewSysfsPlatform(host.SysfsPlatformOptions{
		SysRoot:            conf.SysRoot,
		ProcRoot:           conf.ProcRoot,
		FrequencyWriteFile: conf.FrequencyWriteFile,
		DisplayModeFile:    conf.DisplayModeFile,
		NumCores:           conf.NumCores,
	})
	if err != nil {
		return nil, err
	}
	if !conf.DryRun {
		return platform, nil
	}

	general.Infof("dry-run: core and frequency writes are kept in memory")
	return host.NewDryRunPlatform(platform)
}

// start runs every component and makes sure they can be stopped completely.
func start(ctx context.Context, g *governor.Governor, srv *server.Server, bus eventbus.EventBus,
	sources []display.Source, checker *katalystbase.HealthzChecker, emitter metrics.MetricEmitter,
) error {
	states := make(chan display.State, displayStateBuffer)
	wg := sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		bus.Run(ctx)
	}()

	checker.Run(ctx)

	for _, source := range sources {
		source := source
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := source.Run(ctx, states); err != nil {
				general.Errorf("display source stopped: %v", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx); err != nil {
			general.Errorf("generic endpoint stopped: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		g.Run(ctx, states)
	}()

	_ = emitter.StoreInt64(metricsNameGovernorStarted, 1, metrics.MetricTypeNameCount)
	wg.Wait()
	return nil
}

func auditSysfs(event interface{}) error {
	e, ok := event.(eventbus.RawSysfsEvent)
	if !ok {
		return errors.Errorf("unexpected event %T", event)
	}
	general.InfofV(4, "[sysfs] %s/%s %q -> %q in %v", e.SysPath, e.SysFile, e.OldData, e.Data, e.Cost)
	return nil
}
