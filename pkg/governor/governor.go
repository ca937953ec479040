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

// Package governor runs one sampling cycle per core: sample the load,
// decide the frequency, pace the next cycle, evaluate hotplug and feed the
// display refresh coordinator.
package governor

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/kubewharf/katalyst-governor/pkg/governor/display"
	"github.com/kubewharf/katalyst-governor/pkg/governor/freqtable"
	"github.com/kubewharf/katalyst-governor/pkg/governor/host"
	"github.com/kubewharf/katalyst-governor/pkg/governor/hotplug"
	"github.com/kubewharf/katalyst-governor/pkg/governor/lcdfreq"
	"github.com/kubewharf/katalyst-governor/pkg/governor/pacing"
	"github.com/kubewharf/katalyst-governor/pkg/governor/sampler"
	"github.com/kubewharf/katalyst-governor/pkg/governor/scaling"
	"github.com/kubewharf/katalyst-governor/pkg/governor/suspend"
	"github.com/kubewharf/katalyst-governor/pkg/governor/tunables"
	"github.com/kubewharf/katalyst-governor/pkg/metrics"
	"github.com/kubewharf/katalyst-governor/pkg/util/general"
)

const (
	metricsNameLoad          = "cpu_load"
	metricsNameFrequency     = "cpu_frequency"
	metricsNameDecision      = "scaling_decision"
	metricsNameInterval      = "sampling_interval_us"
	metricsNameFault         = "fault"
	metricsNameTunableUpdate = "tunable_update"

	faultCounterAnomaly    = "counter_anomaly"
	faultFrequencyNotFound = "frequency_not_found"
	faultHotplugRace       = "hotplug_race"
	faultHotplug           = "hotplug"
	faultReadCounters      = "read_counters"
	faultSetFrequency      = "set_frequency"

	// HealthzCheckName is refreshed by every cycle of the reference core.
	HealthzCheckName general.HealthzCheckName = "governor"

	minSamplingRateRatio  = 2
	minimumSamplingRate   = 10 * time.Millisecond
	latencyMultiplier     = 1000
	faultLogInterval      = time.Second
	faultLogBurst         = 10
	defaultHealthzTimeout = time.Minute
)

// MinSamplingRate is twice the larger of 10ms and the transition latency,
// in µs.
func MinSamplingRate(latency time.Duration) uint64 {
	if latency < minimumSamplingRate {
		latency = minimumSamplingRate
	}
	return uint64(minSamplingRateRatio * latency.Microseconds())
}

// NewStore reads the frequency table and transition latency of p and
// builds the tunable store. A missing or empty table is fatal.
func NewStore(p host.Platform) (*tunables.Store, *freqtable.Table, error) {
	freqs, err := p.FrequencyTable()
	if err != nil {
		return nil, nil, errors.Wrapf(freqtable.ErrEmptyTable, "%v", err)
	}
	table, err := freqtable.New(freqs)
	if err != nil {
		return nil, nil, err
	}

	latency, err := p.TransitionLatency()
	if err != nil {
		general.Warningf("unknown transition latency: %v", err)
	}
	defaultRate := uint64(tunables.DefaultSamplingRate)
	if l := uint64(latency.Microseconds()) * latencyMultiplier; l > defaultRate {
		defaultRate = l
	}

	store, err := tunables.NewStore(p.NumCores(), table, MinSamplingRate(latency), defaultRate)
	if err != nil {
		return nil, nil, err
	}
	return store, table, nil
}

type worker struct {
	core    int
	sampler *sampler.Sampler
	pacing  *pacing.Controller

	index   int
	applied bool

	policyMin uint64
	policyMax uint64

	emitter metrics.MetricEmitter
	logger  general.Logger
}

func (w *worker) reset() {
	w.sampler = sampler.New()
	w.pacing.Reset()
	w.applied = false
}

type Governor struct {
	platform host.Platform
	store    *tunables.Store
	table    *freqtable.Table
	engine   *scaling.Engine
	hotplug  *hotplug.Controller
	adapter  *suspend.Adapter
	lcd      lcdfreq.Coordinator

	workers []*worker
	// refLoad is the last load of core 0, the hotplug reference; hotplug
	// waits for refReady.
	refLoad  atomic.Int64
	refReady atomic.Bool

	clock        clock.Clock
	emitter      metrics.MetricEmitter
	faultLimiter *rate.Limiter
	healthz      *general.HealthzRegistry
}

func NewGovernor(p host.Platform, store *tunables.Store, table *freqtable.Table,
	emitter metrics.MetricEmitter, clk clock.Clock,
) *Governor {
	hp := hotplug.NewController(p, p.NumCores(), emitter.WithTags("hotplug"))
	g := &Governor{
		platform:     p,
		store:        store,
		table:        table,
		engine:       scaling.NewEngine(table),
		hotplug:      hp,
		adapter:      suspend.NewAdapter(store, hp, emitter),
		lcd:          lcdfreq.New(p.DisplayModeSink(), emitter.WithTags("lcdfreq")),
		clock:        clk,
		emitter:      emitter,
		faultLimiter: rate.NewLimiter(rate.Every(faultLogInterval), faultLogBurst),
	}

	for i := 0; i < p.NumCores(); i++ {
		w := &worker{
			core:    i,
			sampler: sampler.New(),
			pacing:  pacing.NewController(),
			emitter: emitter.WithTags("scaling", metrics.MetricTag{Key: "cpu", Val: strconv.Itoa(i)}),
			logger:  general.LoggerWithPrefix(fmt.Sprintf("cpu%d", i), general.LoggingPKGShort),
		}
		if cur, err := p.CurrentFrequency(i); err == nil {
			w.index = table.FloorIndex(cur)
		}
		if min, max, err := p.PolicyLimits(i); err == nil {
			w.policyMin, w.policyMax = min, max
		}
		g.workers = append(g.workers, w)
	}

	store.Subscribe(func(key string, _, _ *tunables.Tunables) {
		_ = emitter.StoreInt64(metricsNameTunableUpdate, 1, metrics.MetricTypeNameCount,
			metrics.MetricTag{Key: "key", Val: key})
	})
	return g
}

// WithHealthz registers the reference-core heartbeat in r.
func (g *Governor) WithHealthz(r *general.HealthzRegistry, timeout time.Duration) *Governor {
	if timeout <= 0 {
		timeout = defaultHealthzTimeout
	}
	r.RegisterHeartbeatCheck(HealthzCheckName, timeout)
	g.healthz = r
	return g
}

// Current returns the profile the next cycles will read.
func (g *Governor) Current() *suspend.Profile {
	return g.adapter.Current()
}

// Run starts the display state consumer and one worker per core and blocks
// until ctx is done. Before returning it waits for every worker, restores
// the cores forced offline by the suspend override and resets the display
// mode.
func (g *Governor) Run(ctx context.Context, states <-chan display.State) {
	if err := g.hotplug.Sync(); err != nil {
		general.Warningf("failed to sync online cores: %v", err)
	}
	general.Infof("governor started on %d cores, %d online, frequency table %s",
		len(g.workers), g.hotplug.OnlineCount(), g.table)

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.adapter.Run(workerCtx, states)
	}()
	for _, w := range g.workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.runWorker(workerCtx, w)
		}()
	}

	<-ctx.Done()
	cancel()
	wg.Wait()
	g.stop()
}

func (g *Governor) stop() {
	if err := g.adapter.Restore(); err != nil {
		general.Errorf("failed to restore suspend forced cores: %v", err)
	}
	g.lcd.Reset()
	general.Infof("governor stopped, %d cores online", g.hotplug.OnlineCount())
}

func (g *Governor) runWorker(ctx context.Context, w *worker) {
	timer := g.clock.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C():
			timer.Reset(g.cycle(w))
		}
	}
}

// cycle runs one decision cycle of a core and returns the delay until the
// next one. Offline cores only evaluate hotplug.
func (g *Governor) cycle(w *worker) time.Duration {
	prof := g.adapter.Current()

	if g.hotplug.ConsumeResetPending(w.core) {
		w.reset()
	}

	if g.hotplug.IsOnline(w.core) {
		g.scale(w, prof)
	}

	if w.core > 0 && !prof.HotplugOverride() && g.refReady.Load() {
		_, err := g.hotplug.Evaluate(w.core, int(g.refLoad.Load()), prof.HotplugParams(w.core))
		switch {
		case errors.Is(err, hotplug.ErrTransitionInProgress):
			g.fault(w, faultHotplugRace, err)
		case err != nil:
			g.fault(w, faultHotplug, err)
		}
	}

	interval := w.pacing.Interval(prof.PacingParams())
	_ = w.emitter.StoreInt64(metricsNameInterval, interval.Microseconds(), metrics.MetricTypeNameRaw)
	return interval
}

func (g *Governor) scale(w *worker, prof *suspend.Profile) {
	counters, err := g.platform.ReadCounters(w.core)
	if w.core == 0 && g.healthz != nil {
		g.healthz.UpdateHealthzStateByError(HealthzCheckName, err)
	}
	if err != nil {
		g.fault(w, faultReadCounters, err)
		return
	}
	if !w.sampler.Primed() {
		w.sampler.Prime(counters)
		return
	}

	prevLoad := w.sampler.LastLoad()
	load, err := w.sampler.Sample(counters, prof.IgnoreNice())
	if err != nil {
		g.fault(w, faultCounterAnomaly, err)
	}

	bounds := g.table.Bounds(w.policyMin, w.policyMax, prof.FreqLimit())
	decision, err := g.engine.Decide(scaling.Input{
		Load:     load,
		PrevLoad: prevLoad,
		Index:    w.index,
		Bounds:   bounds,
	}, prof.ScalingParams())
	if err != nil {
		g.fault(w, faultFrequencyNotFound, err)
	}

	if w.pacing.Observe(decision.Direction, prof.PacingParams()) {
		idx := bounds.Clamp(w.index)
		freq, _ := g.table.At(idx)
		decision = scaling.Decision{Direction: scaling.Steady, Index: idx, Frequency: freq}
	}

	if decision.Index != w.index || !w.applied {
		if err := g.platform.SetFrequency(w.core, decision.Frequency); err != nil {
			g.fault(w, faultSetFrequency, err)
		} else {
			w.index = decision.Index
			w.applied = true
		}
	}

	w.logger.InfofV(6, "load %d prev %d %v -> index %d freq %d", load, prevLoad, decision.Direction, w.index, decision.Frequency)
	_ = w.emitter.StoreInt64(metricsNameLoad, int64(load), metrics.MetricTypeNameRaw)
	if freq, ok := g.table.At(w.index); ok {
		_ = w.emitter.StoreInt64(metricsNameFrequency, int64(freq), metrics.MetricTypeNameRaw)
	}
	_ = w.emitter.StoreInt64(metricsNameDecision, 1, metrics.MetricTypeNameCount,
		metrics.MetricTag{Key: "direction", Val: decision.Direction.String()})

	if w.core == 0 {
		g.refLoad.Store(int64(load))
		g.refReady.Store(true)
		freq, _ := g.table.At(w.index)
		g.lcd.Observe(freq, g.hotplug.OnlineCount(), prof.LcdFreqParams())
	}
}

func (g *Governor) fault(w *worker, kind string, err error) {
	_ = w.emitter.StoreInt64(metricsNameFault, 1, metrics.MetricTypeNameCount,
		metrics.MetricTag{Key: "kind", Val: kind})
	if g.faultLimiter.Allow() {
		w.logger.Warningf("%s: %v", kind, err)
	}
}
