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

// Package lcdfreq couples the display refresh-rate mode to the frequency
// and core count history of the reference core.
package lcdfreq

import (
	"sync"

	"github.com/kubewharf/katalyst-governor/pkg/governor/host"
	"github.com/kubewharf/katalyst-governor/pkg/metrics"
	"github.com/kubewharf/katalyst-governor/pkg/util/general"
)

const metricsNameDisplayMode = "display_mode"

type Params struct {
	Enable    bool
	DownDelay int
	UpDelay   int
	// KickInFreq is kHz.
	KickInFreq uint64
	// KickInCores of 0 drops the core count condition.
	KickInCores int
}

// Coordinator is fed once per reference-core cycle.
type Coordinator interface {
	Observe(freq uint64, onlineCores int, p Params)
	// Reset requests the high mode if the low mode is active.
	Reset()
	Mode() host.DisplayMode
}

// New returns the noop coordinator when sink is nil.
func New(sink host.DisplayModeSink, emitter metrics.MetricEmitter) Coordinator {
	if sink == nil {
		return noopCoordinator{}
	}
	return &coordinator{
		sink:    sink,
		mode:    host.DisplayModeHigh,
		emitter: emitter,
	}
}

type coordinator struct {
	mtx   sync.Mutex
	sink  host.DisplayModeSink
	mode  host.DisplayMode
	below int
	above int

	emitter metrics.MetricEmitter
}

// Observe counts consecutive cycles below (frequency under the kick-in
// frequency with at most KickInCores online) and above. The low mode is
// requested after DownDelay cycles below, the high mode after UpDelay
// cycles above; a request is only sent on a mode change.
func (c *coordinator) Observe(freq uint64, onlineCores int, p Params) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if !p.Enable {
		c.below, c.above = 0, 0
		c.requestLocked(host.DisplayModeHigh)
		return
	}

	if freq < p.KickInFreq && (p.KickInCores == 0 || onlineCores <= p.KickInCores) {
		c.below++
		c.above = 0
		if c.below >= p.DownDelay {
			c.requestLocked(host.DisplayModeLow)
		}
		return
	}

	c.above++
	c.below = 0
	if c.above >= p.UpDelay {
		c.requestLocked(host.DisplayModeHigh)
	}
}

func (c *coordinator) Reset() {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.below, c.above = 0, 0
	c.requestLocked(host.DisplayModeHigh)
}

func (c *coordinator) Mode() host.DisplayMode {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.mode
}

// requestLocked keeps the old mode when the sink fails so the request is
// retried next cycle.
func (c *coordinator) requestLocked(mode host.DisplayMode) {
	if c.mode == mode {
		return
	}
	if err := c.sink.RequestDisplayMode(mode); err != nil {
		general.Warningf("request display mode %v: %v", mode, err)
		return
	}
	general.Infof("display mode %v -> %v", c.mode, mode)
	c.mode = mode
	_ = c.emitter.StoreInt64(metricsNameDisplayMode, int64(mode), metrics.MetricTypeNameRaw)
}

type noopCoordinator struct{}

func (noopCoordinator) Observe(uint64, int, Params) {}

func (noopCoordinator) Reset() {}

func (noopCoordinator) Mode() host.DisplayMode {
	return host.DisplayModeHigh
}
