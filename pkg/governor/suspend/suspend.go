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

// Package suspend owns the awake/suspended mode of the governor and swaps
// the effective profile when the display turns off or on.
package suspend

import (
	"context"

	"go.uber.org/atomic"

	"github.com/kubewharf/katalyst-governor/pkg/governor/display"
	"github.com/kubewharf/katalyst-governor/pkg/governor/tunables"
	"github.com/kubewharf/katalyst-governor/pkg/metrics"
	"github.com/kubewharf/katalyst-governor/pkg/util/general"
)

const (
	metricsNameSuspended       = "suspended"
	metricsNameSuspendOverride = "suspend_hotplug_override"
)

// HotplugOverride is the part of the hotplug controller driven on
// suspend and resume.
type HotplugOverride interface {
	ForceSuspendSet(count int, t *tunables.Tunables) error
	RestoreSuspendForced(t *tunables.Tunables) error
}

type mode struct {
	suspended bool
	override  bool
}

// Adapter publishes the mode as one immutable value; a cycle sees either
// the awake or the suspended mode, never a mix.
type Adapter struct {
	store   *tunables.Store
	hotplug HotplugOverride
	mode    atomic.Pointer[mode]

	emitter metrics.MetricEmitter
}

func NewAdapter(store *tunables.Store, hp HotplugOverride, emitter metrics.MetricEmitter) *Adapter {
	a := &Adapter{
		store:   store,
		hotplug: hp,
		emitter: emitter.WithTags("suspend"),
	}
	a.mode.Store(&mode{})
	return a
}

// Current pairs the mode with the latest tunables snapshot. Callers read
// it once per cycle.
func (a *Adapter) Current() *Profile {
	m := a.mode.Load()
	return &Profile{suspended: m.suspended, override: m.override, t: a.store.Snapshot()}
}

// Run consumes display states until ctx is done or states is closed. It
// is the only caller of Handle.
func (a *Adapter) Run(ctx context.Context, states <-chan display.State) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			if err := a.Handle(s); err != nil {
				general.Errorf("handle display %v: %v", s, err)
			}
		}
	}
}

// Handle performs one transition. Suspending publishes the sleep profile
// before forcing the hotplug_sleep set, so cycles stop evaluating hotplug
// first; resuming restores the forced cores before the awake profile is
// published.
func (a *Adapter) Handle(s display.State) error {
	cur := a.mode.Load()

	switch s {
	case display.StateOff:
		if cur.suspended {
			return nil
		}
		t := a.store.Snapshot()
		override := t.HotplugSleep > 0 && !t.HotplugDisabled()
		a.publish(&mode{suspended: true, override: override})
		general.Infof("suspended, hotplug_sleep %d, override %v", t.HotplugSleep, override)

		if override {
			return a.hotplug.ForceSuspendSet(t.HotplugSleep, t)
		}
		return nil

	case display.StateOn:
		if !cur.suspended {
			return nil
		}
		var err error
		if cur.override {
			err = a.hotplug.RestoreSuspendForced(a.store.Snapshot())
		}
		a.publish(&mode{})
		general.Infof("resumed")
		return err
	}
	return nil
}

// Restore brings back suspend-forced cores without changing the mode; used
// on shutdown.
func (a *Adapter) Restore() error {
	return a.hotplug.RestoreSuspendForced(a.store.Snapshot())
}

func (a *Adapter) publish(m *mode) {
	a.mode.Store(m)

	var suspended, override int64
	if m.suspended {
		suspended = 1
	}
	if m.override {
		override = 1
	}
	_ = a.emitter.StoreInt64(metricsNameSuspended, suspended, metrics.MetricTypeNameRaw)
	_ = a.emitter.StoreInt64(metricsNameSuspendOverride, override, metrics.MetricTypeNameRaw)
}
