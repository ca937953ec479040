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

package host

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/kubewharf/katalyst-governor/pkg/governor/sampler"
	"github.com/kubewharf/katalyst-governor/pkg/util/general"
)

// Transition records one SetOnline call that changed a core.
type Transition struct {
	Core   int
	Online bool
}

// FakePlatform keeps the whole host in memory. It records transitions and
// display mode requests for inspection.
type FakePlatform struct {
	mtx sync.Mutex

	table     []uint64
	latency   time.Duration
	online    []bool
	freqs     []uint64
	counters  []sampler.Counters
	limits    [][2]uint64
	hasSink   bool
	setErr    map[int]error
	counterOf CounterReader

	transitions  []Transition
	modeRequests []DisplayMode
}

func NewFakePlatform(numCores int, table []uint64) *FakePlatform {
	f := &FakePlatform{
		table:    append([]uint64(nil), table...),
		online:   make([]bool, numCores),
		freqs:    make([]uint64, numCores),
		counters: make([]sampler.Counters, numCores),
		limits:   make([][2]uint64, numCores),
		hasSink:  true,
		setErr:   make(map[int]error),
	}
	for i := range f.online {
		f.online[i] = true
		if len(table) > 0 {
			f.freqs[i] = table[0]
		}
	}
	return f
}

// NewDryRunPlatform reads the counters, frequency table and policy of base
// but keeps every write in memory.
func NewDryRunPlatform(base Platform) (*FakePlatform, error) {
	table, err := base.FrequencyTable()
	if err != nil {
		return nil, err
	}
	f := NewFakePlatform(base.NumCores(), table)
	f.counterOf = base
	if f.latency, err = base.TransitionLatency(); err != nil {
		return nil, err
	}
	for i := 0; i < base.NumCores(); i++ {
		if online, err := base.IsOnline(i); err == nil {
			f.online[i] = online
		}
		if freq, err := base.CurrentFrequency(i); err == nil {
			f.freqs[i] = freq
		}
		if min, max, err := base.PolicyLimits(i); err == nil {
			f.limits[i] = [2]uint64{min, max}
		}
	}
	return f, nil
}

func (f *FakePlatform) check(core int) error {
	if core < 0 || core >= len(f.online) {
		return errors.Wrapf(ErrCoreNotFound, "cpu%d", core)
	}
	return nil
}

func (f *FakePlatform) NumCores() int {
	return len(f.online)
}

func (f *FakePlatform) SetOnline(core int, online bool) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err := f.check(core); err != nil {
		return err
	}
	if core == 0 && !online {
		return errors.New("cpu0 cannot be offlined")
	}
	if err := f.setErr[core]; err != nil {
		return err
	}
	if f.online[core] != online {
		f.online[core] = online
		f.transitions = append(f.transitions, Transition{Core: core, Online: online})
		general.InfofV(4, "[fake] cpu%d online=%v", core, online)
	}
	return nil
}

func (f *FakePlatform) IsOnline(core int) (bool, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err := f.check(core); err != nil {
		return false, err
	}
	return f.online[core], nil
}

func (f *FakePlatform) ReadCounters(core int) (sampler.Counters, error) {
	if f.counterOf != nil {
		return f.counterOf.ReadCounters(core)
	}

	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err := f.check(core); err != nil {
		return sampler.Counters{}, err
	}
	return f.counters[core], nil
}

func (f *FakePlatform) SetFrequency(core int, freq uint64) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err := f.check(core); err != nil {
		return err
	}
	f.freqs[core] = freq
	return nil
}

func (f *FakePlatform) CurrentFrequency(core int) (uint64, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err := f.check(core); err != nil {
		return 0, err
	}
	return f.freqs[core], nil
}

func (f *FakePlatform) FrequencyTable() ([]uint64, error) {
	if len(f.table) == 0 {
		return nil, errors.New("no frequency table")
	}
	return append([]uint64(nil), f.table...), nil
}

func (f *FakePlatform) PolicyLimits(core int) (uint64, uint64, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err := f.check(core); err != nil {
		return 0, 0, err
	}
	return f.limits[core][0], f.limits[core][1], nil
}

func (f *FakePlatform) TransitionLatency() (time.Duration, error) {
	return f.latency, nil
}

func (f *FakePlatform) DisplayModeSink() DisplayModeSink {
	if !f.hasSink {
		return nil
	}
	return f
}

func (f *FakePlatform) RequestDisplayMode(mode DisplayMode) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.modeRequests = append(f.modeRequests, mode)
	general.InfofV(4, "[fake] display mode %v", mode)
	return nil
}

// AddLoad advances the counters of core by an interval of total µs that
// was load percent busy.
func (f *FakePlatform) AddLoad(core, load int, total uint64) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	busy := total * uint64(load) / 100
	f.counters[core].Busy += busy
	f.counters[core].Idle += total - busy
}

func (f *FakePlatform) SetCounters(core int, c sampler.Counters) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.counters[core] = c
}

func (f *FakePlatform) SetPolicyLimits(core int, min, max uint64) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.limits[core] = [2]uint64{min, max}
}

func (f *FakePlatform) SetTransitionLatency(d time.Duration) {
	f.latency = d
}

// SetOnlineError makes SetOnline of core fail with err until cleared with nil.
func (f *FakePlatform) SetOnlineError(core int, err error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.setErr[core] = err
}

func (f *FakePlatform) DisableDisplayModeSink() {
	f.hasSink = false
}

func (f *FakePlatform) Transitions() []Transition {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return append([]Transition(nil), f.transitions...)
}

func (f *FakePlatform) DisplayModeRequests() []DisplayMode {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return append([]DisplayMode(nil), f.modeRequests...)
}

func (f *FakePlatform) OnlineCores() []int {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	var res []int
	for i, on := range f.online {
		if on {
			res = append(res, i)
		}
	}
	return res
}

func (f *FakePlatform) SetCoreOnline(core int, online bool) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.online[core] = online
}
