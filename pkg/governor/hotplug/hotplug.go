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

// Package hotplug brings secondary cores online and offline. Core 0 is the
// reference core: it is never touched and its load drives every decision.
package hotplug

import (
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/kubewharf/katalyst-governor/pkg/governor/host"
	"github.com/kubewharf/katalyst-governor/pkg/governor/tunables"
	"github.com/kubewharf/katalyst-governor/pkg/metrics"
	"github.com/kubewharf/katalyst-governor/pkg/util/general"
)

const (
	metricsNameHotplugTransition = "hotplug_transition"
	metricsNameHotplugDropped    = "hotplug_dropped"
	metricsNameOnlineCores       = "online_cores"
)

// ErrTransitionInProgress is returned when a cycle finds the core locked by
// another transition; the decision is dropped and re-evaluated next cycle.
var ErrTransitionInProgress = errors.New("hotplug transition in progress")

type Action int

const (
	None Action = iota
	Online
	Offline
)

func (a Action) String() string {
	switch a {
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return "none"
	}
}

// Params are the hotplug tunables of one core.
type Params struct {
	Up         int
	Down       int
	UpCycles   int
	DownCycles int
	Disabled   bool
}

// ParamsFor extracts the hotplug params of core from a snapshot.
func ParamsFor(t *tunables.Tunables, core int) Params {
	up, down := t.HotplugThresholds(core)
	return Params{
		Up:         up,
		Down:       down,
		UpCycles:   t.HotplugUpCycles,
		DownCycles: t.HotplugDownCycles,
		Disabled:   t.HotplugDisabled(),
	}
}

type coreState struct {
	// mtx is held for the duration of a transition only.
	mtx          sync.Mutex
	online       atomic.Bool
	resetPending atomic.Bool

	// kick-in counters, guarded by mtx
	upCount   int
	downCount int
}

type Controller struct {
	sw    host.CoreSwitch
	cores []*coreState

	forcedMtx sync.Mutex
	// forced holds cores taken offline by the suspend override.
	forced sets.Int
	// overriding is set from ForceSuspendSet until RestoreSuspendForced;
	// Evaluate commits nothing meanwhile. Written under forcedMtx.
	overriding atomic.Bool

	emitter metrics.MetricEmitter
}

func NewController(sw host.CoreSwitch, numCores int, emitter metrics.MetricEmitter) *Controller {
	c := &Controller{
		sw:      sw,
		cores:   make([]*coreState, numCores),
		forced:  sets.NewInt(),
		emitter: emitter,
	}
	for i := range c.cores {
		c.cores[i] = &coreState{}
		c.cores[i].online.Store(true)
	}
	return c
}

// Sync reloads the online state of every secondary core from the host.
func (c *Controller) Sync() error {
	var errList []error
	for i := 1; i < len(c.cores); i++ {
		cs := c.cores[i]
		cs.mtx.Lock()
		online, err := c.sw.IsOnline(i)
		if err != nil {
			errList = append(errList, err)
		} else {
			cs.online.Store(online)
		}
		cs.upCount, cs.downCount = 0, 0
		cs.mtx.Unlock()
	}
	return utilerrors.NewAggregate(errList)
}

func (c *Controller) NumCores() int {
	return len(c.cores)
}

func (c *Controller) IsOnline(core int) bool {
	if core == 0 {
		return true
	}
	if core < 0 || core >= len(c.cores) {
		return false
	}
	return c.cores[core].online.Load()
}

func (c *Controller) OnlineCount() int {
	n := 0
	for i := range c.cores {
		if c.IsOnline(i) {
			n++
		}
	}
	return n
}

// ConsumeResetPending reports, once, that core was brought online since
// the last call; its sampling state must be re-primed.
func (c *Controller) ConsumeResetPending(core int) bool {
	if core < 0 || core >= len(c.cores) {
		return false
	}
	return c.cores[core].resetPending.Swap(false)
}

// Evaluate applies the thresholds of core against the reference load and
// commits at most one transition. A core with up threshold 0 is taken
// offline and never onlined.
func (c *Controller) Evaluate(core, refLoad int, p Params) (Action, error) {
	if core <= 0 || core >= len(c.cores) || p.Disabled {
		return None, nil
	}

	cs := c.cores[core]
	if !cs.mtx.TryLock() {
		_ = c.emitter.StoreInt64(metricsNameHotplugDropped, 1, metrics.MetricTypeNameCount,
			metrics.MetricTag{Key: "cpu", Val: strconv.Itoa(core)})
		return None, errors.Wrapf(ErrTransitionInProgress, "cpu%d", core)
	}
	defer cs.mtx.Unlock()

	// a cycle may still run with the awake profile after the override
	// started; the forced set must hold until it is restored
	if c.overriding.Load() {
		cs.upCount, cs.downCount = 0, 0
		return None, nil
	}

	online := cs.online.Load()
	if p.Up == 0 {
		cs.upCount, cs.downCount = 0, 0
		if online {
			return c.transition(core, cs, false)
		}
		return None, nil
	}

	if online {
		cs.upCount = 0
		if refLoad < p.Down {
			cs.downCount++
		} else {
			cs.downCount = 0
		}
		if cs.downCount >= kickIn(p.DownCycles) {
			return c.transition(core, cs, false)
		}
		return None, nil
	}

	cs.downCount = 0
	if refLoad > p.Up {
		cs.upCount++
	} else {
		cs.upCount = 0
	}
	if cs.upCount >= kickIn(p.UpCycles) {
		return c.transition(core, cs, true)
	}
	return None, nil
}

func kickIn(cycles int) int {
	if cycles < 1 {
		return 1
	}
	return cycles
}

// transition must be called with cs.mtx held.
func (c *Controller) transition(core int, cs *coreState, online bool) (Action, error) {
	cs.upCount, cs.downCount = 0, 0

	action := Offline
	if online {
		action = Online
	}
	if err := c.sw.SetOnline(core, online); err != nil {
		return None, errors.Wrapf(err, "set cpu%d %v", core, action)
	}

	cs.online.Store(online)
	if online {
		cs.resetPending.Store(true)
		c.forgetForced(core)
	}

	general.Infof("cpu%d %v, online cores %d", core, action, c.OnlineCount())
	_ = c.emitter.StoreInt64(metricsNameHotplugTransition, 1, metrics.MetricTypeNameCount,
		metrics.MetricTag{Key: "cpu", Val: strconv.Itoa(core)},
		metrics.MetricTag{Key: "action", Val: action.String()})
	_ = c.emitter.StoreInt64(metricsNameOnlineCores, int64(c.OnlineCount()), metrics.MetricTypeNameRaw)
	return action, nil
}

func (c *Controller) forgetForced(core int) {
	c.forcedMtx.Lock()
	defer c.forcedMtx.Unlock()
	c.forced.Delete(core)
}

// ForceSuspendSet keeps exactly count cores online: core 0 and the lowest
// enabled secondary cores. Cores it takes offline are remembered for
// RestoreSuspendForced. It blocks on in-flight transitions.
func (c *Controller) ForceSuspendSet(count int, t *tunables.Tunables) error {
	if count <= 0 || t.HotplugDisabled() {
		return nil
	}

	keep := sets.NewInt(0)
	for i := 1; i < len(c.cores) && keep.Len() < count; i++ {
		if t.CoreEnabled(i) {
			keep.Insert(i)
		}
	}

	c.forcedMtx.Lock()
	c.overriding.Store(true)
	c.forcedMtx.Unlock()

	var errList []error
	for i := 1; i < len(c.cores); i++ {
		cs := c.cores[i]
		cs.mtx.Lock()
		online := cs.online.Load()
		switch {
		case keep.Has(i) && !online:
			if _, err := c.transition(i, cs, true); err != nil {
				errList = append(errList, err)
			}
		case !keep.Has(i) && online:
			if _, err := c.transition(i, cs, false); err != nil {
				errList = append(errList, err)
			} else {
				c.forcedMtx.Lock()
				c.forced.Insert(i)
				c.forcedMtx.Unlock()
			}
		}
		cs.mtx.Unlock()
	}

	general.Infof("suspend override keeps cores %v online, forced offline %v", keep.List(), c.Forced())
	return utilerrors.NewAggregate(errList)
}

// RestoreSuspendForced brings back every core taken offline by
// ForceSuspendSet, except cores whose up threshold is now 0. The forced
// set is cleared even on failure.
func (c *Controller) RestoreSuspendForced(t *tunables.Tunables) error {
	c.forcedMtx.Lock()
	forced := c.forced.List()
	c.forced = sets.NewInt()
	c.overriding.Store(false)
	c.forcedMtx.Unlock()

	var errList []error
	for _, i := range forced {
		if !t.CoreEnabled(i) {
			continue
		}
		cs := c.cores[i]
		cs.mtx.Lock()
		if !cs.online.Load() {
			if _, err := c.transition(i, cs, true); err != nil {
				errList = append(errList, err)
			}
		}
		cs.mtx.Unlock()
	}

	if len(forced) > 0 {
		general.Infof("restored suspend forced cores %v", forced)
	}
	return utilerrors.NewAggregate(errList)
}

// Overriding reports whether the suspend override currently holds the
// online set.
func (c *Controller) Overriding() bool {
	return c.overriding.Load()
}

// Forced lists the cores currently held offline by the suspend override.
func (c *Controller) Forced() []int {
	c.forcedMtx.Lock()
	defer c.forcedMtx.Unlock()
	return c.forced.List()
}
