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

package governor

import (
	"context"
	"reflect"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/kubewharf/katalyst-governor/pkg/governor/display"
	"github.com/kubewharf/katalyst-governor/pkg/governor/freqtable"
	"github.com/kubewharf/katalyst-governor/pkg/governor/host"
	"github.com/kubewharf/katalyst-governor/pkg/governor/sampler"
	"github.com/kubewharf/katalyst-governor/pkg/governor/tunables"
	"github.com/kubewharf/katalyst-governor/pkg/metrics"
	"github.com/kubewharf/katalyst-governor/pkg/util/general"
)

const interval = 100000

var testTable = []uint64{200000, 400000, 600000, 800000, 1000000, 1200000, 1400000}

type testEnv struct {
	p     *host.FakePlatform
	store *tunables.Store
	g     *Governor
	clk   *testingclock.FakeClock
}

func newTestEnv(t *testing.T, numCores int, prepare func(p *host.FakePlatform)) *testEnv {
	p := host.NewFakePlatform(numCores, testTable)
	if prepare != nil {
		prepare(p)
	}
	store, table, err := NewStore(p)
	require.NoError(t, err)

	clk := testingclock.NewFakeClock(time.Now())
	g := NewGovernor(p, store, table, metrics.DummyMetrics{}, clk)
	require.NoError(t, g.hotplug.Sync())
	return &testEnv{p: p, store: store, g: g, clk: clk}
}

// step adds one interval of load to core and runs its cycle.
func (e *testEnv) step(core, load int) time.Duration {
	e.p.AddLoad(core, load, interval)
	return e.g.cycle(e.g.workers[core])
}

func (e *testEnv) freq(t *testing.T, core int) uint64 {
	f, err := e.p.CurrentFrequency(core)
	require.NoError(t, err)
	return f
}

func TestMinSamplingRate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint64(20000), MinSamplingRate(0))
	assert.Equal(t, uint64(20000), MinSamplingRate(5*time.Millisecond))
	assert.Equal(t, uint64(60000), MinSamplingRate(30*time.Millisecond))
}

func TestNewStore(t *testing.T) {
	t.Parallel()

	_, _, err := NewStore(host.NewFakePlatform(2, nil))
	assert.ErrorIs(t, err, freqtable.ErrEmptyTable)

	p := host.NewFakePlatform(2, testTable)
	p.SetTransitionLatency(200 * time.Microsecond)
	store, table, err := NewStore(p)
	require.NoError(t, err)
	assert.Equal(t, len(testTable), table.Len())

	snap := store.Snapshot()
	assert.Equal(t, uint64(20000), snap.MinSamplingRate)
	assert.Equal(t, uint64(200000), snap.SamplingRate)
}

func TestScaling(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		tunables map[string]string
		loads    []int
		want     []uint64
	}{
		{
			name:  "two up decisions from index 1",
			loads: []int{75, 75},
			want:  []uint64{600000, 800000},
		},
		{
			name:  "steady between thresholds",
			loads: []int{60, 60, 60},
			want:  []uint64{400000, 400000, 400000},
		},
		{
			name:     "stock down skip suppresses factor minus one cycles",
			tunables: map[string]string{tunables.KeySamplingDownFactor: "3"},
			loads:    []int{75, 10, 10, 10, 10},
			want:     []uint64{600000, 600000, 600000, 400000, 200000},
		},
		{
			name:     "freq step 0 never moves",
			tunables: map[string]string{tunables.KeyFreqStep: "0"},
			loads:    []int{100, 0, 100},
			want:     []uint64{400000, 400000, 400000},
		},
		{
			name:     "soft limit caps the up path",
			tunables: map[string]string{tunables.KeyFreqLimit: "600000"},
			loads:    []int{90, 90, 90},
			want:     []uint64{600000, 600000, 600000},
		},
		{
			name:     "fast scaling jumps",
			tunables: map[string]string{tunables.KeyFastScaling: "6"},
			loads:    []int{90, 10},
			want:     []uint64{800000, 400000},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newTestEnv(t, 1, func(p *host.FakePlatform) {
				require.NoError(t, p.SetFrequency(0, 400000))
			})
			for k, v := range tt.tunables {
				require.NoError(t, e.store.Set(k, v))
			}

			e.g.cycle(e.g.workers[0])
			var got []uint64
			for _, load := range tt.loads {
				e.step(0, load)
				got = append(got, e.freq(t, 0))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCounterAnomalyKeepsScaling(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, 1, nil)
	e.g.cycle(e.g.workers[0])
	e.step(0, 80)
	assert.Equal(t, uint64(400000), e.freq(t, 0))

	// counters going backwards reuse the previous load
	e.p.SetCounters(0, sampler.Counters{})
	e.g.cycle(e.g.workers[0])
	assert.Equal(t, uint64(600000), e.freq(t, 0))

	e.step(0, 10)
	assert.Equal(t, uint64(400000), e.freq(t, 0))
}

func TestPolicyLimits(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, 1, func(p *host.FakePlatform) {
		p.SetPolicyLimits(0, 400000, 800000)
	})
	e.g.cycle(e.g.workers[0])

	e.step(0, 60)
	assert.Equal(t, uint64(400000), e.freq(t, 0), "current frequency below the policy floor is pinned")
	for i := 0; i < 5; i++ {
		e.step(0, 100)
	}
	assert.Equal(t, uint64(800000), e.freq(t, 0))
}

func TestMomentumInterval(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, 1, nil)
	require.NoError(t, e.store.Set(tunables.KeySamplingDownMaxMomentum, "4"))
	require.NoError(t, e.store.Set(tunables.KeySamplingDownMomentumSensitivity, "3"))

	assert.Equal(t, 100*time.Millisecond, e.g.cycle(e.g.workers[0]))
	var got []time.Duration
	for _, load := range []int{60, 60, 60, 60, 90} {
		got = append(got, e.step(0, load))
	}
	assert.Equal(t, []time.Duration{
		200 * time.Millisecond,
		300 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
		100 * time.Millisecond,
	}, got)
}

func TestHotplug(t *testing.T) {
	t.Parallel()

	Convey("given two cores with core 1 offline", t, func() {
		e := newTestEnv(t, 2, func(p *host.FakePlatform) {
			p.SetCoreOnline(1, false)
		})

		Convey("core 1 waits for the first reference load", func() {
			e.g.cycle(e.g.workers[0])
			e.g.cycle(e.g.workers[1])
			So(e.p.Transitions(), ShouldBeEmpty)
		})

		Convey("a busy core 0 brings core 1 online and core 1 re-primes", func() {
			e.g.cycle(e.g.workers[0])
			e.step(0, 90)
			e.g.cycle(e.g.workers[1])
			So(e.p.Transitions(), ShouldResemble, []host.Transition{{Core: 1, Online: true}})

			e.p.AddLoad(1, 60, interval)
			e.g.cycle(e.g.workers[1])
			So(e.g.workers[1].sampler.Primed(), ShouldBeTrue)
			So(e.g.workers[1].applied, ShouldBeFalse)

			e.step(1, 60)
			So(e.g.workers[1].applied, ShouldBeTrue)
		})

		Convey("an idle core 0 never offlines itself", func() {
			e.p.SetCoreOnline(1, true)
			So(e.g.hotplug.Sync(), ShouldBeNil)

			e.g.cycle(e.g.workers[0])
			for i := 0; i < 10; i++ {
				e.step(0, 5)
				e.step(1, 5)
			}
			So(e.p.OnlineCores(), ShouldResemble, []int{0})
			So(e.p.Transitions(), ShouldResemble, []host.Transition{{Core: 1, Online: false}})
		})
	})
}

func TestSteadyState(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, 4, func(p *host.FakePlatform) {
		for i := 0; i < 4; i++ {
			require.NoError(t, p.SetFrequency(i, 800000))
		}
	})
	for i := 0; i < 4; i++ {
		e.g.cycle(e.g.workers[i])
	}
	for round := 0; round < 50; round++ {
		for i := 0; i < 4; i++ {
			e.step(i, 60)
		}
	}

	assert.Empty(t, e.p.Transitions())
	for i := 0; i < 4; i++ {
		assert.Equal(t, uint64(800000), e.freq(t, i))
	}
}

func TestSuspendResume(t *testing.T) {
	t.Parallel()

	Convey("given four busy cores", t, func() {
		e := newTestEnv(t, 4, nil)
		for i := 0; i < 4; i++ {
			e.g.cycle(e.g.workers[i])
		}

		Convey("the sleep thresholds apply while suspended", func() {
			So(e.g.adapter.Handle(display.StateOff), ShouldBeNil)
			So(e.g.Current().Suspended(), ShouldBeTrue)

			e.step(0, 75)
			So(e.freq(t, 0), ShouldEqual, uint64(200000))

			So(e.g.adapter.Handle(display.StateOn), ShouldBeNil)
			e.step(0, 75)
			So(e.freq(t, 0), ShouldEqual, uint64(400000))
		})

		Convey("the suspend override owns the online set until resume", func() {
			So(e.store.Set(tunables.KeyHotplugSleep, "2"), ShouldBeNil)
			So(e.g.adapter.Handle(display.StateOff), ShouldBeNil)
			So(e.p.OnlineCores(), ShouldResemble, []int{0, 1})
			So(e.g.Current().HotplugOverride(), ShouldBeTrue)

			e.step(0, 95)
			e.g.cycle(e.g.workers[3])
			So(e.p.OnlineCores(), ShouldResemble, []int{0, 1})

			So(e.g.adapter.Handle(display.StateOn), ShouldBeNil)
			So(e.p.OnlineCores(), ShouldResemble, []int{0, 1, 2, 3})
			So(e.p.Transitions(), ShouldResemble, []host.Transition{
				{Core: 2, Online: false},
				{Core: 3, Online: false},
				{Core: 2, Online: true},
				{Core: 3, Online: true},
			})
		})
	})
}

func TestDisplayModeFollowsCoreZero(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, 2, nil)
	require.NoError(t, e.store.Set(tunables.KeyLcdFreqEnable, "1"))
	require.NoError(t, e.store.Set(tunables.KeyLcdFreqKickInDownDelay, "2"))
	require.NoError(t, e.store.Set(tunables.KeyLcdFreqKickInUpDelay, "1"))

	e.g.cycle(e.g.workers[0])
	e.step(0, 60)
	e.step(0, 60)
	assert.Equal(t, []host.DisplayMode{host.DisplayModeLow}, e.p.DisplayModeRequests())

	for i := 0; i < 3; i++ {
		e.step(0, 100)
	}
	assert.Equal(t, []host.DisplayMode{host.DisplayModeLow, host.DisplayModeHigh}, e.p.DisplayModeRequests())
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, 1, nil)
	r := general.NewHealthzRegistry(e.clk)
	e.g.WithHealthz(r, time.Minute)

	_, ready := r.CheckHealthz()
	assert.False(t, ready)

	e.g.cycle(e.g.workers[0])
	_, ready = r.CheckHealthz()
	assert.True(t, ready)

	e.clk.Step(2 * time.Minute)
	_, ready = r.CheckHealthz()
	assert.False(t, ready)
}

func TestRun(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, 4, nil)
	require.NoError(t, e.store.Set(tunables.KeyHotplugSleep, "1"))
	// keep the per-core hotplug quiet so only the override moves cores
	for i := 1; i < 4; i++ {
		require.NoError(t, e.store.Set(tunables.KeyUpThresholdHotplug(i), "100"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	states := make(chan display.State)
	done := make(chan struct{})
	go func() {
		e.g.Run(ctx, states)
		close(done)
	}()

	require.Eventually(t, func() bool {
		e.p.AddLoad(0, 100, interval)
		e.p.AddLoad(1, 60, interval)
		e.p.AddLoad(2, 60, interval)
		e.p.AddLoad(3, 60, interval)
		e.clk.Step(time.Second)
		f, _ := e.p.CurrentFrequency(0)
		return f == testTable[len(testTable)-1]
	}, 5*time.Second, 10*time.Millisecond)

	states <- display.StateOff
	require.Eventually(t, func() bool {
		return reflect.DeepEqual(e.p.OnlineCores(), []int{0})
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, []int{0, 1, 2, 3}, e.p.OnlineCores())
}
