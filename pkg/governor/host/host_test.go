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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubewharf/katalyst-governor/pkg/governor/sampler"
)

const testProcStat = `cpu  300 20 60 800 10 0 0 0 0 0
cpu0 100 20 30 400 10 0 0 0 0 0
cpu1 200 0 30 400 0 0 0 0 0 0
intr 0
ctxt 100
btime 1600000000
processes 10
procs_running 1
procs_blocked 0
softirq 0 0 0 0 0 0 0 0 0 0 0
`

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func newTestRoots(t *testing.T) (string, string) {
	sysRoot, procRoot := t.TempDir(), t.TempDir()
	cpuDir := filepath.Join(sysRoot, "devices/system/cpu")
	for _, cpu := range []string{"cpu0", "cpu1"} {
		freqDir := filepath.Join(cpuDir, cpu, "cpufreq")
		writeFile(t, filepath.Join(freqDir, "scaling_available_frequencies"), "600000 200000 400000\n")
		writeFile(t, filepath.Join(freqDir, "scaling_cur_freq"), "400000\n")
		writeFile(t, filepath.Join(freqDir, "scaling_setspeed"), "400000\n")
		writeFile(t, filepath.Join(freqDir, "scaling_min_freq"), "200000\n")
		writeFile(t, filepath.Join(freqDir, "scaling_max_freq"), "400000\n")
		writeFile(t, filepath.Join(freqDir, "cpuinfo_transition_latency"), "50000\n")
	}
	writeFile(t, filepath.Join(cpuDir, "cpu1", "online"), "1\n")
	writeFile(t, filepath.Join(cpuDir, "present"), "0-1\n")
	writeFile(t, filepath.Join(procRoot, "stat"), testProcStat)
	return sysRoot, procRoot
}

func TestSysfsPlatform(t *testing.T) {
	t.Parallel()

	sysRoot, procRoot := newTestRoots(t)
	modeFile := filepath.Join(t.TempDir(), "lcdfreq")
	p, err := NewSysfsPlatform(SysfsPlatformOptions{
		SysRoot:         sysRoot,
		ProcRoot:        procRoot,
		DisplayModeFile: modeFile,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, p.NumCores())

	table, err := p.FrequencyTable()
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{200000, 400000, 600000}, table)

	min, max, err := p.PolicyLimits(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(200000), min)
	assert.Equal(t, uint64(400000), max)

	latency, err := p.TransitionLatency()
	require.NoError(t, err)
	assert.Equal(t, 50*time.Microsecond, latency)

	c, err := p.ReadCounters(0)
	require.NoError(t, err)
	assert.Equal(t, sampler.Counters{Busy: 1500000, Nice: 200000, Idle: 4100000}, c)

	_, err = p.ReadCounters(5)
	assert.True(t, errors.Is(err, ErrCoreNotFound))

	assert.True(t, errors.Is(p.SetOnline(0, false), ErrCoreNotFound))
	require.NoError(t, p.SetOnline(1, false))
	online, err := p.IsOnline(1)
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, p.SetFrequency(0, 200000))
	data, err := os.ReadFile(filepath.Join(sysRoot, "devices/system/cpu/cpu0/cpufreq/scaling_setspeed"))
	require.NoError(t, err)
	assert.Equal(t, "200000", string(data))

	require.NotNil(t, p.DisplayModeSink())
	require.NoError(t, p.DisplayModeSink().RequestDisplayMode(DisplayModeLow))
	data, err = os.ReadFile(modeFile)
	require.NoError(t, err)
	assert.Equal(t, "1", string(data))
}

func TestSysfsPlatformNoTable(t *testing.T) {
	t.Parallel()

	p, err := NewSysfsPlatform(SysfsPlatformOptions{SysRoot: t.TempDir(), ProcRoot: t.TempDir(), NumCores: 2})
	require.NoError(t, err)
	assert.Nil(t, p.DisplayModeSink())

	_, err = p.FrequencyTable()
	assert.Error(t, err)
}

func TestFakePlatform(t *testing.T) {
	t.Parallel()

	f := NewFakePlatform(4, []uint64{200, 400})
	assert.Equal(t, []int{0, 1, 2, 3}, f.OnlineCores())

	assert.Error(t, f.SetOnline(0, false))
	require.NoError(t, f.SetOnline(3, false))
	require.NoError(t, f.SetOnline(3, false))
	assert.Equal(t, []Transition{{Core: 3, Online: false}}, f.Transitions())

	f.SetOnlineError(2, errors.New("busy"))
	assert.Error(t, f.SetOnline(2, false))
	f.SetOnlineError(2, nil)
	require.NoError(t, f.SetOnline(2, false))

	f.AddLoad(1, 75, 1000)
	c, err := f.ReadCounters(1)
	require.NoError(t, err)
	assert.Equal(t, sampler.Counters{Busy: 750, Idle: 250}, c)

	require.NoError(t, f.DisplayModeSink().RequestDisplayMode(DisplayModeLow))
	assert.Equal(t, []DisplayMode{DisplayModeLow}, f.DisplayModeRequests())
	f.DisableDisplayModeSink()
	assert.Nil(t, f.DisplayModeSink())
}

func TestDryRunPlatform(t *testing.T) {
	t.Parallel()

	base := NewFakePlatform(2, []uint64{200, 400})
	base.SetPolicyLimits(1, 200, 400)
	base.AddLoad(1, 50, 1000)

	dry, err := NewDryRunPlatform(base)
	require.NoError(t, err)

	require.NoError(t, dry.SetOnline(1, false))
	online, err := base.IsOnline(1)
	require.NoError(t, err)
	assert.True(t, online)

	c, err := dry.ReadCounters(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), c.Busy)

	min, max, err := dry.PolicyLimits(1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{200, 400}, []uint64{min, max})
}
