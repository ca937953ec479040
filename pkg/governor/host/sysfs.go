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
	"math"
	"strconv"
	"time"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/procfs/sysfs"

	"github.com/kubewharf/katalyst-governor/pkg/governor/sampler"
	"github.com/kubewharf/katalyst-governor/pkg/util/general"
	procm "github.com/kubewharf/katalyst-governor/pkg/util/procfs/manager"
	sysm "github.com/kubewharf/katalyst-governor/pkg/util/sysfs/manager"
)

var ErrCoreNotFound = errors.New("core not found")

type SysfsPlatformOptions struct {
	SysRoot  string
	ProcRoot string
	// FrequencyWriteFile is the cpufreq file frequencies are written to.
	FrequencyWriteFile string
	// DisplayModeFile receives 1 for the low refresh mode and 0 for high;
	// empty means no refresh-rate control.
	DisplayModeFile string
	// NumCores overrides detection when positive.
	NumCores int
}

type sysfsPlatform struct {
	sys      sysm.SysFSManager
	proc     procm.ProcFSManager
	numCores int
	cpufreq  map[int]sysfs.SystemCPUCpufreqStats
	sink     DisplayModeSink
}

// NewSysfsPlatform builds the Linux platform over sysfs and procfs.
func NewSysfsPlatform(opts SysfsPlatformOptions) (Platform, error) {
	sys, err := sysm.NewSysFsManager(opts.SysRoot, opts.FrequencyWriteFile)
	if err != nil {
		return nil, err
	}
	proc, err := procm.NewProcFSManager(opts.ProcRoot)
	if err != nil {
		return nil, err
	}

	numCores := opts.NumCores
	if numCores <= 0 {
		numCores = DetectNumCores(sys)
	}

	p := &sysfsPlatform{
		sys:      sys,
		proc:     proc,
		numCores: numCores,
		cpufreq:  make(map[int]sysfs.SystemCPUCpufreqStats),
	}

	stats, err := sys.GetSystemCpufreq()
	if err != nil {
		general.Warningf("failed to read cpufreq policies: %v", err)
	}
	for _, s := range stats {
		if id, err := strconv.Atoi(s.Name); err == nil {
			p.cpufreq[id] = s
		}
	}

	if opts.DisplayModeFile != "" {
		p.sink = &fileDisplayModeSink{path: opts.DisplayModeFile}
	}
	return p, nil
}

// DetectNumCores counts present cpus through sysfs and falls back to the
// logical core count reported by cpuid.
func DetectNumCores(sys sysm.SysFSManager) int {
	general.Infof("host cpu %q vendor %v, physical cores %d, logical cores %d",
		cpuid.CPU.BrandName, cpuid.CPU.VendorID, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores)

	if cpus, err := sys.GetPresentCPUs(); err == nil && len(cpus) > 0 {
		return cpus[len(cpus)-1] + 1
	} else if err != nil {
		general.Warningf("failed to list present cpus, falling back to cpuid: %v", err)
	}
	if cpuid.CPU.LogicalCores > 0 {
		return cpuid.CPU.LogicalCores
	}
	return 1
}

func (p *sysfsPlatform) NumCores() int {
	return p.numCores
}

func (p *sysfsPlatform) SetOnline(core int, online bool) error {
	if core <= 0 || core >= p.numCores {
		return errors.Wrapf(ErrCoreNotFound, "cpu%d", core)
	}
	return p.sys.SetCPUOnline(core, online)
}

func (p *sysfsPlatform) IsOnline(core int) (bool, error) {
	if core < 0 || core >= p.numCores {
		return false, errors.Wrapf(ErrCoreNotFound, "cpu%d", core)
	}
	return p.sys.GetCPUOnline(core)
}

// ReadCounters converts /proc/stat seconds into µs. Iowait counts as idle.
func (p *sysfsPlatform) ReadCounters(core int) (sampler.Counters, error) {
	stats, err := p.proc.GetCPUStats()
	if err != nil {
		return sampler.Counters{}, err
	}
	s, ok := stats[core]
	if !ok {
		return sampler.Counters{}, errors.Wrapf(ErrCoreNotFound, "cpu%d in proc stat", core)
	}

	us := func(sec float64) uint64 { return uint64(math.Round(sec * 1e6)) }
	return sampler.Counters{
		Busy: us(s.User + s.Nice + s.System + s.IRQ + s.SoftIRQ + s.Steal),
		Nice: us(s.Nice),
		Idle: us(s.Idle + s.Iowait),
	}, nil
}

func (p *sysfsPlatform) SetFrequency(core int, freq uint64) error {
	return p.sys.SetFrequency(core, freq)
}

func (p *sysfsPlatform) CurrentFrequency(core int) (uint64, error) {
	return p.sys.GetCurrentFrequency(core)
}

// FrequencyTable reads scaling_available_frequencies of the first core
// that exposes it.
func (p *sysfsPlatform) FrequencyTable() ([]uint64, error) {
	var lastErr error
	for core := 0; core < p.numCores; core++ {
		freqs, err := p.sys.GetAvailableFrequencies(core)
		if err != nil {
			lastErr = err
			continue
		}
		if len(freqs) > 0 {
			return freqs, nil
		}
	}
	if lastErr != nil {
		return nil, errors.Wrap(lastErr, "no frequency table")
	}
	return nil, errors.New("no frequency table")
}

func (p *sysfsPlatform) PolicyLimits(core int) (uint64, uint64, error) {
	s, ok := p.cpufreq[core]
	if !ok {
		return 0, 0, nil
	}
	var min, max uint64
	if s.ScalingMinimumFrequency != nil {
		min = *s.ScalingMinimumFrequency
	}
	if s.ScalingMaximumFrequency != nil {
		max = *s.ScalingMaximumFrequency
	}
	return min, max, nil
}

// TransitionLatency is the largest cpuinfo_transition_latency, reported by
// the kernel in ns.
func (p *sysfsPlatform) TransitionLatency() (time.Duration, error) {
	var latency uint64
	for _, s := range p.cpufreq {
		if s.CpuinfoTransitionLatency != nil && *s.CpuinfoTransitionLatency > latency {
			latency = *s.CpuinfoTransitionLatency
		}
	}
	return time.Duration(latency) * time.Nanosecond, nil
}

func (p *sysfsPlatform) DisplayModeSink() DisplayModeSink {
	return p.sink
}

type fileDisplayModeSink struct {
	path string
}

func (f *fileDisplayModeSink) RequestDisplayMode(mode DisplayMode) error {
	var v uint64
	if mode == DisplayModeLow {
		v = 1
	}
	return general.WriteUint64ToFile(f.path, v)
}
