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

package manager

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs/sysfs"

	"github.com/kubewharf/katalyst-governor/pkg/util/general"
	"github.com/kubewharf/katalyst-governor/pkg/util/sysfs/common"
)

const (
	DefaultSysRoot = sysfs.DefaultMountPoint

	SystemCPUBasePath = "devices/system/cpu"

	DefaultFrequencyWriteFile = "scaling_setspeed"

	fileOnline               = "online"
	fileAvailableFrequencies = "scaling_available_frequencies"
	fileScalingCurFreq       = "scaling_cur_freq"
	fileCPUPresent           = "present"
	dirCpufreq               = "cpufreq"
)

// SysFSManager wraps the cpu hierarchy of sysfs: enumeration, cpufreq
// policy and the per-cpu online switch.
type SysFSManager interface {
	GetSystemCPUs() ([]sysfs.CPU, error)
	// GetSystemCpufreq returns the cpufreq statistics of every cpu that has
	// a cpufreq directory, sorted by cpu number.
	GetSystemCpufreq() ([]sysfs.SystemCPUCpufreqStats, error)
	GetPresentCPUs() ([]int, error)

	GetCPUOnline(cpu int) (bool, error)
	SetCPUOnline(cpu int, online bool) error

	GetAvailableFrequencies(cpu int) ([]uint64, error)
	GetCurrentFrequency(cpu int) (uint64, error)
	SetFrequency(cpu int, freq uint64) error
}

type manager struct {
	root      string
	sys       sysfs.FS
	writeFile string
}

// NewSysFsManager returns a manager for the sysfs mounted at root;
// frequencies are written to cpufreq/<writeFile>, scaling_setspeed if empty.
func NewSysFsManager(root, writeFile string) (SysFSManager, error) {
	sys, err := sysfs.NewFS(root)
	if err != nil {
		return nil, errors.Wrapf(err, "open sysfs at %s", root)
	}
	if writeFile == "" {
		writeFile = DefaultFrequencyWriteFile
	}
	return &manager{root: root, sys: sys, writeFile: writeFile}, nil
}

func (m *manager) cpuPath(cpu int, elem ...string) string {
	return filepath.Join(append([]string{m.root, SystemCPUBasePath, fmt.Sprintf("cpu%d", cpu)}, elem...)...)
}

// GetSystemCPUs returns a slice of all CPUs in `/sys/devices/system/cpu`.
func (m *manager) GetSystemCPUs() ([]sysfs.CPU, error) {
	return m.sys.CPUs()
}

func (m *manager) GetSystemCpufreq() ([]sysfs.SystemCPUCpufreqStats, error) {
	stats, err := m.sys.SystemCpufreq()
	if err != nil {
		return nil, errors.Wrap(err, "read system cpufreq")
	}

	res := make([]sysfs.SystemCPUCpufreqStats, 0, len(stats))
	for _, s := range stats {
		// cpus without a cpufreq directory are left zero-valued
		if s.Name == "" {
			continue
		}
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool {
		a, _ := strconv.Atoi(res[i].Name)
		b, _ := strconv.Atoi(res[j].Name)
		return a < b
	})
	return res, nil
}

// GetPresentCPUs parses devices/system/cpu/present, falling back to the
// enumerated cpu directories when the file is absent.
func (m *manager) GetPresentCPUs() ([]int, error) {
	present := filepath.Join(m.root, SystemCPUBasePath, fileCPUPresent)
	if general.IsPathExists(present) {
		return general.ParseLinuxListFormatFromFile(present)
	}

	cpus, err := m.sys.CPUs()
	if err != nil {
		return nil, errors.Wrap(err, "list cpus")
	}
	res := make([]int, 0, len(cpus))
	for _, cpu := range cpus {
		n, err := strconv.Atoi(cpu.Number())
		if err != nil {
			return nil, errors.Wrapf(err, "parse cpu number %q", cpu.Number())
		}
		res = append(res, n)
	}
	sort.Ints(res)
	return res, nil
}

// GetCPUOnline reports a cpu without an online file, typically cpu0, as
// online.
func (m *manager) GetCPUOnline(cpu int) (bool, error) {
	path := m.cpuPath(cpu, fileOnline)
	if !general.IsPathExists(path) {
		return true, nil
	}
	v, err := general.ReadUint64FromFile(path)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (m *manager) SetCPUOnline(cpu int, online bool) error {
	data := "0"
	if online {
		data = "1"
	}

	applied, oldData, err := common.InstrumentedWriteFileIfChange(m.cpuPath(cpu), fileOnline, data)
	if err != nil {
		return errors.Wrapf(err, "set cpu%d online=%s", cpu, data)
	} else if applied {
		general.Infof("[Sysfs] set cpu%d online successfully, data: %v, old data: %v", cpu, data, oldData)
	}
	return nil
}

func (m *manager) GetAvailableFrequencies(cpu int) ([]uint64, error) {
	return general.ReadUint64FieldsFromFile(m.cpuPath(cpu, dirCpufreq, fileAvailableFrequencies))
}

func (m *manager) GetCurrentFrequency(cpu int) (uint64, error) {
	return general.ReadUint64FromFile(m.cpuPath(cpu, dirCpufreq, fileScalingCurFreq))
}

func (m *manager) SetFrequency(cpu int, freq uint64) error {
	data := strconv.FormatUint(freq, 10)
	applied, oldData, err := common.InstrumentedWriteFileIfChange(m.cpuPath(cpu, dirCpufreq), m.writeFile, data)
	if err != nil {
		return errors.Wrapf(err, "set cpu%d %s=%s", cpu, m.writeFile, data)
	} else if applied {
		general.InfofV(6, "[Sysfs] set cpu%d frequency, data: %v, old data: %v", cpu, data, oldData)
	}
	return nil
}
