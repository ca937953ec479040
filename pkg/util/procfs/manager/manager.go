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
	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
)

const DefaultProcRoot = procfs.DefaultMountPoint

// ProcFSManager reads the host-wide statistics the governor samples.
type ProcFSManager interface {
	// GetProcStat returns the parsed /proc/stat.
	GetProcStat() (procfs.Stat, error)
	// GetCPUStats returns per-CPU times in seconds, keyed by CPU id. CPUs
	// that are offline are absent.
	GetCPUStats() (map[int]procfs.CPUStat, error)
}

type manager struct {
	procfs procfs.FS
}

// NewProcFSManager returns a manager for the procfs mounted at root.
func NewProcFSManager(root string) (ProcFSManager, error) {
	fs, err := procfs.NewFS(root)
	if err != nil {
		return nil, errors.Wrapf(err, "open procfs at %s", root)
	}
	return &manager{procfs: fs}, nil
}

func (m *manager) GetProcStat() (procfs.Stat, error) {
	return m.procfs.Stat()
}

func (m *manager) GetCPUStats() (map[int]procfs.CPUStat, error) {
	stat, err := m.procfs.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "read proc stat")
	}

	stats := make(map[int]procfs.CPUStat, len(stat.CPU))
	for id, cpuStat := range stat.CPU {
		stats[int(id)] = cpuStat
	}
	return stats, nil
}
