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

package options

import (
	"fmt"
	"time"

	cliflag "k8s.io/component-base/cli/flag"

	"github.com/kubewharf/katalyst-governor/pkg/config/governor"
	procm "github.com/kubewharf/katalyst-governor/pkg/util/procfs/manager"
	sysm "github.com/kubewharf/katalyst-governor/pkg/util/sysfs/manager"
)

// GovernorOptions holds the host and surface options of the governor.
type GovernorOptions struct {
	SysRoot            string
	ProcRoot           string
	FrequencyWriteFile string
	DisplayModeFile    string
	NumCores           int

	ProfileFile  string
	WatchProfile bool

	DisplayStateFile string

	LockFileName   string
	HealthzTimeout time.Duration
}

func NewGovernorOptions() *GovernorOptions {
	return &GovernorOptions{
		SysRoot:            sysm.DefaultSysRoot,
		ProcRoot:           procm.DefaultProcRoot,
		FrequencyWriteFile: sysm.DefaultFrequencyWriteFile,
		LockFileName:       "/tmp/katalyst_governor_lock",
		HealthzTimeout:     time.Minute,
	}
}

// AddFlags adds flags to the specified FlagSet.
func (o *GovernorOptions) AddFlags(fss *cliflag.NamedFlagSets) {
	fs := fss.FlagSet("governor")

	fs.StringVar(&o.SysRoot, "sys-root", o.SysRoot, "mount point of sysfs")
	fs.StringVar(&o.ProcRoot, "proc-root", o.ProcRoot, "mount point of procfs")
	fs.StringVar(&o.FrequencyWriteFile, "frequency-write-file", o.FrequencyWriteFile,
		"the cpufreq file target frequencies are written to, e.g. scaling_setspeed or scaling_max_freq")
	fs.StringVar(&o.DisplayModeFile, "display-mode-file", o.DisplayModeFile,
		"the file receiving 1 for the low display refresh mode and 0 for high; empty disables refresh-rate control")
	fs.IntVar(&o.NumCores, "num-cores", o.NumCores, "number of cores to govern, 0 to detect")

	fs.StringVar(&o.ProfileFile, "profile-file", o.ProfileFile, "a yaml map of tunables applied at start")
	fs.BoolVar(&o.WatchProfile, "watch-profile", o.WatchProfile, "re-apply the profile file whenever it is written")

	fs.StringVar(&o.DisplayStateFile, "display-state-file", o.DisplayStateFile,
		"a file holding the display state (on/off), watched for changes")

	fs.StringVar(&o.LockFileName, "locking-file", o.LockFileName, "The filename used as unique lock")
	fs.DurationVar(&o.HealthzTimeout, "healthz-timeout", o.HealthzTimeout,
		"the governor is unhealthy if the reference core has not cycled for this long")
}

// ApplyTo fills up config with options
func (o *GovernorOptions) ApplyTo(c *governor.GovernorConfiguration) error {
	if o.NumCores < 0 {
		return fmt.Errorf("num-cores must not be negative, got %d", o.NumCores)
	}
	if o.WatchProfile && o.ProfileFile == "" {
		return fmt.Errorf("watch-profile requires profile-file")
	}
	if o.LockFileName == "" {
		return fmt.Errorf("locking-file must not be empty")
	}

	c.SysRoot = o.SysRoot
	c.ProcRoot = o.ProcRoot
	c.FrequencyWriteFile = o.FrequencyWriteFile
	c.DisplayModeFile = o.DisplayModeFile
	c.NumCores = o.NumCores
	c.ProfileFile = o.ProfileFile
	c.WatchProfile = o.WatchProfile
	c.DisplayStateFile = o.DisplayStateFile
	c.LockFileName = o.LockFileName
	c.HealthzTimeout = o.HealthzTimeout
	return nil
}
