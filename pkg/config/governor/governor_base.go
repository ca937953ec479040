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

import "time"

// GovernorConfiguration stores the host and surface configurations of the
// governor. Tunables are not part of it; they live in the tunable store and
// are changed at run time.
type GovernorConfiguration struct {
	SysRoot  string
	ProcRoot string
	// FrequencyWriteFile is the cpufreq file target frequencies go to.
	FrequencyWriteFile string
	// DisplayModeFile receives the display refresh mode; empty disables
	// refresh-rate control.
	DisplayModeFile string
	// NumCores overrides core detection when positive.
	NumCores int

	// ProfileFile is a yaml map of tunables applied at start.
	ProfileFile  string
	WatchProfile bool

	// DisplayStateFile is watched for on/off in addition to the event bus.
	DisplayStateFile string

	// LockFileName indicates the file used as unique lock
	LockFileName   string
	HealthzTimeout time.Duration
}

func NewGovernorConfiguration() *GovernorConfiguration {
	return &GovernorConfiguration{}
}
