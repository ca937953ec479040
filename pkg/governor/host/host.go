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

// Package host declares the primitives the governor needs from the
// platform it runs on, together with a sysfs/procfs implementation and an
// in-memory one.
package host

import (
	"time"

	"github.com/kubewharf/katalyst-governor/pkg/governor/sampler"
)

type DisplayMode int

const (
	DisplayModeHigh DisplayMode = iota
	DisplayModeLow
)

func (m DisplayMode) String() string {
	if m == DisplayModeLow {
		return "low"
	}
	return "high"
}

// CoreSwitch activates and deactivates cores. SetOnline is synchronous and
// its result is trusted.
type CoreSwitch interface {
	SetOnline(core int, online bool) error
	IsOnline(core int) (bool, error)
}

// CounterReader returns the monotonic busy/nice/idle counters of a core.
type CounterReader interface {
	ReadCounters(core int) (sampler.Counters, error)
}

type FrequencySetter interface {
	SetFrequency(core int, freq uint64) error
	CurrentFrequency(core int) (uint64, error)
}

// DisplayModeSink accepts refresh-rate mode requests. Requests are fire and
// forget.
type DisplayModeSink interface {
	RequestDisplayMode(mode DisplayMode) error
}

// Platform is everything the governor consumes from the host.
type Platform interface {
	CoreSwitch
	CounterReader
	FrequencySetter

	NumCores() int
	// FrequencyTable is read once at start; frequencies are kHz.
	FrequencyTable() ([]uint64, error)
	// PolicyLimits returns the hard [min, max] of a core in kHz, zero when
	// unknown.
	PolicyLimits(core int) (min, max uint64, err error)
	TransitionLatency() (time.Duration, error)
	// DisplayModeSink is nil when the host has no refresh-rate control.
	DisplayModeSink() DisplayModeSink
}
