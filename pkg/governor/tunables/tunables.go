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

package tunables

const (
	DefaultSamplingRateSleepMultiplier     = 2
	DefaultUpThreshold                     = 70
	DefaultDownThreshold                   = 52
	DefaultUpThresholdSleep                = 90
	DefaultDownThresholdSleep              = 44
	DefaultFreqStep                        = 5
	DefaultGradUpThreshold                 = 50
	DefaultUpThresholdHotplug              = 68
	DefaultDownThresholdHotplug            = 55
	DefaultHotplugCycles                   = 1
	DefaultSamplingDownFactor              = 1
	DefaultSamplingDownMomentumSensitivity = 50
	DefaultLcdFreqKickInDownDelay          = 20
	DefaultLcdFreqKickInUpDelay            = 50
	DefaultLcdFreqKickInFreq               = 500000

	// DefaultSamplingRate is the lower bound of the default sampling rate in µs.
	DefaultSamplingRate = 100000
	// MaxSamplingRate is the largest accepted sampling rate in µs (10s).
	MaxSamplingRate = 10000000
)

// Tunables is one immutable snapshot of every tunable. A snapshot is never
// modified once published; writers publish a modified copy.
type Tunables struct {
	// SamplingRate and MinSamplingRate are in µs.
	SamplingRate                uint64
	MinSamplingRate             uint64
	SamplingRateSleepMultiplier int

	UpThreshold        int
	DownThreshold      int
	UpThresholdSleep   int
	DownThresholdSleep int
	FreqStep           int
	FreqStepSleep      int
	IgnoreNice         bool
	GradUpThreshold    int
	EarlyDemand        bool
	FastScaling        int
	FastScalingSleep   int
	// FreqLimit and FreqLimitSleep are kHz, 0 means no soft limit.
	FreqLimit      uint64
	FreqLimitSleep uint64

	DisableHotplug    int
	HotplugSleep      int
	HotplugUpCycles   int
	HotplugDownCycles int
	// UpThresholdHotplug and DownThresholdHotplug are indexed by core;
	// entry 0 is unused since core 0 is never hotplugged.
	UpThresholdHotplug   []int
	DownThresholdHotplug []int

	SamplingDownFactor              int
	SamplingDownMaxMomentum         int
	SamplingDownMomentumSensitivity int

	LcdFreqEnable          bool
	LcdFreqKickInDownDelay int
	LcdFreqKickInUpDelay   int
	LcdFreqKickInFreq      uint64
	LcdFreqKickInCores     int
}

func newDefaultTunables(numCores int, minSamplingRate, samplingRate uint64) *Tunables {
	t := &Tunables{
		SamplingRate:                    samplingRate,
		MinSamplingRate:                 minSamplingRate,
		SamplingRateSleepMultiplier:     DefaultSamplingRateSleepMultiplier,
		UpThreshold:                     DefaultUpThreshold,
		DownThreshold:                   DefaultDownThreshold,
		UpThresholdSleep:                DefaultUpThresholdSleep,
		DownThresholdSleep:              DefaultDownThresholdSleep,
		FreqStep:                        DefaultFreqStep,
		FreqStepSleep:                   DefaultFreqStep,
		GradUpThreshold:                 DefaultGradUpThreshold,
		HotplugUpCycles:                 DefaultHotplugCycles,
		HotplugDownCycles:               DefaultHotplugCycles,
		UpThresholdHotplug:              make([]int, numCores),
		DownThresholdHotplug:            make([]int, numCores),
		SamplingDownFactor:              DefaultSamplingDownFactor,
		SamplingDownMomentumSensitivity: DefaultSamplingDownMomentumSensitivity,
		LcdFreqKickInDownDelay:          DefaultLcdFreqKickInDownDelay,
		LcdFreqKickInUpDelay:            DefaultLcdFreqKickInUpDelay,
		LcdFreqKickInFreq:               DefaultLcdFreqKickInFreq,
	}
	for i := 1; i < numCores; i++ {
		t.UpThresholdHotplug[i] = DefaultUpThresholdHotplug
		t.DownThresholdHotplug[i] = DefaultDownThresholdHotplug
	}
	return t
}

// Clone returns a deep copy.
func (t *Tunables) Clone() *Tunables {
	c := *t
	c.UpThresholdHotplug = append([]int(nil), t.UpThresholdHotplug...)
	c.DownThresholdHotplug = append([]int(nil), t.DownThresholdHotplug...)
	return &c
}

func (t *Tunables) NumCores() int {
	return len(t.UpThresholdHotplug)
}

// HotplugThresholds returns the online/offline thresholds of core i.
func (t *Tunables) HotplugThresholds(i int) (up, down int) {
	if i <= 0 || i >= len(t.UpThresholdHotplug) {
		return 0, 0
	}
	return t.UpThresholdHotplug[i], t.DownThresholdHotplug[i]
}

// CoreEnabled is false for cores whose up threshold is 0; such cores are
// never brought online.
func (t *Tunables) CoreEnabled(i int) bool {
	up, _ := t.HotplugThresholds(i)
	return up != 0
}

func (t *Tunables) HotplugDisabled() bool {
	return t.DisableHotplug > 0
}

func (t *Tunables) MomentumEnabled() bool {
	return t.SamplingDownMaxMomentum > 0
}
