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

package suspend

import (
	"github.com/kubewharf/katalyst-governor/pkg/governor/hotplug"
	"github.com/kubewharf/katalyst-governor/pkg/governor/lcdfreq"
	"github.com/kubewharf/katalyst-governor/pkg/governor/pacing"
	"github.com/kubewharf/katalyst-governor/pkg/governor/scaling"
	"github.com/kubewharf/katalyst-governor/pkg/governor/tunables"
)

// Profile is the effective view of the tunables for one cycle: the awake
// or sleep variant of every profile-scoped value, picked from a single
// snapshot.
type Profile struct {
	suspended bool
	override  bool
	t         *tunables.Tunables
}

func (p *Profile) Suspended() bool {
	return p.suspended
}

// HotplugOverride is true while the suspend override owns the online set;
// per-core hotplug evaluation is skipped meanwhile.
func (p *Profile) HotplugOverride() bool {
	return p.override
}

// Tunables exposes the raw snapshot for values that have no sleep variant.
func (p *Profile) Tunables() *tunables.Tunables {
	return p.t
}

func (p *Profile) UpThreshold() int {
	if p.suspended {
		return p.t.UpThresholdSleep
	}
	return p.t.UpThreshold
}

func (p *Profile) DownThreshold() int {
	if p.suspended {
		return p.t.DownThresholdSleep
	}
	return p.t.DownThreshold
}

func (p *Profile) FreqStep() int {
	if p.suspended {
		return p.t.FreqStepSleep
	}
	return p.t.FreqStep
}

func (p *Profile) FastScaling() int {
	if p.suspended {
		return p.t.FastScalingSleep
	}
	return p.t.FastScaling
}

// FreqLimit is the soft ceiling in kHz, 0 if none.
func (p *Profile) FreqLimit() uint64 {
	if p.suspended {
		return p.t.FreqLimitSleep
	}
	return p.t.FreqLimit
}

func (p *Profile) IgnoreNice() bool {
	return p.t.IgnoreNice
}

func (p *Profile) ScalingParams() scaling.Params {
	return scaling.Params{
		UpThreshold:     p.UpThreshold(),
		DownThreshold:   p.DownThreshold(),
		FreqStep:        p.FreqStep(),
		FastScaling:     p.FastScaling(),
		EarlyDemand:     p.t.EarlyDemand,
		GradUpThreshold: p.t.GradUpThreshold,
	}
}

func (p *Profile) PacingParams() pacing.Params {
	return pacing.Params{
		SamplingRate:        p.t.SamplingRate,
		SleepMultiplier:     p.t.SamplingRateSleepMultiplier,
		Suspended:           p.suspended,
		SamplingDownFactor:  p.t.SamplingDownFactor,
		MaxMomentum:         p.t.SamplingDownMaxMomentum,
		MomentumSensitivity: p.t.SamplingDownMomentumSensitivity,
	}
}

func (p *Profile) HotplugParams(core int) hotplug.Params {
	return hotplug.ParamsFor(p.t, core)
}

func (p *Profile) LcdFreqParams() lcdfreq.Params {
	return lcdfreq.Params{
		Enable:      p.t.LcdFreqEnable,
		DownDelay:   p.t.LcdFreqKickInDownDelay,
		UpDelay:     p.t.LcdFreqKickInUpDelay,
		KickInFreq:  p.t.LcdFreqKickInFreq,
		KickInCores: p.t.LcdFreqKickInCores,
	}
}
