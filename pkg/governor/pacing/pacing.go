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

// Package pacing computes the sampling interval of a core and applies one
// of two down-scaling brakes: the stock down-skip counter, or momentum
// that stretches the interval while the load is stable.
package pacing

import (
	"time"

	"github.com/kubewharf/katalyst-governor/pkg/governor/scaling"
)

// MaxInterval caps the interval of a cycle however far the sleep
// multiplier and momentum stretch it.
const MaxInterval = time.Hour

// Params are the pacing tunables of the active profile.
type Params struct {
	// SamplingRate is in µs.
	SamplingRate        uint64
	SleepMultiplier     int
	Suspended           bool
	SamplingDownFactor  int
	MaxMomentum         int
	MomentumSensitivity int
}

func (p Params) momentum() bool {
	return p.MaxMomentum > 0
}

// Controller is the pacing state of one core, owned by its worker.
type Controller struct {
	// skip is the stock down-skip counter.
	skip int
	// streak counts consecutive non-up cycles, capped at the sensitivity.
	streak int
	factor int

	lastMaxMomentum int
	seenMaxMomentum bool
}

func NewController() *Controller {
	return &Controller{factor: 1}
}

// Reset drops all pacing state, e.g. when the core comes back online.
func (c *Controller) Reset() {
	c.skip = 0
	c.streak = 0
	c.factor = 1
}

// Observe feeds the direction chosen by the scaling engine for this cycle
// and reports whether a down decision must be turned into steady.
//
// Stock mode: an up decision loads the counter with SamplingDownFactor;
// every later cycle decrements it while it is above 1 and suppresses down,
// so F-1 cycles after an up decision never scale down.
//
// Momentum mode never suppresses; it grows the interval factor from 1
// toward MaxMomentum over Sensitivity non-up cycles and falls back to 1 on
// an up decision or on a change of MaxMomentum. The cycle that sees the
// change runs the next interval at factor 1.
func (c *Controller) Observe(dir scaling.Direction, p Params) bool {
	if !c.seenMaxMomentum {
		c.seenMaxMomentum = true
		c.lastMaxMomentum = p.MaxMomentum
	} else if p.MaxMomentum != c.lastMaxMomentum {
		c.lastMaxMomentum = p.MaxMomentum
		c.Reset()
		if p.momentum() {
			return false
		}
	}

	if p.momentum() {
		if dir == scaling.Up {
			c.streak = 0
		} else if c.streak < p.MomentumSensitivity {
			c.streak++
		}
		if c.streak > p.MomentumSensitivity {
			c.streak = p.MomentumSensitivity
		}
		c.factor = 1
		if p.MomentumSensitivity > 0 {
			c.factor = 1 + c.streak*(p.MaxMomentum-1)/p.MomentumSensitivity
		}
		return false
	}

	if dir == scaling.Up {
		c.skip = p.SamplingDownFactor
		return false
	}
	if c.skip > 1 {
		c.skip--
		return dir == scaling.Down
	}
	return false
}

// Factor is the momentum multiplier of the next interval, 1 in stock mode.
func (c *Controller) Factor() int {
	return c.factor
}

// Interval is sampling_rate × sleep multiplier (while suspended) × factor,
// saturated at MaxInterval.
func (c *Controller) Interval(p Params) time.Duration {
	interval := MaxInterval
	if p.SamplingRate < uint64(MaxInterval/time.Microsecond) {
		interval = time.Duration(p.SamplingRate) * time.Microsecond
	}
	if p.Suspended && p.SleepMultiplier > 1 {
		interval = saturatingMul(interval, p.SleepMultiplier)
	}
	if p.momentum() {
		interval = saturatingMul(interval, c.factor)
	}
	return interval
}

func saturatingMul(d time.Duration, n int) time.Duration {
	if n <= 1 {
		return d
	}
	if d >= MaxInterval/time.Duration(n) {
		return MaxInterval
	}
	return d * time.Duration(n)
}
