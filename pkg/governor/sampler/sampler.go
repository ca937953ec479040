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

// Package sampler turns monotonic per-core time counters into a load
// percentage over one sampling interval.
package sampler

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrCounterAnomaly reports a zero interval or a counter that went
// backwards; the previous load is reused for the cycle.
var ErrCounterAnomaly = errors.New("counter anomaly")

// Counters are cumulative times of one core, in µs. Busy includes Nice.
type Counters struct {
	Busy uint64
	Nice uint64
	Idle uint64
}

// Sampler keeps the previous sample and load of one core. It is owned by
// that core's worker and is not safe for concurrent use.
type Sampler struct {
	prev     Counters
	primed   bool
	lastLoad int
}

func New() *Sampler {
	return &Sampler{}
}

// Prime records cur as the reference sample without producing a load,
// e.g. when a core comes back online.
func (s *Sampler) Prime(cur Counters) {
	s.prev = cur
	s.primed = true
}

func (s *Sampler) Primed() bool {
	return s.primed
}

func (s *Sampler) LastLoad() int {
	return s.lastLoad
}

// Sample computes the load since the previous sample. On ErrCounterAnomaly
// the returned load is the previous one; cur always becomes the new
// reference so that the next interval is measured from it.
func (s *Sampler) Sample(cur Counters, ignoreNice bool) (int, error) {
	if !s.primed {
		s.Prime(cur)
		return s.lastLoad, nil
	}
	prev := s.prev
	s.prev = cur

	if cur.Busy < prev.Busy || cur.Idle < prev.Idle || cur.Nice < prev.Nice {
		return s.lastLoad, errors.Wrapf(ErrCounterAnomaly, "counters went backwards: %+v -> %+v", prev, cur)
	}

	busy := cur.Busy - prev.Busy
	idle := cur.Idle - prev.Idle
	if ignoreNice {
		nice := cur.Nice - prev.Nice
		if nice > busy {
			nice = busy
		}
		busy -= nice
		idle += nice
	}

	total := busy + idle
	if total == 0 {
		return s.lastLoad, errors.Wrap(ErrCounterAnomaly, "zero interval")
	}

	s.lastLoad = int(100 * busy / total)
	return s.lastLoad, nil
}

func (c Counters) String() string {
	return fmt.Sprintf("busy=%d nice=%d idle=%d", c.Busy, c.Nice, c.Idle)
}
