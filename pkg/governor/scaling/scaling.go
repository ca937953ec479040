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

// Package scaling decides the next frequency-table index of a core from
// its load.
package scaling

import (
	"github.com/pkg/errors"

	"github.com/kubewharf/katalyst-governor/pkg/governor/freqtable"
)

type Direction int

const (
	Steady Direction = iota
	Up
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "steady"
	}
}

// Params are the profile-selected tunables the engine reads.
type Params struct {
	UpThreshold     int
	DownThreshold   int
	FreqStep        int
	FastScaling     int
	EarlyDemand     bool
	GradUpThreshold int
}

type Input struct {
	Load     int
	PrevLoad int
	Index    int
	Bounds   freqtable.Bounds
}

type Decision struct {
	Direction Direction
	Index     int
	Frequency uint64
}

type Engine struct {
	table *freqtable.Table
}

func NewEngine(table *freqtable.Table) *Engine {
	return &Engine{table: table}
}

// upStep is the number of table entries one up decision moves.
func upStep(fastScaling int) int {
	switch {
	case fastScaling >= 1 && fastScaling <= 4:
		return fastScaling
	case fastScaling >= 5 && fastScaling <= 8:
		return fastScaling - 4
	default:
		return 1
	}
}

// downStep only jumps for the fast-up plus fast-down levels 5-8.
func downStep(fastScaling int) int {
	if fastScaling >= 5 && fastScaling <= 8 {
		return fastScaling - 4
	}
	return 1
}

// Direction evaluates the thresholds only. Early demand bypasses the up
// threshold when the load jumped by at least GradUpThreshold.
func (p Params) Direction(load, prevLoad int) Direction {
	if p.FreqStep == 0 {
		return Steady
	}
	if load >= p.UpThreshold || (p.EarlyDemand && load-prevLoad >= p.GradUpThreshold) {
		return Up
	}
	if load <= p.DownThreshold {
		return Down
	}
	return Steady
}

// Decide moves the current index, first pinned into the bounds, by the
// step of the chosen direction. An up decision at the ceiling keeps the
// index but is still reported as Up. On ErrFrequencyNotFound the returned
// decision keeps the input index.
func (e *Engine) Decide(in Input, p Params) (Decision, error) {
	dir := p.Direction(in.Load, in.PrevLoad)

	idx := in.Bounds.Clamp(in.Index)
	switch dir {
	case Up:
		idx = in.Bounds.Clamp(idx + upStep(p.FastScaling))
	case Down:
		idx = in.Bounds.Clamp(idx - downStep(p.FastScaling))
	}

	freq, ok := e.table.At(idx)
	if !ok {
		cur, _ := e.table.At(in.Index)
		return Decision{Direction: Steady, Index: in.Index, Frequency: cur},
			errors.Wrapf(freqtable.ErrFrequencyNotFound, "index %d of %s", idx, e.table)
	}
	return Decision{Direction: dir, Index: idx, Frequency: freq}, nil
}
