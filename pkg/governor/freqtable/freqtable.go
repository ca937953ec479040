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

// Package freqtable holds the immutable ascending list of frequencies (kHz)
// a core can run at, and the index bounds derived from policy limits.
package freqtable

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

var (
	// ErrEmptyTable is fatal at start: no decision can be made without a table.
	ErrEmptyTable = errors.New("frequency table is empty")
	// ErrFrequencyNotFound reports an index or frequency with no exact entry.
	ErrFrequencyNotFound = errors.New("frequency not found in table")
)

type Table struct {
	freqs []uint64
}

// New sorts and de-duplicates freqs. Zero entries are dropped.
func New(freqs []uint64) (*Table, error) {
	cleaned := lo.Uniq(lo.Filter(freqs, func(f uint64, _ int) bool { return f > 0 }))
	if len(cleaned) == 0 {
		return nil, ErrEmptyTable
	}
	sort.Slice(cleaned, func(i, j int) bool { return cleaned[i] < cleaned[j] })
	return &Table{freqs: cleaned}, nil
}

func (t *Table) Len() int {
	return len(t.freqs)
}

func (t *Table) At(i int) (uint64, bool) {
	if i < 0 || i >= len(t.freqs) {
		return 0, false
	}
	return t.freqs[i], true
}

func (t *Table) Min() uint64 {
	return t.freqs[0]
}

func (t *Table) Max() uint64 {
	return t.freqs[len(t.freqs)-1]
}

// Frequencies returns a copy of the table.
func (t *Table) Frequencies() []uint64 {
	return append([]uint64(nil), t.freqs...)
}

// IndexOf looks up freq exactly.
func (t *Table) IndexOf(freq uint64) (int, bool) {
	i := sort.Search(len(t.freqs), func(i int) bool { return t.freqs[i] >= freq })
	if i < len(t.freqs) && t.freqs[i] == freq {
		return i, true
	}
	return -1, false
}

// FloorIndex is the index of the largest entry <= freq, or 0 when freq
// is below the table.
func (t *Table) FloorIndex(freq uint64) int {
	i := sort.Search(len(t.freqs), func(i int) bool { return t.freqs[i] > freq })
	return lo.Max([]int{i - 1, 0})
}

// CeilIndex is the index of the smallest entry >= freq, or the last index
// when freq is above the table.
func (t *Table) CeilIndex(freq uint64) int {
	i := sort.Search(len(t.freqs), func(i int) bool { return t.freqs[i] >= freq })
	return lo.Min([]int{i, len(t.freqs) - 1})
}

func (t *Table) String() string {
	return fmt.Sprintf("%v", t.freqs)
}

// Bounds is the index search range of the scaling engine. HardFloor and
// HardCeiling come from the policy limits; SoftCeiling additionally applies
// a self-imposed limit and always lies in [HardFloor, HardCeiling].
type Bounds struct {
	HardFloor   int
	HardCeiling int
	SoftCeiling int
}

// Bounds derives index bounds. A zero policyMin/policyMax means the table
// edge, a zero softLimit disables the soft ceiling.
func (t *Table) Bounds(policyMin, policyMax, softLimit uint64) Bounds {
	b := Bounds{HardFloor: 0, HardCeiling: t.Len() - 1}
	if policyMin > 0 {
		b.HardFloor = t.CeilIndex(policyMin)
	}
	if policyMax > 0 {
		b.HardCeiling = t.FloorIndex(policyMax)
	}
	if b.HardFloor > b.HardCeiling {
		b.HardFloor = b.HardCeiling
	}

	b.SoftCeiling = b.HardCeiling
	if softLimit > 0 {
		b.SoftCeiling = lo.Clamp(t.FloorIndex(softLimit), b.HardFloor, b.HardCeiling)
	}
	return b
}

// Clamp pins i into [HardFloor, SoftCeiling].
func (b Bounds) Clamp(i int) int {
	return lo.Clamp(i, b.HardFloor, b.SoftCeiling)
}

func (b Bounds) Contains(i int) bool {
	return i >= b.HardFloor && i <= b.SoftCeiling
}
