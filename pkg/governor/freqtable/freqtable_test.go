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

package freqtable

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) *Table {
	table, err := New([]uint64{1400, 200, 600, 400, 800, 1000, 1200, 600})
	require.NoError(t, err)
	return table
}

func TestNew(t *testing.T) {
	t.Parallel()

	table := newTestTable(t)
	assert.Equal(t, []uint64{200, 400, 600, 800, 1000, 1200, 1400}, table.Frequencies())
	assert.Equal(t, uint64(200), table.Min())
	assert.Equal(t, uint64(1400), table.Max())

	_, err := New(nil)
	assert.True(t, errors.Is(err, ErrEmptyTable))
	_, err = New([]uint64{0, 0})
	assert.True(t, errors.Is(err, ErrEmptyTable))
}

func TestLookup(t *testing.T) {
	t.Parallel()

	table := newTestTable(t)

	f, ok := table.At(2)
	assert.True(t, ok)
	assert.Equal(t, uint64(600), f)
	_, ok = table.At(7)
	assert.False(t, ok)
	_, ok = table.At(-1)
	assert.False(t, ok)

	i, ok := table.IndexOf(800)
	assert.True(t, ok)
	assert.Equal(t, 3, i)
	_, ok = table.IndexOf(700)
	assert.False(t, ok)

	tests := []struct {
		freq        uint64
		floor, ceil int
	}{
		{freq: 100, floor: 0, ceil: 0},
		{freq: 200, floor: 0, ceil: 0},
		{freq: 700, floor: 2, ceil: 3},
		{freq: 1400, floor: 6, ceil: 6},
		{freq: 9000, floor: 6, ceil: 6},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.floor, table.FloorIndex(tt.freq), "floor of %d", tt.freq)
		assert.Equal(t, tt.ceil, table.CeilIndex(tt.freq), "ceil of %d", tt.freq)
	}
}

func TestBounds(t *testing.T) {
	t.Parallel()

	table := newTestTable(t)

	tests := []struct {
		name                 string
		policyMin, policyMax uint64
		softLimit            uint64
		want                 Bounds
	}{
		{
			name: "full range",
			want: Bounds{HardFloor: 0, HardCeiling: 6, SoftCeiling: 6},
		},
		{
			name:      "policy limits",
			policyMin: 400, policyMax: 1200,
			want: Bounds{HardFloor: 1, HardCeiling: 5, SoftCeiling: 5},
		},
		{
			name:      "soft limit below hard ceiling",
			softLimit: 800,
			want:      Bounds{HardFloor: 0, HardCeiling: 6, SoftCeiling: 3},
		},
		{
			name:      "soft limit above hard ceiling",
			policyMax: 1000, softLimit: 1400,
			want: Bounds{HardFloor: 0, HardCeiling: 4, SoftCeiling: 4},
		},
		{
			name:      "soft limit below hard floor",
			policyMin: 600, softLimit: 200,
			want: Bounds{HardFloor: 2, HardCeiling: 6, SoftCeiling: 2},
		},
		{
			name:      "inverted policy",
			policyMin: 1200, policyMax: 400,
			want: Bounds{HardFloor: 1, HardCeiling: 1, SoftCeiling: 1},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := table.Bounds(tt.policyMin, tt.policyMax, tt.softLimit)
			assert.Equal(t, tt.want, b)
			for i := -2; i < table.Len()+2; i++ {
				assert.True(t, b.Contains(b.Clamp(i)))
			}
		})
	}
}
