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

package lcdfreq

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/kubewharf/katalyst-governor/pkg/governor/host"
	"github.com/kubewharf/katalyst-governor/pkg/metrics"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) RequestDisplayMode(mode host.DisplayMode) error {
	args := m.Called(mode)
	return args.Error(0)
}

var _ host.DisplayModeSink = &mockSink{}

type sample struct {
	freq  uint64
	cores int
}

func repeat(s sample, n int) []sample {
	res := make([]sample, n)
	for i := range res {
		res[i] = s
	}
	return res
}

func TestObserve(t *testing.T) {
	t.Parallel()

	p := Params{Enable: true, DownDelay: 3, UpDelay: 2, KickInFreq: 500000, KickInCores: 2}
	low := sample{freq: 400000, cores: 1}
	high := sample{freq: 600000, cores: 1}

	tests := []struct {
		name     string
		params   Params
		samples  []sample
		wantMode host.DisplayMode
		wantReq  []host.DisplayMode
	}{
		{
			name:     "low after down delay",
			params:   p,
			samples:  repeat(low, 3),
			wantMode: host.DisplayModeLow,
			wantReq:  []host.DisplayMode{host.DisplayModeLow},
		},
		{
			name:     "not yet low before down delay",
			params:   p,
			samples:  repeat(low, 2),
			wantMode: host.DisplayModeHigh,
		},
		{
			name:     "oscillation never reaches a delay",
			params:   p,
			samples:  []sample{low, low, high, low, low, high, low, low},
			wantMode: host.DisplayModeHigh,
		},
		{
			name:     "back to high after up delay",
			params:   p,
			samples:  append(repeat(low, 3), repeat(high, 2)...),
			wantMode: host.DisplayModeHigh,
			wantReq:  []host.DisplayMode{host.DisplayModeLow, host.DisplayModeHigh},
		},
		{
			name:     "too many cores online counts as above",
			params:   p,
			samples:  repeat(sample{freq: 400000, cores: 3}, 10),
			wantMode: host.DisplayModeHigh,
		},
		{
			name:     "kick in cores 0 ignores the core count",
			params:   Params{Enable: true, DownDelay: 3, UpDelay: 2, KickInFreq: 500000},
			samples:  repeat(sample{freq: 400000, cores: 8}, 3),
			wantMode: host.DisplayModeLow,
			wantReq:  []host.DisplayMode{host.DisplayModeLow},
		},
		{
			name:     "requests only on mode change",
			params:   p,
			samples:  repeat(low, 20),
			wantMode: host.DisplayModeLow,
			wantReq:  []host.DisplayMode{host.DisplayModeLow},
		},
		{
			name:     "disabled never requests",
			params:   Params{DownDelay: 1, UpDelay: 1, KickInFreq: 500000},
			samples:  repeat(low, 5),
			wantMode: host.DisplayModeHigh,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sink := host.NewFakePlatform(1, []uint64{200})
			c := New(sink, metrics.DummyMetrics{})
			for _, s := range tt.samples {
				c.Observe(s.freq, s.cores, tt.params)
			}
			assert.Equal(t, tt.wantMode, c.Mode())
			assert.Equal(t, tt.wantReq, sink.DisplayModeRequests())
		})
	}
}

func TestResetAndDisable(t *testing.T) {
	t.Parallel()

	sink := &mockSink{}
	sink.On("RequestDisplayMode", host.DisplayModeLow).Return(nil).Once()
	sink.On("RequestDisplayMode", host.DisplayModeHigh).Return(nil).Twice()

	p := Params{Enable: true, DownDelay: 1, UpDelay: 1, KickInFreq: 500000}
	c := New(sink, metrics.DummyMetrics{})

	c.Observe(100, 1, p)
	assert.Equal(t, host.DisplayModeLow, c.Mode())
	c.Reset()
	assert.Equal(t, host.DisplayModeHigh, c.Mode())
	// reset in high mode is a noop
	c.Reset()

	sink.On("RequestDisplayMode", host.DisplayModeLow).Return(nil).Once()
	c.Observe(100, 1, p)
	// clearing lcdfreq_enable at runtime falls back to high
	p.Enable = false
	c.Observe(100, 1, p)
	assert.Equal(t, host.DisplayModeHigh, c.Mode())

	sink.AssertExpectations(t)
}

func TestSinkFailureRetries(t *testing.T) {
	t.Parallel()

	sink := &mockSink{}
	sink.On("RequestDisplayMode", host.DisplayModeLow).Return(errors.New("busy")).Once()
	sink.On("RequestDisplayMode", host.DisplayModeLow).Return(nil).Once()

	p := Params{Enable: true, DownDelay: 1, UpDelay: 1, KickInFreq: 500000}
	c := New(sink, metrics.DummyMetrics{})
	c.Observe(100, 1, p)
	assert.Equal(t, host.DisplayModeHigh, c.Mode())
	c.Observe(100, 1, p)
	assert.Equal(t, host.DisplayModeLow, c.Mode())

	sink.AssertExpectations(t)
}

func TestNoop(t *testing.T) {
	t.Parallel()

	c := New(nil, metrics.DummyMetrics{})
	c.Observe(100, 1, Params{Enable: true})
	c.Reset()
	assert.Equal(t, host.DisplayModeHigh, c.Mode())
}
