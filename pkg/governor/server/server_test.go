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

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/kubewharf/katalyst-governor/pkg/governor/display"
	"github.com/kubewharf/katalyst-governor/pkg/governor/freqtable"
	"github.com/kubewharf/katalyst-governor/pkg/governor/tunables"
	"github.com/kubewharf/katalyst-governor/pkg/metrics"
	"github.com/kubewharf/katalyst-governor/pkg/util/eventbus"
	"github.com/kubewharf/katalyst-governor/pkg/util/general"
	"github.com/kubewharf/katalyst-governor/pkg/util/process"
)

func newTestServer(t *testing.T) (*httptest.Server, *tunables.Store, eventbus.EventBus, *general.HealthzRegistry) {
	table, err := freqtable.New([]uint64{200000, 400000, 600000})
	require.NoError(t, err)
	store, err := tunables.NewStore(2, table, 20000, tunables.DefaultSamplingRate)
	require.NoError(t, err)

	bus := eventbus.NewEventBus(16)
	healthz := general.NewHealthzRegistry(testingclock.NewFakeClock(time.Now()))
	chain := process.NewHTTPHandler([]string{process.HTTPChainMonitor}, rate.Inf, 0, metrics.DummyMetrics{})
	emitter := metrics.NewPrometheusMetricsEmitter("governor_test")

	s := NewServer("", store, bus, healthz, emitter.Handler(), chain)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, store, bus, healthz
}

func do(t *testing.T, method, url, body string) (int, string) {
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, strings.TrimSpace(string(data))
}

func TestTunables(t *testing.T) {
	t.Parallel()

	ts, store, _, _ := newTestServer(t)

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		wantBody string
	}{
		{
			name:     "get",
			method:   http.MethodGet,
			path:     "/tunables/up_threshold",
			wantCode: http.StatusOK,
			wantBody: "70",
		},
		{
			name:     "get unknown",
			method:   http.MethodGet,
			path:     "/tunables/no_such_key",
			wantCode: http.StatusNotFound,
		},
		{
			name:     "set",
			method:   http.MethodPut,
			path:     "/tunables/down_threshold",
			body:     "40\n",
			wantCode: http.StatusOK,
			wantBody: "40",
		},
		{
			name:     "set out of range",
			method:   http.MethodPut,
			path:     "/tunables/fast_scaling",
			body:     "9",
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "set not a number",
			method:   http.MethodPut,
			path:     "/tunables/freq_step",
			body:     "fast",
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "set read only",
			method:   http.MethodPut,
			path:     "/tunables/min_sampling_rate",
			body:     "1",
			wantCode: http.StatusForbidden,
		},
		{
			name:     "set unknown",
			method:   http.MethodPut,
			path:     "/tunables/no_such_key",
			body:     "1",
			wantCode: http.StatusNotFound,
		},
		{
			name:     "set too long",
			method:   http.MethodPut,
			path:     "/tunables/freq_step",
			body:     strings.Repeat("1", 100),
			wantCode: http.StatusRequestEntityTooLarge,
		},
		{
			name:     "wrong method",
			method:   http.MethodDelete,
			path:     "/tunables/freq_step",
			wantCode: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, tt.method, ts.URL+tt.path, tt.body)
			assert.Equal(t, tt.wantCode, code, body)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, body)
			}
		})
	}

	assert.Equal(t, 40, store.Snapshot().DownThreshold)
	assert.Equal(t, 0, store.Snapshot().FastScaling)
}

func TestListTunables(t *testing.T) {
	t.Parallel()

	ts, store, _, _ := newTestServer(t)
	code, body := do(t, http.MethodGet, ts.URL+"/tunables", "")
	require.Equal(t, http.StatusOK, code)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, store.All(), got)
	assert.Equal(t, "68", got[tunables.KeyUpThresholdHotplug(1)])
}

func TestDisplay(t *testing.T) {
	t.Parallel()

	ts, _, bus, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	states := make(chan display.State, 4)
	go func() {
		_ = display.NewEventBusSource(bus).Run(ctx, states)
	}()
	// wait for the source to subscribe
	require.Eventually(t, func() bool {
		resp, err := http.Post(ts.URL+"/display/off", "text/plain", nil)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusAccepted && len(states) > 0
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, display.StateOff, <-states)

	code, _ := do(t, http.MethodPost, ts.URL+"/display/dim", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHealthzAndMetrics(t *testing.T) {
	t.Parallel()

	ts, _, _, healthz := newTestServer(t)
	healthz.RegisterHeartbeatCheck("governor", time.Minute)

	code, _ := do(t, http.MethodGet, ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusInternalServerError, code)

	healthz.UpdateHealthzStateByError("governor", nil)
	code, body := do(t, http.MethodGet, ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "governor")

	code, _ = do(t, http.MethodGet, ts.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestRunShutdown(t *testing.T) {
	t.Parallel()

	table, err := freqtable.New([]uint64{200000})
	require.NoError(t, err)
	store, err := tunables.NewStore(1, table, 20000, tunables.DefaultSamplingRate)
	require.NoError(t, err)

	s := NewServer("127.0.0.1:0", store, eventbus.NewEventBus(1), nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx)
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
