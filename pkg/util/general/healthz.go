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

package general

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// HealthzCheckName describes which rule name for this check
type HealthzCheckName string

// HealthzCheckState describes the checking results
type HealthzCheckState string

const (
	HealthzCheckStateReady    HealthzCheckState = "Ready"
	HealthzCheckStateNotReady HealthzCheckState = "NotReady"
	HealthzCheckStateUnknown  HealthzCheckState = "Unknown"
)

type HealthzCheckStatus struct {
	State      HealthzCheckState `json:"state"`
	Message    string            `json:"message"`
	LastUpdate time.Time         `json:"lastUpdate"`

	timeout time.Duration
}

// HealthzRegistry keeps heartbeat based checks; a check that has not been
// updated within its timeout is reported as not ready.
type HealthzRegistry struct {
	mtx    sync.RWMutex
	clock  clock.PassiveClock
	checks map[HealthzCheckName]*HealthzCheckStatus
}

func NewHealthzRegistry(clk clock.PassiveClock) *HealthzRegistry {
	return &HealthzRegistry{
		clock:  clk,
		checks: make(map[HealthzCheckName]*HealthzCheckStatus),
	}
}

func (r *HealthzRegistry) RegisterHeartbeatCheck(name HealthzCheckName, timeout time.Duration) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.checks[name] = &HealthzCheckStatus{
		State:      HealthzCheckStateUnknown,
		LastUpdate: r.clock.Now(),
		timeout:    timeout,
	}
}

// UpdateHealthzStateByError refreshes the heartbeat of name; a nil err
// marks it ready.
func (r *HealthzRegistry) UpdateHealthzStateByError(name HealthzCheckName, err error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	status, ok := r.checks[name]
	if !ok {
		return
	}
	status.LastUpdate = r.clock.Now()
	if err != nil {
		status.State = HealthzCheckStateNotReady
		status.Message = err.Error()
		return
	}
	status.State = HealthzCheckStateReady
	status.Message = ""
}

// CheckHealthz returns a copy of every check and whether all of them are ready.
func (r *HealthzRegistry) CheckHealthz() (map[HealthzCheckName]HealthzCheckStatus, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	now := r.clock.Now()
	healthy := true
	results := make(map[HealthzCheckName]HealthzCheckStatus, len(r.checks))
	for name, status := range r.checks {
		result := *status
		if result.timeout > 0 && now.Sub(result.LastUpdate) > result.timeout {
			result.State = HealthzCheckStateNotReady
			result.Message = "heartbeat timeout"
		}
		if result.State != HealthzCheckStateReady {
			healthy = false
		}
		results[name] = result
	}
	return results, healthy
}
