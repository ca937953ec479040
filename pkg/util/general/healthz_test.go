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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	testingclock "k8s.io/utils/clock/testing"
)

func TestHeartbeatCheck(t *testing.T) {
	t.Parallel()

	clk := testingclock.NewFakeClock(time.Now())
	r := NewHealthzRegistry(clk)
	name := HealthzCheckName("testHeartbeatCheck")
	r.RegisterHeartbeatCheck(name, 2*time.Second)

	results, healthy := r.CheckHealthz()
	assert.False(t, healthy)
	assert.Equal(t, HealthzCheckStateUnknown, results[name].State)

	r.UpdateHealthzStateByError(name, nil)
	results, healthy = r.CheckHealthz()
	assert.True(t, healthy)
	assert.Equal(t, HealthzCheckStateReady, results[name].State)

	// timeout
	clk.Step(3 * time.Second)
	results, healthy = r.CheckHealthz()
	assert.False(t, healthy)
	assert.Equal(t, HealthzCheckStateNotReady, results[name].State)

	// updated with error
	r.UpdateHealthzStateByError(name, fmt.Errorf("read stat failed"))
	results, healthy = r.CheckHealthz()
	assert.False(t, healthy)
	assert.Equal(t, "read stat failed", results[name].Message)

	// recover
	r.UpdateHealthzStateByError(name, nil)
	_, healthy = r.CheckHealthz()
	assert.True(t, healthy)

	// unknown names are ignored
	r.UpdateHealthzStateByError("unknown", nil)
	results, _ = r.CheckHealthz()
	assert.Len(t, results, 1)
}
