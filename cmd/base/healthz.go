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

package katalyst_base

import (
	"context"
	"time"

	"go.uber.org/atomic"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/kubewharf/katalyst-governor/pkg/metrics"
	"github.com/kubewharf/katalyst-governor/pkg/util/general"
)

const (
	syncPeriod              = 30 * time.Second
	MetricNameUnhealthyRule = "unhealthy_healthz_check_rule"
)

// HealthzChecker periodically checks the running states
type HealthzChecker struct {
	registry *general.HealthzRegistry
	// if unhealthyReason is none-empty, it means some check failed
	unhealthyReason *atomic.String
	emitter         metrics.MetricEmitter
}

func NewHealthzChecker(registry *general.HealthzRegistry, emitter metrics.MetricEmitter) *HealthzChecker {
	return &HealthzChecker{
		registry:        registry,
		unhealthyReason: atomic.NewString(""),
		emitter:         emitter,
	}
}

func (h *HealthzChecker) Run(ctx context.Context) {
	go wait.Until(h.check, syncPeriod, ctx.Done())
}

func (h *HealthzChecker) check() {
	results, healthy := h.registry.CheckHealthz()
	reason := ""
	for key, result := range results {
		if result.State != general.HealthzCheckStateReady {
			_ = h.emitter.StoreInt64(MetricNameUnhealthyRule, 1, metrics.MetricTypeNameRaw,
				metrics.MetricTag{Key: "rule", Val: string(key)})
			reason = string(key) + ": " + result.Message
		}
	}
	if !healthy && h.unhealthyReason.Load() != reason {
		general.Warningf("unhealthy: %v", reason)
	}
	h.unhealthyReason.Store(reason)
}

// UnhealthyReason is the last failing check seen by Run, empty if healthy.
func (h *HealthzChecker) UnhealthyReason() string {
	return h.unhealthyReason.Load()
}
