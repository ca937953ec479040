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

package generic

import (
	"github.com/kubewharf/katalyst-governor/pkg/util/general"
)

// GenericConfiguration stores the configurations shared by every
// component of the governor binary.
type GenericConfiguration struct {
	DryRun             bool
	EnableHealthzCheck bool

	// GenericEndpoint serves tunables, display triggers, metrics and healthz.
	GenericEndpoint             string
	GenericEndpointHandleChains []string
	// HTTPRateLimit is the number of mutating requests per second allowed
	// for one remote host; HTTPBurst is its bucket size.
	HTTPRateLimit float64
	HTTPBurst     int

	*LogConfiguration
	*MetricsConfiguration
}

type LogConfiguration struct {
	LogPackageLevel general.LoggingPKG
}

type MetricsConfiguration struct {
	// MetricsNamespace prefixes every prometheus metric name.
	MetricsNamespace string
}

func NewGenericConfiguration() *GenericConfiguration {
	return &GenericConfiguration{
		LogConfiguration:     &LogConfiguration{},
		MetricsConfiguration: &MetricsConfiguration{},
	}
}
