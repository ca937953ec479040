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

package options

import (
	"flag"
	"os"

	"k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/klog/v2"

	"github.com/kubewharf/katalyst-governor/pkg/config/generic"
	"github.com/kubewharf/katalyst-governor/pkg/util/process"
)

// GenericOptions holds the configurations for multi components.
type GenericOptions struct {
	DryRun             bool
	EnableHealthzCheck bool

	GenericEndpoint             string
	GenericEndpointHandleChains []string
	HTTPRateLimit               float64
	HTTPBurst                   int

	metricsOptions *MetricsOptions
	logsOptions    *LogsOptions
}

func NewGenericOptions() *GenericOptions {
	return &GenericOptions{
		DryRun:             false,
		EnableHealthzCheck: true,
		GenericEndpoint:    ":9316",
		HTTPRateLimit:      5,
		HTTPBurst:          10,
		metricsOptions:     NewMetricsOptions(),
		logsOptions:        NewLogsOptions(),
		GenericEndpointHandleChains: []string{
			process.HTTPChainRateLimiter, process.HTTPChainMonitor,
		},
	}
}

// AddFlags adds flags  to the specified FlagSet.
func (o *GenericOptions) AddFlags(fss *cliflag.NamedFlagSets) {
	fs := fss.FlagSet("generic")

	local := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	klog.InitFlags(local)
	local.VisitAll(func(fl *flag.Flag) {
		fs.AddGoFlag(fl)
	})

	fs.BoolVar(&o.DryRun, "dry-run", o.DryRun,
		"A bool to enable and disable dry-run; core and frequency writes are kept in memory.")
	fs.BoolVar(&o.EnableHealthzCheck, "enable-healthz-check", o.EnableHealthzCheck, "A bool to enable and disable healthz check.")

	fs.StringVar(&o.GenericEndpoint, "generic-endpoint", o.GenericEndpoint,
		"the endpoint of generic purpose, which will use as tunables surface, prometheus and health check")
	fs.StringSliceVar(&o.GenericEndpointHandleChains, "generic-handler-chains", o.GenericEndpointHandleChains,
		"this flag defines the handler chains that should be enabled")
	fs.Float64Var(&o.HTTPRateLimit, "generic-endpoint-rate-limit", o.HTTPRateLimit,
		"mutating requests per second allowed for one remote host")
	fs.IntVar(&o.HTTPBurst, "generic-endpoint-burst", o.HTTPBurst,
		"burst of mutating requests allowed for one remote host")

	o.metricsOptions.AddFlags(fs)
	o.logsOptions.AddFlags(fs)
}

// ApplyTo fills up config with options
func (o *GenericOptions) ApplyTo(c *generic.GenericConfiguration) error {
	c.DryRun = o.DryRun
	c.EnableHealthzCheck = o.EnableHealthzCheck

	c.GenericEndpoint = o.GenericEndpoint
	c.GenericEndpointHandleChains = o.GenericEndpointHandleChains
	c.HTTPRateLimit = o.HTTPRateLimit
	c.HTTPBurst = o.HTTPBurst

	errList := make([]error, 0, 2)
	errList = append(errList, o.metricsOptions.ApplyTo(c.MetricsConfiguration))
	errList = append(errList, o.logsOptions.ApplyTo(c.LogConfiguration))

	return errors.NewAggregate(errList)
}
