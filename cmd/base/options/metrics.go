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
	"fmt"
	"regexp"

	"github.com/spf13/pflag"

	"github.com/kubewharf/katalyst-governor/pkg/config/generic"
)

var metricsNamespaceRegexp = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type MetricsOptions struct {
	MetricsNamespace string
}

func NewMetricsOptions() *MetricsOptions {
	return &MetricsOptions{
		MetricsNamespace: "katalyst_governor",
	}
}

// AddFlags adds flags  to the specified FlagSet.
func (o *MetricsOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.MetricsNamespace, "metrics-namespace",
		o.MetricsNamespace, "the namespace prefixed to every prometheus metric")
}

func (o *MetricsOptions) ApplyTo(c *generic.MetricsConfiguration) error {
	if !metricsNamespaceRegexp.MatchString(o.MetricsNamespace) {
		return fmt.Errorf("invalid metrics namespace %q", o.MetricsNamespace)
	}
	c.MetricsNamespace = o.MetricsNamespace
	return nil
}
