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
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cliflag "k8s.io/component-base/cli/flag"
)

func parse(t *testing.T, args ...string) *Options {
	opt := NewOptions()
	fss := &cliflag.NamedFlagSets{}
	opt.AddFlags(fss)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	for _, f := range fss.FlagSets {
		fs.AddFlagSet(f)
	}
	require.NoError(t, fs.Parse(args))
	return opt
}

func TestConfig(t *testing.T) {
	t.Parallel()

	opt := parse(t,
		"--dry-run",
		"--num-cores=4",
		"--profile-file=/etc/governor/profile.yaml",
		"--watch-profile",
		"--display-state-file=/run/display",
		"--healthz-timeout=30s",
		"--generic-endpoint=127.0.0.1:9000",
		"--metrics-namespace=governor",
	)
	conf, err := opt.Config()
	require.NoError(t, err)

	assert.True(t, conf.DryRun)
	assert.Equal(t, 4, conf.NumCores)
	assert.Equal(t, "/etc/governor/profile.yaml", conf.ProfileFile)
	assert.True(t, conf.WatchProfile)
	assert.Equal(t, "/run/display", conf.DisplayStateFile)
	assert.Equal(t, 30*time.Second, conf.HealthzTimeout)
	assert.Equal(t, "127.0.0.1:9000", conf.GenericEndpoint)
	assert.Equal(t, "governor", conf.MetricsNamespace)
	assert.Equal(t, "/sys", conf.SysRoot)
	assert.Equal(t, "/proc", conf.ProcRoot)
	assert.Equal(t, "scaling_setspeed", conf.FrequencyWriteFile)
}

func TestConfigInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{name: "negative cores", args: []string{"--num-cores=-1"}},
		{name: "watch without profile", args: []string{"--watch-profile"}},
		{name: "bad metrics namespace", args: []string{"--metrics-namespace=1-governor"}},
		{name: "empty lock file", args: []string{"--locking-file="}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := parse(t, tt.args...).Config()
			assert.Error(t, err)
		})
	}
}
