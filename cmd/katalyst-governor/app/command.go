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

package app

import (
	"github.com/spf13/cobra"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/kubewharf/katalyst-governor/cmd/katalyst-governor/app/options"
)

// NewGovernorCommand creates a *cobra.Command object with default options.
func NewGovernorCommand() *cobra.Command {
	opt := options.NewOptions()
	fss := &cliflag.NamedFlagSets{}
	opt.AddFlags(fss)

	cmd := &cobra.Command{
		Use:   "katalyst-governor",
		Short: "katalyst-governor scales cpu frequency and online cores with the observed load",
		Long: `katalyst-governor samples the load of every core, picks the next frequency,
brings cores on and off line, and swaps to a sleep profile while the display
is off. Tunables are changed at run time through the generic endpoint or a
profile file.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := opt.Config()
			if err != nil {
				return err
			}
			return Run(conf)
		},
		Args: cobra.NoArgs,
	}

	fs := cmd.Flags()
	for _, f := range fss.FlagSets {
		fs.AddFlagSet(f)
	}
	cliflag.SetUsageAndHelpFunc(cmd, *fss, 0)
	return cmd
}
