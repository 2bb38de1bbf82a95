/*
Copyright 2025 The llm-d Authors

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

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/llm-d/llm-d-core-autoscaler/internal/config"
	"github.com/llm-d/llm-d-core-autoscaler/internal/probe"
)

func newProbeCommand(v *viper.Viper, _ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe host:port",
		Short: "Sample the load average of one server once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := config.ParseServerAddress(args[0])
			if err != nil {
				return err
			}
			config.SetDefaults(v)
			config.BindEnv(v)
			p := probe.New(v.GetDuration("probe.dialTimeout"), v.GetDuration("probe.readTimeout"))

			load, err := p.Sample(commandContext(cmd), target.Address, target.Port)
			if err != nil {
				return fmt.Errorf("%s: %w", probe.KindOf(err), err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s load=%.2f\n", target.String(), load)
			return nil
		},
	}
}
