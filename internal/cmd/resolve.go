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
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/llm-d/llm-d-core-autoscaler/internal/config"
	"github.com/llm-d/llm-d-core-autoscaler/internal/resolver"
)

func newResolveCommand(v *viper.Viper, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Print the provider server behind each configured address and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, opts)
			if err != nil {
				return err
			}
			client, err := newProvider(cfg.Provider)
			if err != nil {
				return err
			}
			return resolveTargets(commandContext(cmd), cmd.OutOrStdout(), resolver.New(client,
				resolver.WithMaxTries(cfg.Resolve.MaxTries)), cfg.Servers)
		},
	}
}

// resolveTargets writes one row per target. Unresolved targets are listed
// with their reason; it fails only when nothing resolved.
func resolveTargets(ctx context.Context, out io.Writer, r *resolver.Resolver, targets []config.Target) error {
	resolved, unresolved, err := r.ResolveAll(ctx, targets)
	if err != nil && !errors.Is(err, resolver.ErrNoTargets) {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SERVER\tIP\tDATACENTER\tSERVER ID\tSTATUS")
	for _, t := range resolved {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\tresolved\n", t.String(), t.IP, t.DatacenterID, t.ServerID)
	}
	for _, u := range unresolved {
		_, _ = fmt.Fprintf(w, "%s\t-\t-\t-\t%v\n", u.String(), u.Err)
	}
	if ferr := w.Flush(); ferr != nil {
		return ferr
	}
	return err
}
