package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func (c *CLI) newStatsCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show driver and browser process counts and memory usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkOutputFormat(output); err != nil {
				return err
			}
			if c.deps.procs == nil {
				return fmt.Errorf("process inspection unavailable")
			}

			s, err := c.newSession(cmd)
			if err != nil {
				return err
			}

			// Instances run under random names, so count them by file name
			// next to the stock executable name.
			names := []string{s.target.ExecutableName()}
			instances, err := s.provisioner.Issuer().List(cmd.Context())
			if err != nil {
				return err
			}
			for _, in := range instances {
				names = append(names, filepath.Base(in.Path))
			}

			snap, err := c.deps.procs.Snapshot(cmd.Context(), names...)
			if err != nil {
				return fmt.Errorf("collect stats: %w", err)
			}

			if output == "yaml" {
				return writeYAML(cmd.OutOrStdout(), snap)
			}
			fmt.Fprintln(cmd.OutOrStdout(), snap.String())
			return nil
		},
	}

	addOutputFlag(cmd, &output)

	return cmd
}
