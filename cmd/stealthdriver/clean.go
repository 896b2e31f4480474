package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func (c *CLI) newCleanCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stale driver instances and leftover downloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.newSession(cmd)
			if err != nil {
				return err
			}
			p := s.provisioner
			out := cmd.OutOrStdout()

			reaped, err := p.Issuer().ReapStale(cmd.Context(), false)
			if err != nil {
				return fmt.Errorf("reap instances: %w", err)
			}

			temps, err := p.Cache().CleanupTemp(time.Now())
			if err != nil {
				return fmt.Errorf("clean temp files: %w", err)
			}

			fmt.Fprintf(out, "removed %d stale instance(s) and %d temp file(s)\n", reaped.Removed, temps)

			if !all {
				return nil
			}
			if err := p.Cache().Purge(cmd.Context()); err != nil {
				return fmt.Errorf("purge base driver: %w", err)
			}
			fmt.Fprintln(out, "removed cached base driver")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Also remove the cached base driver and its version record")

	return cmd
}
