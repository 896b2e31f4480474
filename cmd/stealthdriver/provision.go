package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/driver"
)

type provisionFlags struct {
	version     string
	force       bool
	shared      bool
	executable  string
	hold        bool
	metricsFile string
}

func (c *CLI) newProvisionCmd() *cobra.Command {
	var f provisionFlags

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision a patched driver and print its path",
		Long: `Provision resolves the driver version the host needs, makes sure a patched
copy is cached and prints the path of a private instance of it.

The instance stays on disk after the command exits; "stealthdriver clean"
or the next provisioning pass removes it once no process runs it. With
--hold the command keeps the instance until it is interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}

			opts := driver.Options{
				Version: cfg.Version,
				Force:   cfg.Force,
				Shared:  cfg.Shared,
			}
			if cmd.Flags().Changed("version") {
				opts.Version = f.version
			}
			if cmd.Flags().Changed("force") {
				opts.Force = f.force
			}
			if cmd.Flags().Changed("shared") {
				opts.Shared = f.shared
			}
			opts.ExecutablePath = f.executable

			s, err := c.sessionFor(cmd, cfg)
			if err != nil {
				return err
			}

			inst, err := s.provisioner.Acquire(cmd.Context(), opts)
			if f.metricsFile != "" {
				if werr := prometheus.WriteToTextfile(f.metricsFile, prometheus.DefaultGatherer); werr != nil {
					s.log.Warn("write metrics failed", "path", f.metricsFile, "error", werr)
				}
			}
			if err != nil {
				return fmt.Errorf("provision driver: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), inst.Path)

			if !f.hold {
				return nil
			}

			s.log.Info("holding driver instance until interrupted", "path", inst.Path)
			<-cmd.Context().Done()
			inst.Release()
			return nil
		},
	}

	cmd.Flags().StringVar(&f.version, "version", "", `Driver version: a milestone ("120") or a full four-part version ("120.0.6099.109"); partial versions are rejected`)
	cmd.Flags().BoolVar(&f.force, "force", false, "Kill processes that hold a stale driver executable")
	cmd.Flags().BoolVar(&f.shared, "shared", false, "Reuse one driver instance across all processes")
	cmd.Flags().StringVar(&f.executable, "executable", "", "Use an existing driver binary instead of downloading one")
	cmd.Flags().BoolVar(&f.hold, "hold", false, "Keep the instance until interrupted, then remove it")
	cmd.Flags().StringVar(&f.metricsFile, "metrics-file", "", "Write provisioning counters to this file in Prometheus text format")

	return cmd
}
