package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/driver"
)

// statusReport is the cache state printed by the status command.
type statusReport struct {
	CacheRoot   string                `yaml:"cache_root"`
	Target      string                `yaml:"target"`
	Caching     string                `yaml:"caching"`
	BasePath    string                `yaml:"base_path"`
	BasePresent bool                  `yaml:"base_present"`
	BasePatched bool                  `yaml:"base_patched"`
	Version     string                `yaml:"version,omitempty"`
	Digest      string                `yaml:"digest,omitempty"`
	Instances   []driver.InstanceInfo `yaml:"instances"`
}

func (c *CLI) newStatusCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the cached driver and its instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkOutputFormat(output); err != nil {
				return err
			}

			s, err := c.newSession(cmd)
			if err != nil {
				return err
			}

			report, err := buildStatus(cmd, s)
			if err != nil {
				return err
			}

			if output == "yaml" {
				return writeYAML(cmd.OutOrStdout(), report)
			}
			return writeStatusText(cmd.OutOrStdout(), report)
		},
	}

	addOutputFlag(cmd, &output)

	return cmd
}

func buildStatus(cmd *cobra.Command, s *session) (*statusReport, error) {
	p := s.provisioner
	cache := p.Cache()

	report := &statusReport{
		CacheRoot: s.cfg.CacheRoot,
		Target:    s.target.String(),
		Caching:   s.cfg.Caching,
		BasePath:  cache.BasePath(),
		Instances: []driver.InstanceInfo{},
	}

	if version, ok := cache.RecordedVersion(); ok {
		report.Version = version.String()
	}

	if digest, err := cache.Digest(); err == nil {
		report.BasePresent = true
		report.Digest = digest
		report.BasePatched = p.IsPatched(cache.BasePath())
	}

	instances, err := p.Issuer().List(cmd.Context())
	if err != nil {
		return nil, err
	}
	if instances != nil {
		report.Instances = instances
	}

	return report, nil
}

func writeStatusText(w io.Writer, r *statusReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "cache root:\t%s\n", r.CacheRoot)
	fmt.Fprintf(tw, "target:\t%s\n", r.Target)
	fmt.Fprintf(tw, "caching:\t%s\n", r.Caching)

	if r.BasePresent {
		version := r.Version
		if version == "" {
			version = "unrecorded"
		}
		fmt.Fprintf(tw, "base driver:\t%s (version %s, patched %t, digest %s)\n", r.BasePath, version, r.BasePatched, r.Digest)
	} else {
		fmt.Fprintf(tw, "base driver:\tnot provisioned\n")
	}

	fmt.Fprintf(tw, "instances:\t%d\n", len(r.Instances))
	for _, in := range r.Instances {
		state := "idle"
		switch {
		case in.Running:
			state = "running"
		case in.Live:
			state = "live"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", in.Path, state, in.Modified.Format(time.RFC3339))
	}

	return tw.Flush()
}
