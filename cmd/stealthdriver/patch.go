package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/stealthdriver/internal/driver"
)

func (c *CLI) newPatchCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "patch PATH",
		Short: "Patch a driver binary in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			patcher := driver.NewPatcher()
			out := cmd.OutOrStdout()

			if check {
				if !patcher.IsPatched(path) {
					return fmt.Errorf("%s is not patched", path)
				}
				fmt.Fprintf(out, "%s is patched\n", path)
				return nil
			}

			changed, err := patcher.Patch(path)
			if err != nil {
				return fmt.Errorf("patch %s: %w", path, err)
			}
			switch {
			case changed:
				fmt.Fprintf(out, "patched %s\n", path)
			case patcher.IsPatched(path):
				fmt.Fprintf(out, "%s already patched\n", path)
			default:
				return fmt.Errorf("%s has no detection block to patch", path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Only report whether the binary is patched")

	return cmd
}
