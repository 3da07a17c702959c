package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vuuvv/vdissect"
)

var protocolsCmd = &cobra.Command{
	Use:   "protocols",
	Short: "List the registered dissectors",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := vdissect.NewRegistry()
		if err != nil {
			return err
		}
		if cfg != nil {
			if err = cfg.Apply(reg); err != nil {
				return err
			}
		}
		for _, name := range reg.Protocols() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}
