package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vuuvv/vdissect"
)

var (
	// Version information injected at build time.
	version = "dev"

	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "vdissect",
	Short: "vdissect - protocol dissection engine",
	Long: `vdissect decodes captured frames into annotated field trees.

Use "vdissect [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			vdissect.Setup()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "vdissect %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (decode_as, heuristics, framed protocols)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every dispatch to stderr")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(protocolsCmd)
}

// loadConfig returns nil when no config file was given.
func loadConfig() (*vdissect.Config, error) {
	if cfgFile == "" {
		return nil, nil
	}
	return vdissect.LoadConfig(cfgFile)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}
