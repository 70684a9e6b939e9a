// Command messaged serves the OIDC-protected message API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "messaged",
		Short:         "OIDC-protected message service",
		Long:          `messaged verifies bearer tokens issued by an OpenID Connect provider and greets the logged-in user.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("MESSAGED_CONFIG"),
		"Path to a YAML or JSON configuration file (env: MESSAGED_CONFIG)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}
