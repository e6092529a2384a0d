// Package config implements the configuration subcommands.
package config

import (
	"github.com/spf13/cobra"
)

// ConfigFile returns the value of the root --config flag. It is set by the
// root command.
var ConfigFile = func() string { return "" }

// Cmd is the parent command for configuration management.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
	Long: `Create and check the rodsnfs configuration file.

Examples:
  # Write the default configuration
  rodsnfs config init

  # Check a configuration file
  rodsnfs config validate --config /etc/rodsnfs/config.yaml`,
}

func init() {
	Cmd.AddCommand(initCmd)
	Cmd.AddCommand(validateCmd)
	Cmd.AddCommand(showCmd)
}
