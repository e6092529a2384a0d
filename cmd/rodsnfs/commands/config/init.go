package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/rodsnfs/pkg/config"
)

var force bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.InitConfig(ConfigFile(), force)
		if err != nil {
			return err
		}
		cmd.Printf("Configuration file created at: %s\n", path)
		cmd.Println("\nNext steps:")
		cmd.Println("  1. Set server.port, server.mount_point and remote.proxy_admin")
		cmd.Println("  2. Start the gateway with: rodsnfs serve")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing configuration file")
}
