package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/rodsnfs/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(ConfigFile())
		if err != nil {
			return err
		}
		cmd.Printf("Configuration is valid (mount point %s, zone %s)\n", cfg.Server.MountPoint, cfg.Remote.Zone)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(ConfigFile())
		if err != nil {
			return err
		}
		if cfg.Remote.ProxyAdmin.Password != "" {
			cfg.Remote.ProxyAdmin.Password = "********"
		}
		for i := range cfg.Remote.Backend.Users {
			if cfg.Remote.Backend.Users[i].Password != "" {
				cfg.Remote.Backend.Users[i].Password = "********"
			}
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		cmd.Print(string(data))
		return nil
	},
}
