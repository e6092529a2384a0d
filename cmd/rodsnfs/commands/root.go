// Package commands implements the rodsnfs command line.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/rodsnfs/cmd/rodsnfs/commands/config"
	"github.com/marmos91/rodsnfs/internal/logger"
	pkgconfig "github.com/marmos91/rodsnfs/pkg/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "rodsnfs",
	Short: "NFS gateway for a remote data grid",
	Long: `rodsnfs exports a collection of a remote data grid over NFSv3.

Local uids are mapped to remote accounts through the passwd database and
every operation runs as the mapped account through a proxy admin session.

Use "rodsnfs [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/rodsnfs/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (DEBUG, INFO, WARN, ERROR)")

	config.ConfigFile = func() string { return cfgFile }

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(lsCmd, statCmd, getfaclCmd, catCmd, putCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("rodsnfs %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

// loadConfig loads the configuration and initializes the logger from it.
func loadConfig() (*pkgconfig.Config, error) {
	cfg, err := pkgconfig.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func getConfigSource() string {
	if cfgFile != "" {
		return cfgFile
	}
	return pkgconfig.GetDefaultConfigPath()
}
