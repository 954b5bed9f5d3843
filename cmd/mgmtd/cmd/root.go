package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/mgmtd/internal/config"
)

// Version is set at build time with -ldflags "-X".
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mgmtd",
	Short: "mgmtd is the management daemon of the mail appliance",
	Long: `Management daemon serving the administrative HTTP API.
The user and audit commands talk to a running server using the system key.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to the TOML config file (default "+config.DefaultPath+" if present)")
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.LoadDefault()
	}
	return config.Load(configPath)
}
