package cmd

import (
	"github.com/spf13/cobra"
)

var clientFlags struct {
	url      string
	insecure bool
}

// addClientFlags registers the flags shared by commands that call the
// running server.
func addClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&clientFlags.url, "url", "", "Base URL of the API (default derived from the config)")
	cmd.PersistentFlags().BoolVar(&clientFlags.insecure, "insecure", false, "Skip TLS certificate verification")
}

func clientFromConfig() (*apiClient, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newAPIClient(cfg, clientFlags.url, clientFlags.insecure)
}
