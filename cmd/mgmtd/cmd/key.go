package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "System key tools",
}

var keyPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the location of the system key file",
	Long: `Print the location of the system key file. Local tools authenticate by
sending its contents as "Authorization: Bearer <key>".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cfg.KeyPath)
		return nil
	},
}

func init() {
	keyCmd.AddCommand(keyPathCmd)
	rootCmd.AddCommand(keyCmd)
}
