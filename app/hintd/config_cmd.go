package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"github.com/yoockh/hintline/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cfg.Redacted())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
