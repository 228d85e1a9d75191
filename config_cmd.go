package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bosley/scorequeue/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return config.Dump(viper.GetViper(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
