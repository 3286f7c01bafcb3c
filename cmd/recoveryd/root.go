package main

import (
	"github.com/spf13/cobra"

	"github.com/socialrecovery/recovery-node/recoveryNode/constant"
)

var (
	homeFlag   string
	configFlag string
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "recoveryd",
		Short:         "Social Recovery Module node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", constant.DefaultNodeHome, "node home directory")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default <home>/config/recovery_config.json)")

	InitRootCmd(rootCmd) // add subcommands like `start` and `version`

	return rootCmd
}
