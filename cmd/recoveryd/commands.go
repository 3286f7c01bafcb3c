package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/socialrecovery/recovery-node/recoveryNode/config"
	"github.com/socialrecovery/recovery-node/recoveryNode/constant"
	"github.com/socialrecovery/recovery-node/recoveryNode/core"
	"github.com/socialrecovery/recovery-node/recoveryNode/logger"
)

// Set with -ldflags "-X main.Version=... -X main.Commit=...".
var (
	Version = "dev"
	Commit  = "unknown"
)

func InitRootCmd(rootCmd *cobra.Command) {
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(versionCmd())
}

func loadConfig() (*config.Config, error) {
	if configFlag != "" {
		cfg, err := config.Load(configFlag)
		if err != nil {
			return nil, err
		}
		if cfg.NodeHome == "" {
			cfg.NodeHome = homeFlag
		}
		return cfg, nil
	}
	return config.LoadFromHome(homeFlag)
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the recovery node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log := logger.Init(*cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			node, err := core.NewFromConfig(cfg, log)
			if err != nil {
				return fmt.Errorf("failed to initialize node: %w", err)
			}
			return node.Start(ctx)
		},
	}
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to <home>/config",
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile := filepath.Join(homeFlag, constant.ConfigSubdir, constant.ConfigFileName)
			if _, err := os.Stat(configFile); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", configFile)
			}

			cfg, err := config.LoadDefaultConfig()
			if err != nil {
				return err
			}
			if err := config.Save(cfg, homeFlag); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "📝 Wrote default config to %s\n", configFile)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print recoveryd version info",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:       %s\n", "recoveryd")
			fmt.Fprintf(out, "Version:    %s\n", Version)
			fmt.Fprintf(out, "Commit:     %s\n", Commit)
			fmt.Fprintf(out, "Go:         %s\n", runtime.Version())
		},
	}
}
