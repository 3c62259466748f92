package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iMAGRAY/shelldone/internal/config"
	"github.com/iMAGRAY/shelldone/internal/daemon"
	"github.com/iMAGRAY/shelldone/internal/logger"
	"github.com/iMAGRAY/shelldone/internal/sandbox"
)

func main() {
	root := &cobra.Command{
		Use:   "shelldoned",
		Short: "sandboxed agent command daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			return daemon.Run(cfg, logger.Log)
		},
	}

	root.Flags().String("config", "/etc/shelldoned/config.yaml", "path to the daemon config file")

	root.AddCommand(denyInitCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// denyInitCommand re-execs the binary as the sandbox wrapper the Linux
// backend uses to apply deny-path mounts before dropping into the agent's
// command (internal/sandbox.DenyInit).
func denyInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:                "_deny_init",
		Hidden:             true,
		DisableFlagParsing: true,
		Run: func(cmd *cobra.Command, args []string) {
			sandbox.DenyInit(args)
		},
	}
}
