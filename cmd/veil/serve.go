package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"veil/internal/config"
	"veil/internal/daemon"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API in the foreground",
		RunE:  runServe,
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagAddr != "" {
		cfg.ListenAddr = flagAddr
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if flagConfig == "" {
		if path, err := config.ConfigPath(); err == nil {
			_ = config.EnsureConfigDir(path)
		}
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	svc, err := daemon.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}
