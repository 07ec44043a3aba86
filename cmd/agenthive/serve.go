package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"AgentHive/internal/api"
)

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := initLogger(cfg); err != nil {
		return err
	}

	ctx := cmd.Context()
	app, err := buildApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	err = api.NewServer(cfg.Server.Address, app.hive).Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
