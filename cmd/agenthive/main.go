package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"AgentHive/internal/config"
	"AgentHive/pkg/logger"
)

const (
	configEnv         = "AGENTHIVE_CONFIG"
	defaultConfigPath = "configs/agenthive.yaml"
)

// main 是 AgentHive 的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "agenthive",
		Short:         "Hierarchical AI agent organisation",
		Long:          "AgentHive runs a CEO agent that hires subordinate agents, delegates work to them and remembers everything said and done.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd, configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config (default $"+configEnv+" or "+defaultConfigPath+")")

	root.AddCommand(&cobra.Command{
		Use:   "chat",
		Short: "Chat with the CEO agent on the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd, configPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, configPath)
		},
	})
	return root
}

// loadConfig 按 flag、环境变量、默认路径的顺序查找配置。默认路径不存在时使用内置默认值。
func loadConfig(flagPath string) (*config.Config, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat(defaultConfigPath); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return config.Load(filepath.Clean(defaultConfigPath))
}

func initLogger(cfg *config.Config) error {
	err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
		},
	})
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	return nil
}
