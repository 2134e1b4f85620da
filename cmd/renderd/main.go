package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"renderd/internal/config"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "renderd",
		Short:         "Video generation job orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to config file (.yaml/.json/.toml)")
	root.PersistentFlags().String("addr", "", "HTTP listen address, e.g. :8080")
	root.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, newLogger(cfg.LogLevel))
		},
	}
	worker := &cobra.Command{
		Use:   "worker",
		Short: "Run the render worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), cfg, newLogger(cfg.LogLevel))
		},
	}
	root.AddCommand(serve, worker)
	return root
}

// resolveConfig layers flag > env > file, with code defaults last.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("RENDERD_CONFIG")
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = loaded
	}

	applyEnv(&cfg.Addr, "RENDERD_ADDR")
	applyEnv(&cfg.DatabaseURL, "DATABASE_URL")
	applyEnv(&cfg.RedisURL, "REDIS_URL")
	applyEnv(&cfg.AMQPURL, "AMQP_URL")
	applyEnv(&cfg.OutputDir, "RENDERD_OUTPUT_DIR")
	applyEnv(&cfg.ModelsFile, "RENDERD_MODELS_FILE")
	applyEnv(&cfg.GPU.ServerURL, "GPU_SERVER_URL")
	applyEnv(&cfg.GPU.APIKey, "GPU_API_KEY")
	applyEnv(&cfg.LogLevel, "RENDERD_LOG_LEVEL")
	if v := os.Getenv("RENDERD_ALLOWED_ORIGINS"); v != "" && len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = strings.Split(v, ",")
	}

	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		cfg.Addr = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}

	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "outputs"
	}
	if cfg.VRAMBudgetGB == 0 {
		cfg.VRAMBudgetGB = 24
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	return cfg, cfg.Validate()
}

func applyEnv(dst *string, key string) {
	if *dst == "" {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
