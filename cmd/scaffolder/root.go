package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cschleiden/go-scaffolder/internal/config"
)

type app struct {
	configFile string
	envFile    string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "scaffolder",
		Short:         "Run and manage scaffolder tasks",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configFile, a.envFile)
			if err != nil {
				return err
			}

			a.cfg = cfg
			a.logger = newLogger(cfg.Log)
			slog.SetDefault(a.logger)

			return nil
		},
	}

	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "config file path")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file with SCAFFOLDER_ variables")

	root.AddCommand(
		newWorkerCommand(a),
		newDispatchCommand(a),
		newStatusCommand(a),
		newCancelCommand(a),
	)

	return root
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}

	return nil
}
