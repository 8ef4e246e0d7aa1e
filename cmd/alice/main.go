package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/comigor/alice-go/internal/config"
	"github.com/comigor/alice-go/internal/logger"
)

var version = "dev"

var (
	configPath string
	logLevel   string
	logCloser  io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "alice",
	Short: "alice - voice and chat assistant",
	Long: `alice chats with an Ollama-compatible server or a local offline model,
keeps every conversation in a local history database and can speak replies
through a text-to-speech server.

Run without arguments to start the interactive chat.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if configPath != "" {
			if err := os.Setenv("CONFIG_PATH", configPath); err != nil {
				return err
			}
		}
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		level := cfg.Log.Level
		if logLevel != "" {
			level = logLevel
		}
		// Only the server logs to stdout; the other commands print results there.
		console := cmd.Annotations["logs"] == "console"
		logCloser = logger.Setup(logger.Options{Level: level, File: cfg.Log.File, Console: console})
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
	RunE: runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config.yaml or ~/.alice/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(chatCmd, askCmd, serveCmd, mcpCmd, modelsCmd, sessionsCmd, settingsCmd, sayCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
