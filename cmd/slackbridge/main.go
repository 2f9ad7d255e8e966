package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slackbridge/internal/bus"
	"slackbridge/internal/config"
	"slackbridge/internal/metrics"
	"slackbridge/internal/registry"
	slackadapter "slackbridge/internal/slack"
	"slackbridge/internal/store"

	"github.com/spf13/cobra"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "slackbridge",
		Short: "slackbridge: Slack channel adapter for agent pipelines",
		Long:  "slackbridge connects a Slack workspace to a message pipeline over Socket Mode,\nwith ordered rate-limited delivery and catch-up after disconnects.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.slackbridge/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(doctorCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			for _, dir := range []string{
				config.ExpandPath(cfg.General.DataDir),
				config.ExpandPath(cfg.Attachments.Dir),
				config.ExpandPath(cfg.Registry.Dir),
			} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			logger.Info("initialized", "config", cfgPath)
			logger.Info("export SLACK_BOT_TOKEN and SLACK_APP_TOKEN, then add conversations to the registry directory")
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Slack and bridge messages",
		Long:  "Connects over Socket Mode, delivers normalized messages to the pipeline,\nand flushes queued outbound messages. Press Ctrl+C to stop.",
		RunE:  runBridge,
	}
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.General.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metaStore, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return err
	}
	defer metaStore.Close()

	reg, err := registry.LoadFromDirectory(cfg.Registry.Dir, logger)
	if err != nil {
		return err
	}

	pipeline := bus.New(100, logger)
	defer pipeline.Close()

	adapter, err := slackadapter.New(slackadapter.Options{
		Config: slackadapter.Config{
			BotToken:          cfg.Slack.BotToken,
			AppToken:          cfg.Slack.AppToken,
			AttachmentDir:     cfg.Attachments.Dir,
			MaxFileSize:       cfg.Attachments.MaxSizeBytes,
			FileTTL:           time.Duration(cfg.Attachments.TTLDays) * 24 * time.Hour,
			SweepInterval:     time.Duration(cfg.Attachments.SweepIntervalMinutes) * time.Minute,
			SendRatePerMinute: cfg.Outbound.RatePerMinute,
			SendBurst:         cfg.Outbound.Burst,
			CatchUpWindow:     time.Duration(cfg.CatchUp.WindowHours) * time.Hour,
		},
		Registry: reg,
		Pipeline: pipeline,
		Store:    metaStore,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/metrics", metrics.Collector.Handler())
			logger.Info("metrics listening", "addr", cfg.Metrics.Listen)
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	if err := adapter.Connect(ctx); err != nil {
		return err
	}

	// Drain the pipeline. A real host would hand deliveries to its agent
	// loop; standalone, the bridge logs them.
	go func() {
		for d := range pipeline.Messages() {
			logger.Info("message",
				"conversation", d.ConversationID,
				"id", d.Message.ID,
				"sender", d.Message.SenderName,
				"thread", d.Message.ThreadKey,
				"reaction", d.Message.Reaction,
				"attachments", len(d.Message.Attachments),
			)
		}
	}()
	go func() {
		for del := range pipeline.Deletions() {
			logger.Info("message deleted", "conversation", del.ConversationID, "id", del.ID)
		}
	}()

	logger.Info("bridge started. Press Ctrl+C to stop.")
	<-ctx.Done()
	logger.Info("shutting down...")
	return adapter.Disconnect()
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
