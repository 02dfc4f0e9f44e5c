package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"zapgem/internal/agent"
	"zapgem/internal/bus"
	"zapgem/internal/config"
	"zapgem/internal/gateway"
	"zapgem/internal/history"
	"zapgem/internal/media"
	"zapgem/internal/provider"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "zapgem",
		Short: "zapgem: WhatsApp to Gemini reply bridge",
		Long:  "zapgem receives Evolution API webhooks and replies through Gemini, with voice message transcription.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.zapgem/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(daemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config directory with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			logger.Info("fill in gateway.apiKey, gateway.instance, and gemini.apiKey before running serve")
			return nil
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server and reply pipeline",
		Long:  "Listens for Evolution API webhooks and replies to incoming messages. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = setupLogger(cfg.General)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)
	defer messageBus.Close()

	client := gateway.NewClient(gateway.ClientConfig{
		BaseURL:  cfg.Gateway.BaseURL,
		APIKey:   cfg.Gateway.APIKey,
		Instance: cfg.Gateway.Instance,
		PageSize: cfg.History.PageSize,
		Logger:   logger,
	})

	persona, err := config.LoadPersona(cfg.Gemini.PersonaFile)
	if err != nil {
		return fmt.Errorf("load persona: %w", err)
	}
	if persona != nil {
		logger.Info("persona loaded", "name", persona.Name)
	}

	generator, err := provider.NewGemini(ctx, provider.GeminiConfig{
		APIKey:  cfg.Gemini.APIKey,
		Model:   cfg.Gemini.Model,
		Persona: persona.Instruction(),
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("gemini client: %w", err)
	}

	transcoder := media.New(media.Config{
		Gateway:    client,
		Dir:        cfg.Audio.TempDir,
		FFmpegPath: cfg.Audio.FFmpegPath,
		Workers:    cfg.Audio.Workers,
		Logger:     logger,
	})
	if err := transcoder.Probe(ctx); err != nil {
		return fmt.Errorf("transcoder probe: %w", err)
	}

	pipelineCfg := agent.PipelineConfig{
		Bus:        messageBus,
		Gateway:    client,
		Generator:  generator,
		Transcoder: transcoder,
		Historian: history.NewAssembler(history.AssemblerConfig{
			Gateway:  client,
			MaxPages: cfg.History.MaxPages,
			Logger:   logger,
		}),
		TargetJID: cfg.Gateway.TargetJID,
		Logger:    logger,
	}

	if cfg.History.DBPath != "" {
		archive, err := history.NewArchive(cfg.History.DBPath, logger)
		if err != nil {
			return fmt.Errorf("history archive: %w", err)
		}
		defer archive.Close()
		pipelineCfg.Archive = archive
	}

	pipeline := agent.NewPipeline(pipelineCfg)
	go pipeline.Run(ctx)

	webhook := gateway.NewWebhook(gateway.WebhookConfig{
		Port:   cfg.Gateway.WebhookPort,
		Path:   cfg.Gateway.WebhookPath,
		Logger: logger,
	})

	logger.Info("zapgem started",
		"version", version,
		"webhook_port", cfg.Gateway.WebhookPort,
		"instance", cfg.Gateway.Instance,
	)
	return webhook.Start(ctx, messageBus)
}

// setupLogger builds the process logger from config: level from logLevel,
// destination from logFile when set, stderr otherwise.
func setupLogger(cfg config.GeneralConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := os.Stderr
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err == nil {
			if f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
				out = f
			}
		}
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			redacted := *cfg
			if redacted.Gateway.APIKey != "" {
				redacted.Gateway.APIKey = "***"
			}
			if redacted.Gemini.APIKey != "" {
				redacted.Gemini.APIKey = "***"
			}
			data, _ := json.MarshalIndent(redacted, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
