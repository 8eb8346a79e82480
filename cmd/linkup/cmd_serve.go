package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/linkup/internal/alert"
	"github.com/user/linkup/internal/bus"
	"github.com/user/linkup/internal/engine"
	"github.com/user/linkup/internal/events"
	"github.com/user/linkup/internal/handlers"
	"github.com/user/linkup/internal/mail"
	"github.com/user/linkup/internal/push"
	"github.com/user/linkup/internal/state"
	"github.com/user/linkup/internal/types"
	"github.com/user/linkup/internal/web"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the linkup daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "linkup.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Write PID file
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Stores
	runs := state.NewRunStore(cfg.DataDir)
	users := state.NewUserStore(cfg.DataDir)
	messages := state.NewMessageStore(cfg.DataDir)
	connections := state.NewConnectionStore(cfg.DataDir)
	stories := state.NewStoryStore(cfg.DataDir)

	// Mailer
	var mailer types.Mailer
	if cfg.SMTP.Host != "" {
		mailer = mail.NewSMTP(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Pass, cfg.SMTP.From)
	} else {
		mailer = mail.NewRecorder()
		slog.Warn("smtp disabled (no host); recording outbound mail in memory")
	}

	// Event mirror
	var mirror events.Publisher
	if cfg.NATS.URL != "" {
		mirror, err = events.NewNATSPublisher(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect event mirror: %w", err)
		}
		slog.Info("event mirror enabled", "url", cfg.NATS.URL)
	} else {
		mirror = events.NewNoopPublisher()
	}
	defer mirror.Close()

	// Engine
	engOpts := []engine.Option{
		engine.WithRetryPolicy(&engine.RetryPolicy{
			MaxAttempts:  cfg.Engine.MaxAttempts,
			InitialDelay: cfg.InitialBackoff(),
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
		}),
	}
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		alerter, err := alert.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return fmt.Errorf("create telegram alerter: %w", err)
		}
		engOpts = append(engOpts, engine.WithOnFailed(alerter.RunFailed))
		slog.Info("dead-letter telegram alerts enabled", "chat_id", cfg.Telegram.ChatID)
	}
	eng := engine.New(runs, int64(cfg.MaxConcurrent), engOpts...)

	// Bus + workflows
	b := bus.New(mirror)
	handlers.Wire(b, eng, handlers.Deps{
		Users:       users,
		Messages:    messages,
		Connections: connections,
		Stories:     stories,
		Mailer:      mailer,
		FrontendURL: cfg.FrontendURL,
	})
	if err := b.RegisterCron(cfg.Engine.DigestCron, types.KindUnseenDigest); err != nil {
		return fmt.Errorf("register digest cron: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng.Start(ctx)
	defer eng.Stop()
	b.Start(ctx)
	defer b.Stop()

	resumer := engine.NewResumer(eng, cfg.ResumePoll())
	resumer.Start(ctx)
	defer resumer.Stop()

	// Push registry
	registry := push.NewRegistry(0)
	defer registry.CloseAll()
	dispatcher := push.NewDispatcher(registry)

	slog.Info("linkup started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"resume_poll", cfg.ResumePoll(),
		"digest_cron", cfg.Engine.DigestCron,
		"pid_file", pidPath,
	)

	// HTTP server
	if cfg.HTTP.Enabled {
		webSrv := web.NewServer(b, registry, dispatcher, runs, messages)
		httpServer := &http.Server{
			Addr:    cfg.HTTP.Listen,
			Handler: webSrv,
		}
		go func() {
			slog.Info("http server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("http server error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			httpServer.Close()
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
