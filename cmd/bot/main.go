package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mellanfrost/twitch-bot/internal/admin"
	"github.com/Mellanfrost/twitch-bot/internal/app"
	"github.com/Mellanfrost/twitch-bot/internal/auth"
	"github.com/Mellanfrost/twitch-bot/internal/credential"
	"github.com/Mellanfrost/twitch-bot/internal/eventsub"
	"github.com/Mellanfrost/twitch-bot/internal/platform/config"
	"github.com/Mellanfrost/twitch-bot/internal/platform/logging"
	"github.com/Mellanfrost/twitch-bot/internal/platform/retry"
	"github.com/Mellanfrost/twitch-bot/internal/twitch"
)

// defaultScopes are requested on every authorization, independent of
// which event registrations are active.
var defaultScopes = []string{"user:write:chat"}

func main() {
	if err := run(); err != nil {
		slog.Error("Bot terminated", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := credential.NewStore(cfg.EnvFile)
	registry := eventsub.NewRegistry(eventsub.DefaultDefinitions(cfg.BroadcasterID, cfg.BotUserID)...)

	authManager, err := auth.NewManager(store, registry, auth.Options{
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		TokenURL:       cfg.TokenURL,
		ValidateURL:    cfg.ValidateURL,
		AuthorizeURL:   cfg.AuthorizeURL,
		CallbackPort:   cfg.CallbackPort,
		DefaultScopes:  defaultScopes,
		BrowserCommand: cfg.BrowserCommand,
	})
	if err != nil {
		return fmt.Errorf("failed to create auth manager: %w", err)
	}

	client, err := twitch.NewClient(authManager, twitch.Options{
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		APIBaseURL:    cfg.HelixURL,
		BotUserID:     cfg.BotUserID,
		BroadcasterID: cfg.BroadcasterID,
		ChatPrefix:    cfg.ChatPrefix,
	})
	if err != nil {
		return fmt.Errorf("failed to create twitch client: %w", err)
	}

	if err := registry.Register("channel.chat.message", app.LogChatMessages()); err != nil {
		return err
	}
	if err := registry.Register("channel.follow", app.ThankForFollow(client)); err != nil {
		return err
	}

	dispatcher := eventsub.NewDispatcher(registry)
	channel := eventsub.NewChannel(cfg.EventSubURL, registry, client, dispatcher)

	supervisor := app.NewSupervisor(authManager, channel, retry.Policy{
		MaxAttempts:    cfg.ReconnectMaxAttempts,
		InitialBackoff: cfg.ReconnectInitialBackoff,
		MaxBackoff:     cfg.ReconnectMaxBackoff,
	})

	if cfg.AdminAddr != "" {
		adminServer := admin.NewServer(cfg.AdminAddr)
		go func() {
			if err := adminServer.Start(); err != nil {
				slog.Error("Admin server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := adminServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("Admin server shutdown failed", "error", err)
			}
		}()
	}

	err = supervisor.Run(ctx)

	// Let in-flight handlers finish before exiting.
	dispatcher.Wait()
	return err
}
