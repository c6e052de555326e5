package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"edugate/internal/alerts"
	"edugate/internal/channel"
	"edugate/internal/config"
	"edugate/internal/domain"
	"edugate/internal/jobs"
	"edugate/internal/pipeline"
	"edugate/internal/session"
)

// routeLog stands in for a navigation surface when edugate runs headless:
// forced-logout redirects become log lines instead of page changes.
type routeLog struct {
	logger  *slog.Logger
	current string
}

func (r *routeLog) Current() string { return r.current }

func (r *routeLog) Navigate(route string) {
	r.current = route
	r.logger.Info("navigate", "route", route)
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := config.LoadDotEnv(".env"); err != nil {
		logger.Warn("failed to load .env", "error", err)
	}
	cfg := config.Load()

	var vault *session.Vault
	if cfg.VaultPath != "" && cfg.VaultKey != "" {
		v, err := session.OpenVault(cfg.VaultPath, cfg.VaultKey)
		if err != nil {
			logger.Error("open vault", "error", err)
			os.Exit(1)
		}
		vault = v
	} else {
		logger.Info("vault not configured, session will not survive restarts")
	}
	store, err := session.NewStore(vault)
	if err != nil {
		logger.Error("open session store", "error", err)
		os.Exit(1)
	}

	var notifier pipeline.Notifier = alerts.NewLog(logger)
	if cfg.AlertWebhookURL != "" {
		notifier = alerts.NewWebhook(cfg.AlertWebhookURL)
	}
	nav := &routeLog{logger: logger, current: cfg.LoginRoute}

	client := pipeline.NewClient(pipeline.Options{
		BaseURL:     cfg.APIBaseURL,
		LoginPath:   cfg.LoginPath,
		RefreshPath: cfg.RefreshPath,
		LoginRoute:  cfg.LoginRoute,
		Restricted:  cfg.RestrictedPrefixes,
		Timeout:     cfg.HTTPTimeout,
		DeviceLabel: cfg.DeviceLabel,
	}, store, notifier, nav, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.AgentUsername != "" {
		profile, err := client.Login(ctx, cfg.AgentUsername, cfg.AgentPassword, cfg.AgentRemember)
		if err != nil {
			logger.Error("login", "error", err)
			os.Exit(1)
		}
		logger.Info("logged in", "username", profile.FullName, "role", string(profile.Role))
	}

	onChannelError := func(err error) {
		notifier.Notify(ctx, err.Error())
	}

	chat := channel.NewChat(channel.Options{
		URL:      cfg.ChatHubURL,
		Tokens:   store.TokenSource(),
		Backoff:  cfg.ReconnectBackoff,
		Debounce: cfg.DebounceWindow,
		Logger:   logger,
		OnError:  onChannelError,
	})
	notify := channel.NewNotifications(channel.Options{
		URL:      cfg.NotifyHubURL,
		Tokens:   store.TokenSource(),
		Backoff:  cfg.ReconnectBackoff,
		Debounce: cfg.DebounceWindow,
		Logger:   logger,
		OnError:  onChannelError,
	})

	chat.OnMessageBatch(func(events []domain.Event) {
		logger.Info("chat messages", "count", len(events))
	})
	notify.OnNotificationBatch(func(events []domain.Event) {
		logger.Info("notifications", "count", len(events))
	})

	correlator := jobs.NewCorrelator(jobs.Options{
		Logger:    logger,
		FollowUps: jobs.WithTimeout(jobs.ReportFollowUps(client), cfg.FollowUpTimeout),
		OnChange: func(s domain.JobProgress) {
			logger.Info("job progress",
				"job_id", s.ActiveJobID,
				"percent", s.Percent,
				"stage", string(s.Stage),
				"busy", s.Busy)
		},
	})
	correlator.Attach(ctx, notify)

	chat.Connect()
	notify.Connect()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	chat.Disconnect()
	notify.Disconnect()
	logger.Info("shut down")
}
