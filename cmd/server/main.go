package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"ozonbot/internal/bootstrap"
	"ozonbot/internal/config"
	apphttp "ozonbot/internal/http"
	"ozonbot/internal/integrations/telegram"
	"ozonbot/internal/logger"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.New(cfg.LogLevel, cfg.AppEnv)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("bootstrap failed", zap.Error(err))
	}
	defer app.Close()

	deps := apphttp.Deps{
		Credentials: app.Credentials,
		Sessions:    app.Sessions,
		Verifier:    app.Verifier,
		Analytics:   app.Analytics,
		Settings:    app.Settings,
		Costs:       app.Store,
		EventLog:    app.Store,
		Events:      app.Events,
		Jobs:        app.Jobs,
		Tracker:     app.Tracker,
	}
	if app.Adapter != nil {
		deps.Bot = app.Adapter
	}
	srv := apphttp.NewServer(cfg, deps, lg.Named("http"))

	if app.BotAPI != nil {
		startBot(ctx, app, lg)
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		lg.Info("ozonbot API listening", zap.String("addr", cfg.ListenAddr), zap.Bool("demo_mode", cfg.DemoMode))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		lg.Warn("graceful shutdown failed", zap.Error(err))
	}
	srv.Wait()
	lg.Info("stopped")
}

// startBot registers the webhook when PUBLIC_BASE_URL is set and falls back
// to long polling otherwise.
func startBot(ctx context.Context, app *bootstrap.App, lg *zap.Logger) {
	if app.Config.PublicBaseURL != "" {
		if err := telegram.SetWebhook(app.BotAPI, app.Config.PublicBaseURL); err != nil {
			lg.Error("webhook registration failed", zap.Error(err))
			return
		}
		lg.Info("telegram webhook registered")
		return
	}
	if err := telegram.DeleteWebhook(app.BotAPI); err != nil {
		lg.Warn("could not clear webhook before polling", zap.Error(err))
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := app.BotAPI.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		app.BotAPI.StopReceivingUpdates()
	}()
	go app.Adapter.Run(ctx, updates)
	lg.Info("telegram bot polling", zap.String("bot", app.BotAPI.Self.UserName))
}
