package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ozonbot/internal/bootstrap"
	"ozonbot/internal/config"
	"ozonbot/internal/logger"
	"ozonbot/internal/service/jobs"
)

// taskPurgeSessions deletes expired API sessions; it needs no Ozon access.
const taskPurgeSessions = "purge-sessions"

func main() {
	task := flag.String("task", "", fmt.Sprintf("job to run once: %s, %s, %s or %s",
		jobs.JobRefresh, jobs.JobDailyReports, jobs.JobCheckThresholds, taskPurgeSessions))
	timeout := flag.Duration("timeout", 30*time.Minute, "upper bound for the whole run")
	flag.Parse()
	if *task == "" {
		flag.Usage()
		os.Exit(2)
	}

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
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	app, err := bootstrap.Build(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("bootstrap failed", zap.Error(err))
	}
	if *task == taskPurgeSessions {
		n, err := app.Sessions.Purge(ctx)
		app.Close()
		if err != nil {
			lg.Error("purge sessions failed", zap.Error(err))
			os.Exit(1)
		}
		lg.Info("expired sessions purged", zap.Int64("count", n))
		return
	}

	res, err := app.Jobs.Run(ctx, *task)
	app.Close()
	if err != nil {
		lg.Error("job failed", zap.String("task", *task), zap.Error(err))
		os.Exit(1)
	}
	lg.Info("job done",
		zap.String("task", res.Job),
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed),
	)
}
