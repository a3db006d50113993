package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/revclaw/revclaw/internal/app"
	"github.com/revclaw/revclaw/internal/config"
	"github.com/revclaw/revclaw/internal/observability/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.example.yaml", "Path al YAML de configuración")
	flag.Parse()

	// .env es opcional; en prod las env vars vienen del entorno real.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.L().Fatal("config load failed", logger.Err(err))
	}

	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "revclaw"})
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.L().Fatal("bootstrap failed", logger.Err(err))
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Server.Run(gctx) })

	if err := g.Wait(); err != nil {
		logger.L().Fatal("server exited", logger.Err(err))
	}
}
