package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"exchange_bridge/internal/alert"
	"exchange_bridge/internal/balance"
	"exchange_bridge/internal/bootstrap"
	"exchange_bridge/internal/bridge"
	"exchange_bridge/internal/core"
	"exchange_bridge/internal/fills"
	"exchange_bridge/internal/gateway/bitz"
	"exchange_bridge/internal/infrastructure/metrics"
	"exchange_bridge/internal/lifecycle"
	"exchange_bridge/internal/mock"
	"exchange_bridge/pkg/stream"

	"golang.org/x/time/rate"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")
	useMock    = flag.Bool("mock", false, "Use the in-memory mock gateway instead of the real venue")
)

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func main() {
	flag.Parse()

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}

	app, err := bootstrap.NewApp(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}
	logger := app.Logger
	cfg := app.Cfg

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.Telemetry.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err.Error())
		}
	}()

	var gw core.IExchangeGateway
	if *useMock {
		logger.Info("using mock gateway")
		gw = mock.NewGateway("mock")
	} else {
		gw = bitz.NewGateway(cfg.Venue, ms(cfg.Timing.RequestTimeout), logger)
	}

	orders := lifecycle.NewManager(gw, logger, lifecycle.Config{
		Pair:                  cfg.Trading.Pair,
		CreateRetryDelay:      ms(cfg.Timing.OrderRetryDelay),
		SelfTradePollInterval: ms(cfg.Timing.SelfTradePoll),
		CancelRetryDelay:      ms(cfg.Timing.OrderRetryDelay),
		RateLimit:             rate.Limit(cfg.Trading.RateLimit),
		RateBurst:             cfg.Trading.RateBurst,
	})
	balances := balance.NewCache(gw, logger, ms(cfg.Timing.BalanceRefresh))
	reconciler := fills.NewReconciler(gw, orders, logger, cfg.Trading.Pair)

	streamClient := stream.NewClient(cfg.Venue.WsURL, stream.GorillaDialer{}, logger)
	streamClient.SetTiming(
		ms(cfg.Timing.ConnectTimeout),
		ms(cfg.Timing.ReconnectDelay),
		ms(cfg.Timing.PingInterval),
	)

	alerts := alert.NewAlertManager(logger)
	if hook := cfg.Alerts.SlackWebhook.Reveal(); hook != "" {
		alerts.AddChannel(alert.NewSlackChannel(hook))
	}
	if token := cfg.Alerts.TelegramToken.Reveal(); token != "" {
		alerts.AddChannel(alert.NewTelegramChannel(token, cfg.Alerts.TelegramChatID))
	}

	svc := bridge.NewService(cfg, gw, orders, balances, reconciler, streamClient, alerts, logger)

	runners := []bootstrap.Runner{svc, balances}
	if cfg.Telemetry.EnableMetrics {
		metricsServer := metrics.NewServer(cfg.Telemetry.MetricsPort, logger)
		runners = append(runners, bootstrap.RunnerFunc(func(ctx context.Context) error {
			metricsServer.Start()
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Stop(stopCtx)
		}))
	}

	if err := app.Run(runners...); err != nil {
		logger.Error("bridge exited with error", "error", err.Error())
		os.Exit(1)
	}
}
