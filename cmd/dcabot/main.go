// Package main is the entry point for the DCA investment bot.
// It parses command-line flags, loads configuration and strategies, and
// runs the investment coordinator until a shutdown signal arrives.
//
// Usage:
//
//	dcabot --config configs/config.yaml
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

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dcabot/internal/bot"
	"dcabot/internal/domain"
	"dcabot/internal/exchange"
	"dcabot/internal/exchange/binance"
	"dcabot/internal/ledger"
	"dcabot/internal/notify"
	"dcabot/pkg/config"
)

// connectRetryDelay is the pause between connection attempts at startup.
const connectRetryDelay = 10 * time.Second

// configPath is the path to the YAML configuration file.
var configPath string

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment variables")
	}
	flag.StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("bot terminated", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.Bool("testnet", cfg.Exchange.Testnet))

	strategies, err := domain.LoadStrategies(cfg.Bot.StrategyFile)
	if err != nil {
		return err
	}
	for _, s := range strategies {
		logger.Info("strategy loaded",
			zap.String("symbol", s.Symbol),
			zap.String("amount", s.Amount.String()),
			zap.String("interval", string(s.Interval)),
			zap.Time("investment_start", s.InvestmentStart()))
	}

	gw, err := newGateway(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := connect(ctx, gw, logger); err != nil {
		return err
	}
	defer gw.Disconnect()

	led := ledger.New(cfg.Bot.OrderFile, logger)

	coordinator := bot.New(bot.Config{
		CheckInterval: cfg.CheckInterval(),
	}, gw, strategies, led, newNotifier(cfg, logger), logger)

	return coordinator.Run(ctx)
}

// newGateway builds the exchange gateway from configuration. API credentials
// are read from BINANCE_API_KEY / BINANCE_API_SECRET.
func newGateway(cfg *config.Config, logger *zap.Logger) (exchange.Gateway, error) {
	switch cfg.Exchange.Name {
	case "binance":
		return binance.NewAdapter(binance.Config{
			APIKey:    os.Getenv("BINANCE_API_KEY"),
			APISecret: os.Getenv("BINANCE_API_SECRET"),
			Testnet:   cfg.Exchange.Testnet,
			RateLimit: cfg.Exchange.RateLimit,
			Logger:    logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown exchange: %s", cfg.Exchange.Name)
	}
}

// connect establishes the gateway connection, retrying on transient network
// failures until ctx is cancelled.
func connect(ctx context.Context, gw exchange.Gateway, logger *zap.Logger) error {
	for {
		err := gw.Connect(ctx)
		if err == nil {
			return nil
		}
		if !exchange.IsTransient(err) {
			return err
		}
		logger.Warn("no internet connection, retrying",
			zap.Duration("retry_delay", connectRetryDelay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(connectRetryDelay):
		}
	}
}

// newNotifier picks the notification sink from configuration: webhook when
// enabled, otherwise the application log.
func newNotifier(cfg *config.Config, logger *zap.Logger) notify.Notifier {
	if cfg.Notification != nil && cfg.Notification.Webhook.Enabled {
		return notify.NewWebhook(cfg.Notification.Webhook.URL, logger)
	}
	return notify.NewLog(logger)
}

// newLogger builds the zap logger from the configured environment and level.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	if cfg.IsProduction() {
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(level)
		return zc.Build()
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
