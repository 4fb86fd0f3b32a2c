// Command oracle runs the dual-source price feed: it fetches a symbol's
// price from a primary AMM source and a JWT-authenticated fallback
// ticker, cross-checks divergence and per-update drift, and publishes
// accepted prices to the configured PriceFeed contract on Ledger L.
package main

import (
	"context"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/joho/godotenv"

	"github.com/ligun0805/ctn-bridge/internal/alert"
	"github.com/ligun0805/ctn-bridge/internal/config"
	"github.com/ligun0805/ctn-bridge/internal/health"
	"github.com/ligun0805/ctn-bridge/internal/ledger"
	"github.com/ligun0805/ctn-bridge/internal/obslog"
	"github.com/ligun0805/ctn-bridge/internal/obsmetrics"
	"github.com/ligun0805/ctn-bridge/internal/oracle"
	"github.com/ligun0805/ctn-bridge/internal/shutdown"
)

func main() {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	obs := config.LoadObservabilityConfig()
	obslog.Init("oracle", obslog.ParseLevel(obs.LogLevel), obs.LogFormat)
	logger := obslog.New("oracle")

	cfg, err := config.LoadOracleSettings()
	if err != nil {
		logger.Crit("invalid configuration", "reason", err)
		os.Exit(1)
	}

	ctrl := shutdown.New(time.Duration(cfg.Shutdown.DrainTimeoutMs) * time.Millisecond)
	defer ctrl.Stop()
	ctx := ctrl.Context()

	go func() {
		if err := health.Serve(ctx, obs.HealthAddr, ctrl); err != nil {
			logger.Error("health server exited", "reason", err)
		}
	}()
	go func() {
		if err := obsmetrics.Serve(ctx, obs.MetricsAddr); err != nil {
			logger.Error("metrics server exited", "reason", err)
		}
	}()

	ledgerClient := ledger.New(ledger.Config{
		BaseURL:   cfg.Ledger.BaseURL(),
		Token:     cfg.Ledger.TokenEnv,
		UserID:    cfg.Ledger.Party,
		Party:     cfg.Ledger.Party,
		PackageID: cfg.Ledger.PackageID,
	}, logger)

	primary := oracle.NewAMMSource(cfg.PrimarySourceURL, logger)
	fallback := oracle.NewJWTSource(cfg.FallbackSourceURL, cfg.FallbackJWTSecret, logger)
	publisher := oracle.NewLedgerPublisher(ledgerClient, ledger.TemplateID(cfg.PriceFeedTemplate))

	var sink alert.Sink = alert.NoopSink{}
	if get("ALERT_TELEGRAM_BOT_TOKEN", "") != "" {
		sink = alert.NewTelegramSink(get("ALERT_TELEGRAM_BOT_TOKEN", ""), get("ALERT_TELEGRAM_CHAT_ID", ""), logger)
	}

	stable := make(map[string]bool, len(cfg.StableSymbols))
	for _, s := range cfg.StableSymbols {
		stable[s] = true
	}

	pipeline := oracle.New(oracle.Config{
		DivergenceThresholdPct: cfg.DivergenceThresholdPct,
		MaxChangePerUpdatePct:  cfg.MaxChangePerUpdatePct,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		RelaxAfterNRejections:  cfg.RelaxAfterNRejections,
		MinPriceUSD:            cfg.MinPriceUSD,
		MaxPriceUSD:            cfg.MaxPriceUSD,
		StableSymbols:          stable,
	}, primary, fallback, publisher, sink, logger)

	for _, symbol := range cfg.Symbols {
		if stable[symbol] {
			if err := pipeline.InitStableSymbol(ctx, symbol); err != nil {
				logger.Warn("stable symbol initialization failed", "symbol", symbol, "reason", err)
			}
		}
	}

	logger.Info("oracle starting", "symbols", cfg.Symbols, "pollInterval", cfg.PollInterval)
	runLoop(ctx, ctrl, logger, cfg.PollInterval, func(ctx context.Context) error {
		for _, symbol := range cfg.Symbols {
			if err := pipeline.RunCycle(ctx, symbol); err != nil {
				logger.Warn("oracle cycle failed for symbol", "symbol", symbol, "reason", err)
			}
		}
		return nil
	})
	ctrl.Drain()
	logger.Info("oracle stopped")
}

// get reads an environment variable directly; the Telegram alert sink is
// optional and outside OracleSettings' own validated surface.
func get(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func runLoop(ctx context.Context, ctrl *shutdown.Controller, logger log.Logger, interval time.Duration, cycle func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		ctrl.TrackStart("cycle")
		if err := cycle(ctx); err != nil {
			logger.Warn("cycle failed", "reason", err)
		}
		ctrl.TrackDone("cycle")

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
