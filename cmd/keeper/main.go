// Command keeper watches a set of lending vaults' health factor and
// liquidates any that drop below the configured critical threshold,
// alerting at both the warning and critical thresholds.
package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/joho/godotenv"

	"github.com/ligun0805/ctn-bridge/internal/alert"
	"github.com/ligun0805/ctn-bridge/internal/config"
	"github.com/ligun0805/ctn-bridge/internal/health"
	"github.com/ligun0805/ctn-bridge/internal/keeper"
	"github.com/ligun0805/ctn-bridge/internal/mevrelay"
	"github.com/ligun0805/ctn-bridge/internal/obslog"
	"github.com/ligun0805/ctn-bridge/internal/obsmetrics"
	"github.com/ligun0805/ctn-bridge/internal/shutdown"
)

func main() {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	obs := config.LoadObservabilityConfig()
	obslog.Init("keeper", obslog.ParseLevel(obs.LogLevel), obs.LogFormat)
	logger := obslog.New("keeper")

	cfg, err := config.LoadKeeperSettings()
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

	pool, err := keeper.Dial(ctx, cfg.Chain.RPCURL, cfg.LendingPoolAddress)
	if err != nil {
		logger.Crit("failed to dial lending pool", "reason", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.PrivateRelayURL != "" {
		relay, err := mevrelay.NewClient(cfg.PrivateRelayURL, cfg.PrivateRelayAuthKeyHex)
		if err != nil {
			logger.Crit("failed to construct private relay client", "reason", err)
			os.Exit(1)
		}
		pool.SetPrivateRelay(relay)
		logger.Info("liquidations will route through private relay", "url", cfg.PrivateRelayURL)
	}

	operatorKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.OperatorKeyHex, "0x"))
	if err != nil {
		logger.Crit("failed to parse operator key", "reason", err)
		os.Exit(1)
	}

	var sink alert.Sink = alert.NoopSink{}
	if cfg.TelegramBotToken != "" {
		sink = alert.NewTelegramSink(cfg.TelegramBotToken, cfg.TelegramChatID, logger)
	}

	node := keeper.New(pool, cfg.Chain.ChainID, operatorKey, sink, logger, cfg.MonitoredVaults, cfg.WarnHFBps(), cfg.CriticalHFBps())

	logger.Info("keeper starting", "vaults", len(cfg.MonitoredVaults), "pollInterval", cfg.PollInterval)
	runLoop(ctx, ctrl, logger, cfg.PollInterval, node.RunCycle)
	ctrl.Drain()
	logger.Info("keeper stopped")
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
