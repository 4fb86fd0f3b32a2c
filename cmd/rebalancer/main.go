// Command rebalancer watches a set of vaults' loan-to-value ratio and
// rebalances any that drift outside the configured target band.
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
	"github.com/ligun0805/ctn-bridge/internal/obslog"
	"github.com/ligun0805/ctn-bridge/internal/obsmetrics"
	"github.com/ligun0805/ctn-bridge/internal/rebalancer"
	"github.com/ligun0805/ctn-bridge/internal/shutdown"
)

func main() {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	obs := config.LoadObservabilityConfig()
	obslog.Init("rebalancer", obslog.ParseLevel(obs.LogLevel), obs.LogFormat)
	logger := obslog.New("rebalancer")

	cfg, err := config.LoadRebalancerSettings()
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

	manager, err := rebalancer.Dial(ctx, cfg.Chain.RPCURL, cfg.VaultManagerAddress)
	if err != nil {
		logger.Crit("failed to dial vault manager", "reason", err)
		os.Exit(1)
	}
	defer manager.Close()

	operatorKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.OperatorKeyHex, "0x"))
	if err != nil {
		logger.Crit("failed to parse operator key", "reason", err)
		os.Exit(1)
	}

	var sink alert.Sink = alert.NoopSink{}
	if cfg.TelegramBotToken != "" {
		sink = alert.NewTelegramSink(cfg.TelegramBotToken, cfg.TelegramChatID, logger)
	}

	node := rebalancer.New(manager, cfg.Chain.ChainID, operatorKey, sink, logger, cfg.MonitoredVaults, cfg.TargetLtvBps, cfg.SafetyBufferBps)

	logger.Info("rebalancer starting", "vaults", len(cfg.MonitoredVaults), "pollInterval", cfg.PollInterval)
	runLoop(ctx, ctrl, logger, cfg.PollInterval, node.RunCycle)
	ctrl.Drain()
	logger.Info("rebalancer stopped")
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
