// Command relay ferries fully-signed attestation requests from Ledger L
// onto Chain E (or the reverse, depending on RELAY_DIRECTION). One
// process runs per direction.
package main

import (
	"context"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/joho/godotenv"

	"github.com/ligun0805/ctn-bridge/internal/chainclient"
	"github.com/ligun0805/ctn-bridge/internal/config"
	"github.com/ligun0805/ctn-bridge/internal/health"
	"github.com/ligun0805/ctn-bridge/internal/ledger"
	"github.com/ligun0805/ctn-bridge/internal/obslog"
	"github.com/ligun0805/ctn-bridge/internal/obsmetrics"
	"github.com/ligun0805/ctn-bridge/internal/relaynode"
	"github.com/ligun0805/ctn-bridge/internal/shutdown"
)

func main() {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	obs := config.LoadObservabilityConfig()
	obslog.Init("relay", obslog.ParseLevel(obs.LogLevel), obs.LogFormat)
	logger := obslog.New("relay")

	cfg, err := config.LoadRelaySettings()
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

	rpcURLs := append([]string{cfg.Chain.RPCURL}, cfg.Chain.FallbackRPCURLs...)
	chainClient, err := chainclient.Dial(ctx, rpcURLs, cfg.Chain.ContractAddress, uint64(cfg.Chain.Confirmations), cfg.FailoverThreshold, logger)
	if err != nil {
		logger.Crit("failed to dial chain E", "reason", err)
		os.Exit(1)
	}
	defer chainClient.Close()

	node, err := relaynode.New(relaynode.Config{
		Party:                cfg.Ledger.Party,
		AttestationTemplate:  ledger.TemplateID(cfg.AttestationTemplate),
		ContractAddress:      cfg.Chain.ContractAddress,
		ValidatorAddresses:   cfg.ValidatorAddresses,
		BatchLimit:           cfg.BatchLimit,
		ProcessedSetCapacity: cfg.ProcessedSetCapacity,
		SubmitterKeyHex:      cfg.SubmitterKeyHex,
	}, ledgerClient, chainClient, logger)
	if err != nil {
		logger.Crit("failed to construct relay node", "reason", err)
		os.Exit(1)
	}

	if err := node.PinValidatorRoles(ctx); err != nil {
		logger.Crit("validator role pinning failed", "reason", err)
		os.Exit(1)
	}
	if err := node.BootRecovery(ctx, cfg.BootRecoveryBlockWindow, cfg.BootRecoveryChunkSize); err != nil {
		logger.Crit("boot recovery failed", "reason", err)
		os.Exit(1)
	}

	logger.Info("relay starting", "direction", cfg.Direction, "template", cfg.AttestationTemplate, "pollInterval", cfg.PollInterval)
	runLoop(ctx, ctrl, logger, cfg.PollInterval, func(ctx context.Context) error {
		err := node.RunCycle(ctx)
		if _, rerr := chainClient.NoteCycleResult(ctx, err); rerr != nil {
			logger.Warn("provider failover bookkeeping failed", "reason", rerr)
		}
		return err
	})
	ctrl.Drain()
	logger.Info("relay stopped")
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
