// Command validator runs the independent-verification, threshold-signing
// half of the bridge: it polls Ledger L for candidate attestation
// requests, re-derives the global asset total from the authoritative
// asset API, and signs through an HSM (or KMS-backed) key when every
// envelope check passes.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/ethereum/go-ethereum/log"
	"github.com/joho/godotenv"

	"github.com/ligun0805/ctn-bridge/internal/assetapi"
	"github.com/ligun0805/ctn-bridge/internal/config"
	"github.com/ligun0805/ctn-bridge/internal/health"
	"github.com/ligun0805/ctn-bridge/internal/ledger"
	"github.com/ligun0805/ctn-bridge/internal/obslog"
	"github.com/ligun0805/ctn-bridge/internal/obsmetrics"
	"github.com/ligun0805/ctn-bridge/internal/shutdown"
	"github.com/ligun0805/ctn-bridge/internal/signer"
	"github.com/ligun0805/ctn-bridge/internal/validatornode"
)

func main() {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	obs := config.LoadObservabilityConfig()
	obslog.Init("validator", obslog.ParseLevel(obs.LogLevel), obs.LogFormat)
	logger := obslog.New("validator")

	cfg, err := config.LoadValidatorSettings()
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

	hsm, err := buildSigner(ctx, cfg)
	if err != nil {
		logger.Crit("failed to construct signer", "reason", err)
		os.Exit(1)
	}

	ledgerClient := ledger.New(ledger.Config{
		BaseURL:   cfg.Ledger.BaseURL(),
		Token:     cfg.Ledger.TokenEnv,
		UserID:    cfg.Ledger.Party,
		Party:     cfg.Ledger.Party,
		PackageID: cfg.Ledger.PackageID,
	}, logger)
	assetsClient := assetapi.New(cfg.AssetAPIBaseURL, cfg.AssetAPIToken, 10*time.Second, logger)

	node := validatornode.New(validatornode.Config{
		Party:                cfg.Ledger.Party,
		AttestationTemplate:  ledger.TemplateID(cfg.AttestationTemplate),
		TemplateAllowlist:    cfg.TemplateAllowlist,
		ContractAddress:      cfg.Chain.ContractAddress,
		ChainID:              cfg.Chain.ChainID.Int64(),
		ToleranceAbsoluteCap: cfg.AssetToleranceAbsoluteCap,
		MaxSignsPerWindow:    cfg.MaxSignsPerWindow,
		SigningWindow:        cfg.SigningWindow,
		MaxJumpBps:           cfg.MaxJumpBps,
		SignedSetCapacity:    10_000,
		PrimaryKeyID:         cfg.HSM.KeyID,
		RotationKeyID:        cfg.HSM.RotationKeyID,
	}, ledgerClient, assetsClient, hsm, logger)

	go serveAdmin(ctx, get("ADMIN_ADDR", ":8082"), node, logger)

	logger.Info("validator starting", "party", cfg.Ledger.Party, "template", cfg.AttestationTemplate, "pollInterval", cfg.PollInterval)
	runLoop(ctx, ctrl, logger, cfg.PollInterval, node.RunCycle)
	ctrl.Drain()
	logger.Info("validator stopped")
}

// runLoop implements the cooperative fetch-evaluate-act-sleep scheduling
// every daemon in this repo shares: one cycle runs to completion, then the
// loop sleeps for interval or returns early on shutdown.
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

// serveAdmin exposes the key-rotation trigger operators need, per
// spec.md §4.2's "Key rotation" subsection. Rotation state lives
// in-process on *validatornode.Node, so this has to be a handler on the
// running validator rather than a separate CLI binary.
func serveAdmin(ctx context.Context, addr string, node *validatornode.Node, logger log.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/rotate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := node.Rotation().ActivateRotation(r.Context()); err != nil {
			logger.Error("key rotation activation failed", "reason", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/admin/revert", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		node.Rotation().RevertToPrimary()
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("admin server exited", "reason", err)
	}
}

func get(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func buildSigner(ctx context.Context, cfg config.ValidatorSettings) (signer.Signer, error) {
	if cfg.HSM.Kind == config.SignerKindRawKey {
		return signer.NewRawKeySigner(cfg.HSM.RawKeyHex)
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.HSM.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return signer.NewKMSSigner(kms.NewFromConfig(awsCfg)), nil
}
