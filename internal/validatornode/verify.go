package validatornode

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ligun0805/ctn-bridge/internal/assetapi"
	"github.com/ligun0805/ctn-bridge/internal/attestation"
)

// VerificationError distinguishes a deliberate rejection (bad data, failed
// invariant) from a transient failure (network, HTTP error), which
// VerifyAuthoritative returns as a plain wrapped error. RunCycle logs and
// skips the candidate in either case.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string {
	return "validatornode: verification rejected: " + e.Reason
}

func reject(format string, args ...any) error {
	return &VerificationError{Reason: fmt.Sprintf(format, args...)}
}

// VerifyAuthoritative re-verifies a candidate payload against the
// authoritative asset API, per spec.md §4.2 step 4. contractAddress is
// the configured chain-E attestation contract this validator is willing
// to sign for; toleranceAbsoluteCap is the absolute-cap half of the
// tolerance formula min(0.1% of snapshot value, absolute-cap).
func VerifyAuthoritative(ctx context.Context, assets *assetapi.Client, payload attestation.Payload, contractAddress common.Address, toleranceAbsoluteCap *big.Int) error {
	snapshot, err := assets.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("validatornode: fetch authoritative snapshot: %w", err)
	}

	snapshotValues := make(map[string]*big.Int, len(snapshot.Assets))
	for _, a := range snapshot.Assets {
		v, err := attestation.ParseFixed18(a.CurrentValue)
		if err != nil {
			return fmt.Errorf("validatornode: authoritative snapshot asset %s has malformed currentValue: %w", a.AssetID, err)
		}
		snapshotValues[a.AssetID] = v
	}

	sum := big.NewInt(0)
	for _, ref := range payload.Assets {
		snapVal, ok := snapshotValues[ref.AssetID]
		if !ok {
			return reject("referenced asset %s not present in authoritative snapshot", ref.AssetID)
		}
		if !withinTolerance(ref.DeclaredValue, snapVal, toleranceAbsoluteCap) {
			return reject("asset %s declared value %s diverges from snapshot value %s beyond tolerance", ref.AssetID, ref.DeclaredValue, snapVal)
		}
		sum.Add(sum, ref.DeclaredValue)
	}
	if sum.Cmp(payload.GlobalAssets) != 0 {
		return reject("sum of per-asset declared values %s does not equal payload's declared total %s", sum, payload.GlobalAssets)
	}

	if payload.IncludedAssetsValue.Cmp(payload.RequiredCollateral()) < 0 {
		return reject("includedAssetsValue %s below required collateral %s", payload.IncludedAssetsValue, payload.RequiredCollateral())
	}

	if !strings.EqualFold(payload.TargetBridgeAddress, contractAddress.Hex()) {
		return reject("targetBridgeAddress %s does not match configured chain-E contract %s", payload.TargetBridgeAddress, contractAddress.Hex())
	}

	stateHashHex := "0x" + common.Bytes2Hex(payload.StateHash[:])
	valid, err := assets.VerifyStateHash(ctx, stateHashHex)
	if err != nil {
		return fmt.Errorf("validatornode: verifyStateHash call failed: %w", err)
	}
	if !valid {
		return reject("authoritative API rejected stateHash %s", stateHashHex)
	}
	return nil
}

func withinTolerance(declared, snapshot, absoluteCap *big.Int) bool {
	diff := new(big.Int).Sub(declared, snapshot)
	diff.Abs(diff)

	relative := new(big.Int).Abs(snapshot)
	relative.Div(relative, big.NewInt(1000)) // 0.1% == 1/1000

	tolerance := relative
	if absoluteCap != nil && absoluteCap.Cmp(tolerance) < 0 {
		tolerance = absoluteCap
	}
	return diff.Cmp(tolerance) <= 0
}
