package attestation

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// packUint256 renders x as a 32-byte big-endian word, matching the target
// contract's abi.encodePacked(uint256) layout.
func packUint256(x *big.Int) []byte {
	if x == nil {
		x = big.NewInt(0)
	}
	return common.LeftPadBytes(x.Bytes(), 32)
}

func packInt64(x int64) []byte {
	return packUint256(big.NewInt(x))
}

func packAddress(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 20)
}

// CanonicalID derives the deterministic on-chain attestation id, spec.md
// §3: H(nonce, globalAssets_fixed18, expiresAt-TTL, entropy, stateHash,
// chainId, targetContractAddress).
func CanonicalID(p Payload, targetContract common.Address) [32]byte {
	buf := make([]byte, 0, 32*6+20)
	buf = append(buf, packUint256(new(big.Int).SetUint64(p.Nonce))...)
	buf = append(buf, packUint256(p.GlobalAssets)...)
	buf = append(buf, packInt64(p.DerivedTimestamp())...)
	buf = append(buf, p.Entropy[:]...)
	buf = append(buf, p.StateHash[:]...)
	buf = append(buf, packInt64(p.ChainID)...)
	buf = append(buf, packAddress(targetContract)...)
	return crypto.Keccak256Hash(buf)
}

// SigningDigest computes the digest a validator signs,
// spec.md §4.2 step 6: pack (id, assets, nonce, derivedTimestamp, entropy,
// stateHash, chainId, contractAddress) with the same hash function used
// for CanonicalID, then apply the personal-message wrapping step.
func SigningDigest(id [32]byte, p Payload, targetContract common.Address) []byte {
	buf := make([]byte, 0, 32*6+20)
	buf = append(buf, id[:]...)
	buf = append(buf, packUint256(p.GlobalAssets)...)
	buf = append(buf, packUint256(new(big.Int).SetUint64(p.Nonce))...)
	buf = append(buf, packInt64(p.DerivedTimestamp())...)
	buf = append(buf, p.Entropy[:]...)
	buf = append(buf, p.StateHash[:]...)
	buf = append(buf, packInt64(p.ChainID)...)
	buf = append(buf, packAddress(targetContract)...)
	raw := crypto.Keccak256(buf)
	// Personal-message wrap: "\x19Ethereum Signed Message:\n32" + raw,
	// then keccak256 — accounts.TextHash implements exactly this framing.
	return accounts.TextHash(raw)
}
