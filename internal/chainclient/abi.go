package chainclient

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// contractABI is the subset of Chain E's attestation contract spec.md §6
// names: processAttestation, currentNonce, minSignatures,
// usedAttestationIds, hasRole.
const contractABIJSON = `[
  {"type":"function","stateMutability":"nonpayable","name":"processAttestation",
   "inputs":[
     {"name":"attestation","type":"tuple","components":[
       {"name":"id","type":"bytes32"},
       {"name":"cantonAssets","type":"uint256"},
       {"name":"nonce","type":"uint256"},
       {"name":"timestamp","type":"uint256"},
       {"name":"entropy","type":"bytes32"},
       {"name":"cantonStateHash","type":"bytes32"}
     ]},
     {"name":"sigs","type":"bytes[]"}
   ],"outputs":[]},
  {"type":"function","stateMutability":"view","name":"currentNonce","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","stateMutability":"view","name":"minSignatures","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","stateMutability":"view","name":"usedAttestationIds","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","stateMutability":"view","name":"hasRole","inputs":[{"name":"role","type":"bytes32"},{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"AttestationReceived","anonymous":false,"inputs":[{"name":"id","type":"bytes32","indexed":true}]}
]`

var contractABI = mustParseABI(contractABIJSON)

func mustParseABI(j string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(j))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ValidatorRole is the access-control role id the relay pins configured
// validator addresses against at start-up.
var ValidatorRole = crypto.Keccak256Hash([]byte("VALIDATOR_ROLE"))

// AttestationTuple mirrors the on-chain struct processAttestation expects.
// abi.Pack binds tuple components to struct fields by name: each component
// matches the field named by its camel-cased name or by an `abi` tag, so
// ID carries a tag for the "id" component.
type AttestationTuple struct {
	ID              [32]byte `abi:"id"`
	CantonAssets    *big.Int
	Nonce           *big.Int
	Timestamp       *big.Int
	Entropy         [32]byte
	CantonStateHash [32]byte
}
